package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cross-exchange-arbitrage/internal/cache"
	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/metadata"
	"cross-exchange-arbitrage/internal/util/sign"
)

func cmdValidate(g *globalFlags, args []string) int {
	var checkMetadata bool
	if err := parseSub(g, "validate", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&checkMetadata, "check-metadata", false, "拉取交易所交易规则并检查交易对")
	}); err != nil {
		return exitUsage
	}

	cfg, ok := loadConfig(g)
	if !ok {
		return exitFailure
	}
	printSummary(os.Stdout, cfg)

	if checkMetadata {
		ctx, cancel := signalContext()
		defer cancel()
		fetcher := metadata.NewHTTPFetcher(cfg.Exchanges.Venue(cfg.Exchanges.Primary).TimeoutMs)
		catalog, err := metadata.BuildCatalog(ctx, cfg, fetcher)
		if err != nil {
			fmt.Fprintf(os.Stderr, "交易规则检查失败: %v\n", err)
			return exitFailure
		}
		for _, venue := range catalog.Venues() {
			for _, sym := range cfg.Strategy.Symbols() {
				inst, _ := catalog.Get(venue, sym)
				fmt.Printf("  %-8s %-10s tick=%s step=%s min_qty=%s min_notional=%s\n",
					venue, inst.Symbol, inst.TickSize, inst.StepSize, inst.MinQty, inst.MinNotional)
			}
		}
	}
	fmt.Println("配置有效")
	return exitOK
}

// printSummary 输出配置摘要，凭证只显示前缀
func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "应用:       %s (log_level=%s)\n", cfg.App.Name, cfg.App.LogLevel)
	fmt.Fprintf(w, "交易对:     %s\n", strings.Join(cfg.Strategy.Symbols(), ", "))
	fmt.Fprintf(w, "交易所:     %s (maker=%s taker=%s)\n",
		strings.Join(cfg.Exchanges.Enabled, ", "), cfg.Exchanges.Primary, cfg.Exchanges.Secondary())
	fmt.Fprintf(w, "策略:       min_spread_bps=%d max_position_size=%g tick=%dms tif=%s\n",
		cfg.Strategy.MinSpreadBps, cfg.Strategy.MaxPositionSize, cfg.Strategy.TickIntervalMs, cfg.Strategy.TimeInForce)
	fmt.Fprintf(w, "风控:       max_drawdown=%g daily_loss_limit=%g position_limit=%g\n",
		cfg.Risk.MaxDrawdown, cfg.Risk.DailyLossLimit, cfg.Risk.PositionLimit)
	fmt.Fprintf(w, "执行:       timeout=%dms retries=%d retry_delay=%dms\n",
		cfg.Execution.OrderTimeoutMs, cfg.Execution.MaxRetryAttempts, cfg.Execution.RetryDelayMs)
	for _, venue := range cfg.Exchanges.Enabled {
		vc := cfg.Exchanges.Venue(venue)
		if vc == nil {
			continue
		}
		key := "未配置"
		if vc.HasCredentials() {
			key = sign.Redact(vc.APIKey)
		}
		fmt.Fprintf(w, "  %-8s ws=%s rest=%s maker=%g taker=%g api_key=%s\n",
			venue, vc.WS.URL, vc.RestURL, vc.Fees.MakerRate, vc.Fees.TakerRate, key)
	}
}

func cmdStatus(g *globalFlags, args []string) int {
	if err := parseSub(g, "status", args, nil); err != nil {
		return exitUsage
	}
	cfg, ok := loadConfig(g)
	if !ok {
		return exitFailure
	}
	if !cfg.Redis.Enabled {
		fmt.Println("未启用 Redis 状态发布（redis.enabled=false），无法读取运行状态")
		return exitOK
	}

	client := cache.NewClient(cfg.Redis)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := cache.ReadStatus(ctx, client, cfg.Redis.KeyPrefix)
	if errors.Is(err, cache.ErrNoStatus) {
		fmt.Println("策略未运行（没有最近发布的状态）")
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取状态失败: %v\n", err)
		return exitFailure
	}
	opps, err := cache.RecentOpportunities(ctx, client, cfg.Redis.KeyPrefix, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取最近机会失败: %v\n", err)
		return exitFailure
	}

	out, _ := json.MarshalIndent(struct {
		*cache.Status
		RecentOpportunities any `json:"recent_opportunities,omitempty"`
	}{Status: st, RecentOpportunities: opps}, "", "  ")
	fmt.Println(string(out))
	return exitOK
}
