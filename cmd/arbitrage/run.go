package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/live"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/paper"
	sigengine "cross-exchange-arbitrage/internal/core/signal"
	"cross-exchange-arbitrage/internal/core/store"
	"cross-exchange-arbitrage/internal/core/strategy"
	"cross-exchange-arbitrage/internal/exchange/binance"
	"cross-exchange-arbitrage/internal/exchange/bybit"
	"cross-exchange-arbitrage/internal/feed"
	"cross-exchange-arbitrage/internal/metadata"
)

// signalContext SIGINT/SIGTERM 取消的根上下文
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// bootstrap 加载配置并创建日志记录器
func bootstrap(g *globalFlags) (*config.Config, *zap.Logger, bool) {
	cfg, ok := loadConfig(g)
	if !ok {
		return nil, nil, false
	}
	logger, err := newLogger(cfg.App.LogLevel, g.logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, false
	}
	return cfg, logger.Named(cfg.App.Name), true
}

func cmdDryRun(g *globalFlags, args []string) int {
	var liveData bool
	var startDate, endDate string
	if err := parseSub(g, "dry-run", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&liveData, "live-data", false, "使用交易所实时深度行情")
		fs.StringVar(&startDate, "start-date", "", "回放起始日期 YYYY-MM-DD（使用 simulation.replay_file）")
		fs.StringVar(&endDate, "end-date", "", "回放结束日期 YYYY-MM-DD（含当天）")
	}); err != nil {
		return exitUsage
	}

	cfg, logger, ok := bootstrap(g)
	if !ok {
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, "dry-run", logger)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		return exitFailure
	}

	mf, closeFeed, err := dryRunFeed(ctx, cfg, rt, liveData, startDate, endDate, logger)
	if err != nil {
		logger.Error("创建行情源失败", zap.Error(err))
		cancel()
		rt.shutdown(nil)
		return exitFailure
	}
	defer closeFeed()

	sim := paper.NewSimulator(paper.OptionsFromConfig(cfg), logger)
	detector := sigengine.NewDetector(sigengine.ParamsFromConfig(cfg), rt.agg, logger)
	loop := strategy.New(strategy.OptionsFromConfig(cfg), rt.agg, detector, sim, mf, logger, rt.observers...)

	logger.Warn("DRY-RUN 模式：所有订单均为模拟成交，不会提交到交易所")
	rt.startSampler(ctx, loop, mf)

	if err := loop.Run(ctx); err != nil {
		logger.Error("策略异常退出", zap.Error(err))
	}
	cancel()

	pm := sim.Metrics()
	st := loop.Statistics()
	logger.Info("模拟结果",
		zap.Int64("opportunities", st.OpportunitiesDetected),
		zap.Int64("executed", st.OpportunitiesExecuted),
		zap.Int64("orders", pm.TotalOrders),
		zap.Int64("rejected", pm.RejectedOrders),
		zap.Float64("total_pnl", sim.TotalPnL()),
		zap.Float64("total_fees", pm.TotalFees),
		zap.Float64("sharpe", pm.SharpeRatio),
		zap.Float64("max_drawdown_pct", pm.MaxDrawdownPct))
	rt.shutdown(nil)
	return exitOK
}

// dryRunFeed 选择行情源：指定日期时回放，--live-data 时实时，否则合成
func dryRunFeed(ctx context.Context, cfg *config.Config, rt *runtime, liveData bool, startDate, endDate string, logger *zap.Logger) (strategy.MarketFeed, func(), error) {
	switch {
	case startDate != "" || endDate != "":
		if cfg.Simulation.ReplayFile == "" {
			return nil, nil, errors.New("按日期回放需要配置 simulation.replay_file")
		}
		from, to, err := feed.ParseDateRange(startDate, endDate)
		if err != nil {
			return nil, nil, err
		}
		rf, err := feed.NewReplayFeed(cfg.Simulation.ReplayFile, feed.ReplayOptions{
			Start: from,
			End:   to,
			Step:  time.Duration(cfg.Strategy.TickIntervalMs) * time.Millisecond,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("使用历史回放行情", zap.String("file", cfg.Simulation.ReplayFile),
			zap.String("start", startDate), zap.String("end", endDate))
		return rf, func() { _ = rf.Close() }, nil

	case liveData:
		lf, err := feed.NewLiveFeedFromConfig(cfg, rt.tracker, logger)
		if err != nil {
			return nil, nil, err
		}
		lf.Start(ctx)
		logger.Info("使用实时行情", zap.Strings("venues", cfg.Exchanges.Enabled))
		return lf, func() { _ = lf.Close() }, nil

	default:
		sf := feed.NewSyntheticFeed(feed.SyntheticOptionsFromConfig(cfg))
		logger.Info("使用合成行情",
			zap.Float64("mid", cfg.Simulation.SyntheticMidPrice),
			zap.Float64("vol_bps", cfg.Simulation.SyntheticVolBps))
		return sf, func() {}, nil
	}
}

// snapshotSource 可提供 REST 深度快照的连接器
type snapshotSource interface {
	Name() string
	DepthSnapshot(ctx context.Context, symbol string, limit int) (*model.OrderBook, error)
}

func cmdLive(g *globalFlags, args []string) int {
	var skipBalance bool
	if err := parseSub(g, "live", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&skipBalance, "skip-balance-check", false, "跳过启动时的余额检查")
	}); err != nil {
		return exitUsage
	}

	cfg, logger, ok := bootstrap(g)
	if !ok {
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	for _, venue := range cfg.Exchanges.Enabled {
		if vc := cfg.Exchanges.Venue(venue); vc == nil || !vc.HasCredentials() {
			logger.Error("实盘模式需要 API 凭证", zap.String("venue", venue))
			return exitFailure
		}
	}

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	fetcher := metadata.NewHTTPFetcher(cfg.Exchanges.Venue(cfg.Exchanges.Primary).TimeoutMs)
	catalog, err := metadata.BuildCatalog(ctx, cfg, fetcher)
	if err != nil {
		logger.Error("加载交易规则失败", zap.Error(err))
		return exitFailure
	}

	var conns []live.Connector
	var snaps []snapshotSource
	for _, venue := range cfg.Exchanges.Enabled {
		switch strings.ToLower(venue) {
		case model.ExchangeBinance:
			c := binance.NewClient(cfg.Exchanges.Binance, catalog, logger)
			conns, snaps = append(conns, c), append(snaps, c)
		case model.ExchangeBybit:
			c := bybit.NewClient(cfg.Exchanges.Bybit, catalog, logger)
			conns, snaps = append(conns, c), append(snaps, c)
		}
	}

	rt, err := newRuntime(ctx, cfg, "live", logger)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		return exitFailure
	}

	coord := live.NewCoordinator(live.OptionsFromConfig(cfg), conns, rt.tracker, logger)
	fail := func() int {
		cancel()
		rt.shutdown(func(ctx context.Context) { _ = coord.EmergencyShutdown(ctx) })
		return exitFailure
	}
	if err := coord.Connect(ctx); err != nil {
		logger.Error("连接交易所失败", zap.Error(err))
		return fail()
	}

	if !skipBalance {
		balances, err := coord.VerifyBalances(ctx)
		if err != nil {
			logger.Error("余额检查失败", zap.Error(err))
			return fail()
		}
		for venue, bs := range balances {
			for _, b := range bs {
				logger.Info("账户余额", zap.String("venue", venue), zap.String("asset", b.Asset),
					zap.Float64("free", b.Free), zap.Float64("locked", b.Locked))
			}
		}
	}

	seedSnapshots(ctx, snaps, cfg.Strategy.Symbols(), rt.agg, logger)

	lf, err := feed.NewLiveFeedFromConfig(cfg, rt.tracker, logger)
	if err != nil {
		logger.Error("创建行情源失败", zap.Error(err))
		return fail()
	}
	lf.Start(ctx)
	defer func() { _ = lf.Close() }()

	detector := sigengine.NewDetector(sigengine.ParamsFromConfig(cfg), rt.agg, logger)
	loop := strategy.New(strategy.OptionsFromConfig(cfg), rt.agg, detector, live.NewExecutor(coord), lf, logger, rt.observers...)

	logger.Warn("LIVE 模式：订单将提交到交易所", zap.Strings("venues", cfg.Exchanges.Enabled))
	rt.startSampler(ctx, loop, lf)
	rt.goBackground(func() { healthLoop(ctx, cfg, coord, logger) })

	if err := loop.Run(ctx); err != nil {
		logger.Error("策略异常退出", zap.Error(err))
	}
	cancel()

	st := loop.Statistics()
	cs := coord.Statistics()
	logger.Info("实盘结果",
		zap.Int64("opportunities", st.OpportunitiesDetected),
		zap.Int64("executed", st.OpportunitiesExecuted),
		zap.Int64("orders", cs.OrdersPlaced),
		zap.Int64("failed", cs.OrdersFailed),
		zap.Int64("risk_rejections", cs.RiskRejections),
		zap.Float64("total_pnl", coord.TotalPnL()),
		zap.Float64("total_fees", cs.TotalFees))
	rt.shutdown(func(ctx context.Context) { _ = coord.EmergencyShutdown(ctx) })
	return exitOK
}

// seedSnapshots 用 REST 深度快照预热聚合器，失败只记录日志
func seedSnapshots(ctx context.Context, srcs []snapshotSource, symbols []string, agg *store.Aggregator, logger *zap.Logger) {
	var g errgroup.Group
	for _, src := range srcs {
		for _, sym := range symbols {
			src, sym := src, sym
			g.Go(func() error {
				book, err := src.DepthSnapshot(ctx, sym, 20)
				if err != nil {
					logger.Warn("获取深度快照失败", zap.String("venue", src.Name()), zap.String("symbol", sym), zap.Error(err))
					return nil
				}
				agg.Update(book)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// healthLoop 定期检查交易所连通性，对不通的交易所尝试重连
func healthLoop(ctx context.Context, cfg *config.Config, coord *live.Coordinator, logger *zap.Logger) {
	interval := time.Duration(cfg.Monitoring.HealthCheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status, err := coord.CheckConnectivity(ctx)
		if err == nil {
			continue
		}
		logger.Warn("连通性检查失败", zap.Error(err))
		for venue, ok := range status {
			if ok || coord.IsShutdown() {
				continue
			}
			cause := coord.Health()[venue].LastError
			if err := coord.HandleConnectionError(ctx, venue, errors.New(cause)); err != nil {
				logger.Error("重连失败", zap.String("venue", venue), zap.Error(err))
			}
		}
	}
}
