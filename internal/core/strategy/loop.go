// Package strategy 实现套利策略主循环。
// 订单簿写入聚合器时，若策略运行中则同步检测该交易对的机会并暂存；
// 每个 tick：拉取行情 → 写入聚合器（触发检测）→ 并发执行暂存机会的买卖两条腿 → 更新统计与风控。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/signal"
	"cross-exchange-arbitrage/internal/core/store"
	"cross-exchange-arbitrage/internal/stats/equity"
)

// State 策略状态
type State string

const (
	// StateStopped 已停止
	StateStopped State = "stopped"
	// StateRunning 运行中
	StateRunning State = "running"
	// StatePaused 已暂停（行情继续拉取，不执行）
	StatePaused State = "paused"
)

// Executor 下单执行器（模拟器或实盘协调器）
type Executor interface {
	PlaceOrder(ctx context.Context, venue string, order model.LimitOrder) (*model.OrderResponse, error)
}

// MarketFeed 行情源
type MarketFeed interface {
	// Books 返回自上次调用以来更新过的订单簿快照
	Books(ctx context.Context) ([]*model.OrderBook, error)
}

// PnLSource 组合盈亏来源
type PnLSource interface {
	TotalPnL() float64
}

// MarketDataSink 需要同步行情的执行器（如模拟器）
type MarketDataSink interface {
	UpdateMarketData(book *model.OrderBook)
}

// ExecutionRecord 单个机会的执行结果
type ExecutionRecord struct {
	// Opportunity 机会
	Opportunity model.Opportunity `json:"opportunity"`
	// Buy 买入腿响应（失败时为 nil）
	Buy *model.OrderResponse `json:"buy,omitempty"`
	// Sell 卖出腿响应（失败时为 nil）
	Sell *model.OrderResponse `json:"sell,omitempty"`
	// Err 腿错误
	Err error `json:"-"`
	// Error 错误描述
	Error string `json:"error,omitempty"`
	// ExecutedAt 执行时间
	ExecutedAt time.Time `json:"executed_at"`
}

// Observer 策略事件观察者（成交日志、指标、状态发布）
// 回调在策略 goroutine 中同步调用，实现方不应阻塞。
type Observer interface {
	OnOpportunity(op model.Opportunity)
	OnExecution(rec ExecutionRecord)
	OnStatistics(stats Statistics)
}

// Statistics 策略统计
type Statistics struct {
	// State 当前状态
	State State `json:"state"`
	// OpportunitiesDetected 累计检测到的机会
	OpportunitiesDetected int64 `json:"opportunities_detected"`
	// OpportunitiesExecuted 两条腿均成功的机会
	OpportunitiesExecuted int64 `json:"opportunities_executed"`
	// ExecutionErrors 执行失败的机会
	ExecutionErrors int64 `json:"execution_errors"`
	// TotalPnL 总盈亏
	TotalPnL float64 `json:"total_pnl"`
	// TotalVolume 成交名义价值（按买入价）
	TotalVolume float64 `json:"total_volume"`
	// AvgSpreadBps 已执行机会的平均价差（滚动均值）
	AvgSpreadBps float64 `json:"avg_spread_bps"`
	// SuccessRate 执行数 / 检测数，检测数为 0 时为 0
	SuccessRate float64 `json:"success_rate"`
	// UptimeSecs 运行时长（秒）
	UptimeSecs float64 `json:"uptime_secs"`
	// LastExecution 最近一次成功执行时间
	LastExecution time.Time `json:"last_execution"`
	// MaxDrawdownPct 最大回撤比例
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	// DailyLoss 当日亏损
	DailyLoss float64 `json:"daily_loss"`
	// TotalMakerRebates Maker 腿累计返佣（负费率时为正，按正费率付费时为负）
	TotalMakerRebates float64 `json:"total_maker_rebates"`
	// TotalTakerFees Taker 腿累计手续费
	TotalTakerFees float64 `json:"total_taker_fees"`
	// HaltReason 风控暂停原因
	HaltReason string `json:"halt_reason,omitempty"`
}

// Options 策略参数
type Options struct {
	// Symbols 监控交易对
	Symbols []string
	// TickInterval 循环间隔
	TickInterval time.Duration
	// MakerVenue 挂单交易所，该交易所的腿以 GTX（只做 Maker）下单
	MakerVenue string
	// TimeInForce 对冲（Taker）腿的下单有效方式
	TimeInForce model.TimeInForce
	// MaxPerTick 单个 tick 最多执行的机会数，0 表示不限制
	MaxPerTick int
	// Limits 风控限额
	Limits equity.Limits
	// InitialEquity 初始权益，用于回撤比例
	InitialEquity float64
}

// OptionsFromConfig 从配置构建策略参数
func OptionsFromConfig(cfg *config.Config) Options {
	initial := 0.0
	for cur, v := range cfg.Simulation.InitialBalances {
		switch cur {
		case "USDT", "USD", "USDC":
			initial += v
		}
	}
	return Options{
		Symbols:      cfg.Strategy.Symbols(),
		MakerVenue:   strings.ToLower(cfg.Exchanges.Primary),
		TickInterval: time.Duration(cfg.Strategy.TickIntervalMs) * time.Millisecond,
		TimeInForce:  model.ParseTimeInForce(cfg.Strategy.TimeInForce),
		MaxPerTick:   cfg.Strategy.MaxConcurrentPositions,
		Limits: equity.Limits{
			MaxDrawdownPct: cfg.Risk.MaxDrawdown,
			DailyLossLimit: cfg.Risk.DailyLossLimit,
		},
		InitialEquity: initial,
	}
}

// Loop 策略主循环
type Loop struct {
	opts      Options
	logger    *zap.Logger
	agg       *store.Aggregator
	detector  *signal.Detector
	exec      Executor
	feed      MarketFeed
	observers []Observer

	mu        sync.RWMutex
	state     State
	stats     Statistics
	startedAt time.Time
	curve     *equity.Curve
	// pending 各交易对最近一次更新检测出的机会，等待下个 tick 执行
	pending map[string][]model.Opportunity
}

// New 创建策略循环
// 同时在聚合器上注册更新回调：策略运行中写入订单簿会同步触发该交易对的检测。
// 参数 feed: 行情源，可为 nil（行情由外部直接写入聚合器）
func New(opts Options, agg *store.Aggregator, detector *signal.Detector, exec Executor, feed MarketFeed, logger *zap.Logger, observers ...Observer) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.TimeInForce == "" {
		opts.TimeInForce = model.TIFIOC
	}
	l := &Loop{
		opts:      opts,
		logger:    logger.Named("strategy"),
		agg:       agg,
		detector:  detector,
		exec:      exec,
		feed:      feed,
		observers: observers,
		state:     StateStopped,
		curve:     equity.NewCurve(opts.InitialEquity, 0),
		pending:   make(map[string][]model.Opportunity),
	}
	if agg != nil {
		agg.AddUpdateHook(l.OnBook)
	}
	return l
}

// OnBook 订单簿更新回调
// 仅在运行状态下对该交易对同步检测，结果替换该交易对的暂存机会。
func (l *Loop) OnBook(book *model.OrderBook) {
	if book == nil || l.State() != StateRunning || !l.monitors(book.Symbol) {
		return
	}
	ops := l.detector.Detect([]string{book.Symbol})

	l.mu.Lock()
	l.stats.OpportunitiesDetected += int64(len(ops))
	if len(ops) > 0 {
		l.pending[book.Symbol] = ops
	} else {
		delete(l.pending, book.Symbol)
	}
	l.mu.Unlock()

	for _, op := range ops {
		for _, o := range l.observers {
			o.OnOpportunity(op)
		}
	}
}

func (l *Loop) monitors(symbol string) bool {
	for _, s := range l.opts.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// takePending 取出并清空暂存机会
func (l *Loop) takePending() []model.Opportunity {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ops []model.Opportunity
	for sym, batch := range l.pending {
		ops = append(ops, batch...)
		delete(l.pending, sym)
	}
	return ops
}

// State 返回当前状态
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Start Stopped → Running
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStopped {
		return fmt.Errorf("策略状态为 %s，无法启动", l.state)
	}
	l.state = StateRunning
	l.startedAt = time.Now()
	l.stats.HaltReason = ""
	l.logger.Info("策略已启动", zap.Strings("symbols", l.opts.Symbols))
	return nil
}

// Stop Running/Paused → Stopped
// 暂停状态也允许直接停止，便于信号退出与风控暂停后的收尾。
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		return
	}
	l.state = StateStopped
	clear(l.pending)
	l.logger.Info("策略已停止")
}

// Pause Running → Paused
func (l *Loop) Pause() error {
	return l.pause("")
}

func (l *Loop) pause(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return fmt.Errorf("策略状态为 %s，无法暂停", l.state)
	}
	l.state = StatePaused
	l.stats.HaltReason = reason
	if reason != "" {
		l.logger.Warn("触发风控，策略暂停", zap.String("reason", reason))
	} else {
		l.logger.Info("策略已暂停")
	}
	return nil
}

// Resume Paused → Running，同时清除风控暂停原因
func (l *Loop) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePaused {
		return fmt.Errorf("策略状态为 %s，无法恢复", l.state)
	}
	l.state = StateRunning
	l.stats.HaltReason = ""
	l.logger.Info("策略已恢复")
	return nil
}

// Run 启动并按固定间隔执行 tick，直到 ctx 结束、Stop 被调用或行情源返回 io.EOF（回放结束）
func (l *Loop) Run(ctx context.Context) error {
	if l.State() == StateStopped {
		if err := l.Start(); err != nil {
			return err
		}
	}
	defer l.Stop()

	ticker := time.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		switch l.State() {
		case StateStopped:
			return nil
		case StatePaused:
			// 暂停时仍同步行情，恢复后可立即检测
			if err := l.pullMarketData(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					l.logger.Info("行情源已耗尽")
					return nil
				}
				l.logger.Warn("拉取行情失败", zap.Error(err))
			}
			continue
		}

		if err := l.Tick(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				l.logger.Info("行情源已耗尽")
				return nil
			}
			l.logger.Warn("策略 tick 失败", zap.Error(err))
		}
	}
}

// Tick 执行一轮：行情（写入时触发检测）→ 执行暂存机会 → 统计 → 风控
// 腿失败只计数与记录日志，不中断循环。
func (l *Loop) Tick(ctx context.Context) error {
	if err := l.pullMarketData(ctx); err != nil {
		return err
	}

	ops := l.takePending()
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].ExpectedProfit > ops[j].ExpectedProfit })
	if l.opts.MaxPerTick > 0 && len(ops) > l.opts.MaxPerTick {
		ops = ops[:l.opts.MaxPerTick]
	}

	for _, op := range ops {
		if ctx.Err() != nil || l.State() != StateRunning {
			break
		}
		buy, sell, err := l.ExecuteOpportunity(ctx, op)
		rec := ExecutionRecord{Opportunity: op, Buy: buy, Sell: sell, Err: err, ExecutedAt: time.Now()}
		if err != nil {
			rec.Error = err.Error()
		}
		l.recordExecution(op, buy, sell, err)
		for _, o := range l.observers {
			o.OnExecution(rec)
		}
	}

	l.refreshStatistics()
	return nil
}

func (l *Loop) pullMarketData(ctx context.Context) error {
	if l.feed == nil {
		return nil
	}
	books, err := l.feed.Books(ctx)
	if err != nil {
		return fmt.Errorf("拉取行情失败: %w", err)
	}
	sink, _ := l.exec.(MarketDataSink)
	for _, b := range books {
		l.agg.Update(b)
		if sink != nil {
			sink.UpdateMarketData(b)
		}
	}
	return nil
}

// legTIF 挂单交易所的腿只做 Maker，另一条腿按对冲方式下单
func (l *Loop) legTIF(venue string) model.TimeInForce {
	if l.opts.MakerVenue != "" && venue == l.opts.MakerVenue {
		return model.TIFGTX
	}
	return l.opts.TimeInForce
}

// ExecuteOpportunity 并发提交买卖两条腿
// 两条腿均提交后才等待结果；失败的腿以 *LegError 返回，两条都失败时合并。
func (l *Loop) ExecuteOpportunity(ctx context.Context, op model.Opportunity) (buy, sell *model.OrderResponse, err error) {
	buyOrder := op.BuyOrder(l.legTIF(op.BuyVenue))
	buyOrder.ClientOrderID = "arb_buy_" + uuid.NewString()
	sellOrder := op.SellOrder(l.legTIF(op.SellVenue))
	sellOrder.ClientOrderID = "arb_sell_" + uuid.NewString()

	var buyErr, sellErr error
	var g errgroup.Group
	g.Go(func() error {
		buy, buyErr = l.exec.PlaceOrder(ctx, op.BuyVenue, buyOrder)
		return nil
	})
	g.Go(func() error {
		sell, sellErr = l.exec.PlaceOrder(ctx, op.SellVenue, sellOrder)
		return nil
	})
	_ = g.Wait()

	var errs []error
	if buyErr != nil {
		errs = append(errs, &LegError{Leg: LegBuy, Venue: op.BuyVenue, Symbol: op.Symbol, Err: buyErr})
	}
	if sellErr != nil {
		errs = append(errs, &LegError{Leg: LegSell, Venue: op.SellVenue, Symbol: op.Symbol, Err: sellErr})
	}
	err = errors.Join(errs...)

	if err != nil {
		l.logger.Error("套利执行失败",
			zap.String("symbol", op.Symbol),
			zap.String("buy_venue", op.BuyVenue),
			zap.String("sell_venue", op.SellVenue),
			zap.Error(err))
	} else {
		l.logger.Info("套利执行成功",
			zap.String("symbol", op.Symbol),
			zap.String("buy_order", buy.OrderID),
			zap.String("sell_order", sell.OrderID),
			zap.Int64("spread_bps", op.SpreadBps),
			zap.Float64("expected_profit", op.ExpectedProfit))
	}
	return buy, sell, err
}

func (l *Loop) recordExecution(op model.Opportunity, buy, sell *model.OrderResponse, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	legs := [...]struct {
		venue string
		resp  *model.OrderResponse
	}{{op.BuyVenue, buy}, {op.SellVenue, sell}}
	for _, leg := range legs {
		if leg.resp == nil {
			continue
		}
		if l.legTIF(leg.venue).IsPostOnly() {
			l.stats.TotalMakerRebates -= leg.resp.Fee
		} else {
			l.stats.TotalTakerFees += leg.resp.Fee
		}
	}
	if err != nil {
		l.stats.ExecutionErrors++
		return
	}
	l.stats.OpportunitiesExecuted++
	n := float64(l.stats.OpportunitiesExecuted)
	l.stats.AvgSpreadBps += (float64(op.SpreadBps) - l.stats.AvgSpreadBps) / n
	l.stats.TotalVolume += op.Quantity * op.BuyPrice
	l.stats.LastExecution = time.Now()
	if _, ok := l.exec.(PnLSource); !ok {
		l.stats.TotalPnL += op.ExpectedProfit
	}
}

// refreshStatistics 刷新派生统计并检查风控限额
func (l *Loop) refreshStatistics() {
	now := time.Now()

	l.mu.Lock()
	if src, ok := l.exec.(PnLSource); ok {
		l.stats.TotalPnL = src.TotalPnL()
	}
	if l.stats.OpportunitiesDetected > 0 {
		l.stats.SuccessRate = float64(l.stats.OpportunitiesExecuted) / float64(l.stats.OpportunitiesDetected)
	}
	if !l.startedAt.IsZero() {
		l.stats.UptimeSecs = now.Sub(l.startedAt).Seconds()
	}
	l.curve.Add(l.stats.TotalPnL, now)
	es := l.curve.Stats()
	l.stats.MaxDrawdownPct = es.MaxDrawdownPct
	l.stats.DailyLoss = es.DailyLoss
	reason := l.opts.Limits.Breach(es)
	running := l.state == StateRunning
	l.mu.Unlock()

	if reason != "" && running {
		_ = l.pause(reason)
	}

	stats := l.Statistics()
	for _, o := range l.observers {
		o.OnStatistics(stats)
	}
}

// Statistics 返回统计快照
func (l *Loop) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := l.stats
	out.State = l.state
	return out
}
