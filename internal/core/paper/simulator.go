package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/stats/equity"
	"cross-exchange-arbitrage/internal/util/timeutil"
)

// maxHistory 保留的成交历史条数上限
const maxHistory = 10000

// Options 模拟参数
type Options struct {
	// Seed 随机种子，0 表示按当前时间播种
	Seed int64
	// OrderTimeout 下单超时，模拟延迟基准为其 1/10
	OrderTimeout time.Duration
	// SlippageTolerance 滑点上限（比例）
	SlippageTolerance float64
	// EnableFees 是否计算手续费
	EnableFees bool
	// MakerFee Maker 费率（GTX 订单）
	MakerFee float64
	// TakerFee Taker 费率
	TakerFee float64
	// EnableDelays 是否模拟延迟
	EnableDelays bool
	// EnableMarketImpact 是否模拟市场冲击
	EnableMarketImpact bool
	// ImpactFactor 冲击系数
	ImpactFactor float64
	// PartialFills 是否模拟部分成交
	PartialFills bool
	// PartialFillProbability 部分成交概率
	PartialFillProbability float64
	// MinFillRatio 部分成交最小比例
	MinFillRatio float64
	// RejectProbability 拒单概率
	RejectProbability float64
	// InitialBalances 初始余额
	InitialBalances map[string]float64
}

// OptionsFromConfig 从配置构建模拟参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Seed:                   cfg.Simulation.Seed,
		OrderTimeout:           time.Duration(cfg.Execution.OrderTimeoutMs) * time.Millisecond,
		SlippageTolerance:      cfg.Execution.SlippageTolerance,
		EnableFees:             cfg.Simulation.FeesEnabled(),
		MakerFee:               cfg.Simulation.MakerFee,
		TakerFee:               cfg.Simulation.TakerFee,
		EnableDelays:           cfg.Simulation.EnableDelays,
		EnableMarketImpact:     cfg.Simulation.EnableMarketImpact,
		ImpactFactor:           cfg.Simulation.ImpactFactor,
		PartialFills:           cfg.Simulation.EnablePartialFills || cfg.Execution.AllowPartialFills,
		PartialFillProbability: cfg.Simulation.PartialFillProbability,
		MinFillRatio:           cfg.Simulation.MinFillRatio,
		RejectProbability:      cfg.Simulation.RejectProbability,
		InitialBalances:        cfg.Simulation.InitialBalances,
	}
}

// Fill 单笔模拟成交记录
type Fill struct {
	model.OrderResponse
	// LatencyMs 执行耗时（毫秒）
	LatencyMs float64 `json:"latency_ms"`
	// PnLAfter 成交后的组合 PnL
	PnLAfter float64 `json:"pnl_after"`
}

// Simulator dry-run 模拟执行器
// 所有状态由同一把锁保护，Reset 对并发调用方表现为原子操作。
type Simulator struct {
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	portfolio *Portfolio
	books     map[string]map[string]*model.OrderBook // venue -> symbol -> book
	lastPx    map[string]float64
	history   []Fill
	metrics   PerformanceMetrics
	curve     *equity.Curve
}

// NewSimulator 创建模拟执行器
// 参数 opts: 模拟参数
// 参数 logger: 日志记录器
func NewSimulator(opts Options, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialBalances == nil {
		opts.InitialBalances = map[string]float64{"USDT": 100000, "BTC": 0, "ETH": 0}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulator{
		opts:   opts,
		logger: logger.Named("simulator"),
		rng:    rand.New(rand.NewSource(seed)),
	}
	s.resetLocked()
	return s
}

func (s *Simulator) resetLocked() {
	s.portfolio = NewPortfolio(s.opts.InitialBalances)
	s.books = make(map[string]map[string]*model.OrderBook)
	s.lastPx = make(map[string]float64)
	s.history = nil
	s.metrics = PerformanceMetrics{}
	s.curve = equity.NewCurve(s.portfolio.InitialCash(), 0)
}

// Reset 清空组合、历史、绩效与行情缓存
func (s *Simulator) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.logger.Info("模拟器已重置")
}

// UpdateMarketData 更新缓存行情（保存拷贝）
func (s *Simulator) UpdateMarketData(book *model.OrderBook) {
	if book == nil {
		return
	}
	snap := book.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.books[snap.Venue]
	if m == nil {
		m = make(map[string]*model.OrderBook)
		s.books[snap.Venue] = m
	}
	m[snap.Symbol] = snap
}

// Execute 模拟执行限价单（不指定交易所）
func (s *Simulator) Execute(ctx context.Context, order model.LimitOrder) (*model.OrderResponse, error) {
	return s.PlaceOrder(ctx, "", order)
}

// PlaceOrder 在指定交易所模拟执行限价单
// 步骤: 拒单 → 延迟 → 滑点/冲击/盘口约束 → 部分成交 → 手续费 → 组合 → 历史与绩效
// 参数 venue: 交易所，为空时使用任一缓存了该交易对的交易所行情做价格约束
func (s *Simulator) PlaceOrder(ctx context.Context, venue string, order model.LimitOrder) (*model.OrderResponse, error) {
	start := time.Now()
	if order.Quantity <= 0 || order.Price <= 0 {
		return nil, model.Errorf(model.KindTrading, "simulate_order",
			"非法订单: qty=%f price=%f", order.Quantity, order.Price)
	}
	// 非法订单在任何随机抽样之前拒绝，不影响固定种子下后续订单的结果
	if order.Side != model.SideBuy && order.Side != model.SideSell {
		return nil, model.Errorf(model.KindTrading, "simulate_order", "未知方向: %s", order.Side)
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxError(err, venue, order.Symbol)
	}

	s.mu.Lock()
	if s.opts.RejectProbability > 0 && s.rng.Float64() < s.opts.RejectProbability {
		s.metrics.RejectedOrders++
		s.mu.Unlock()
		s.logger.Warn("模拟拒单",
			zap.String("venue", venue),
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)))
		return nil, &model.Error{Kind: model.KindTrading, Op: "simulate_order",
			Venue: venue, Symbol: order.Symbol, Err: model.ErrSimulatedReject}
	}
	var delay time.Duration
	if s.opts.EnableDelays && s.opts.OrderTimeout > 0 {
		jitter := 0.5 + s.rng.Float64()
		delay = time.Duration(float64(s.opts.OrderTimeout/10) * jitter)
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctxError(ctx.Err(), venue, order.Symbol)
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price := s.executionPrice(venue, order)
	qty := s.fillQuantity(order.Quantity)
	notional := qty * price

	fee := 0.0
	if s.opts.EnableFees {
		rate := s.opts.TakerFee
		if order.TimeInForce.IsPostOnly() {
			rate = s.opts.MakerFee
		}
		fee = notional * rate
	}

	quote := QuoteAsset(order.Symbol)
	switch order.Side {
	case model.SideBuy:
		s.portfolio.UpdatePosition(order.Symbol, qty)
		s.portfolio.UpdateBalance(quote, -(notional + fee))
	case model.SideSell:
		s.portfolio.UpdatePosition(order.Symbol, -qty)
		s.portfolio.UpdateBalance(quote, notional-fee)
	}
	s.lastPx[order.Symbol] = price

	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		return nil, fmt.Errorf("生成订单号失败: %w", err)
	}
	resp := model.OrderResponse{
		OrderID:        id.String(),
		ClientOrderID:  order.ClientOrderID,
		Venue:          venue,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		Price:          order.Price,
		Status:         model.StatusForFill(qty, order.Quantity),
		FilledQuantity: qty,
		AveragePrice:   price,
		Fee:            fee,
		TimestampNs:    timeutil.NowNano(),
	}

	now := time.Now()
	pnl := s.portfolio.PnL(s.markPricesLocked())
	s.curve.Add(pnl, now)
	latencyMs := float64(now.Sub(start)) / float64(time.Millisecond)

	s.metrics.record(latencyMs, notional, fee, qty > 0)
	cs := s.curve.Stats()
	s.metrics.SharpeRatio = cs.Sharpe
	s.metrics.MaxDrawdown = cs.MaxDrawdown
	s.metrics.MaxDrawdownPct = cs.MaxDrawdownPct

	s.history = append(s.history, Fill{OrderResponse: resp, LatencyMs: latencyMs, PnLAfter: pnl})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}

	s.logger.Debug("模拟成交",
		zap.String("venue", venue),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Float64("fee", fee),
		zap.Float64("pnl", pnl),
	)

	out := resp
	return &out, nil
}

// executionPrice 计算成交价
// 滑点与冲击均向不利方向偏移，最后受盘口约束：买入不低于卖一，卖出不高于买一。
func (s *Simulator) executionPrice(venue string, order model.LimitOrder) float64 {
	price := order.Price
	sign := order.Side.Sign()

	if s.opts.SlippageTolerance > 0 {
		price *= 1 + sign*s.rng.Float64()*s.opts.SlippageTolerance
	}
	if s.opts.EnableMarketImpact && s.opts.ImpactFactor > 0 {
		price *= 1 + sign*order.Quantity*s.opts.ImpactFactor
	}

	if book := s.bookLocked(venue, order.Symbol); book != nil {
		switch order.Side {
		case model.SideBuy:
			if ask, ok := book.BestAsk(); ok {
				price = math.Max(price, ask.Price)
			}
		case model.SideSell:
			if bid, ok := book.BestBid(); ok {
				price = math.Min(price, bid.Price)
			}
		}
	}
	return price
}

// fillQuantity 计算成交数量
func (s *Simulator) fillQuantity(qty float64) float64 {
	if !s.opts.PartialFills || s.opts.PartialFillProbability <= 0 {
		return qty
	}
	if s.rng.Float64() >= s.opts.PartialFillProbability {
		return qty
	}
	minRatio := math.Min(math.Max(s.opts.MinFillRatio, 0), 1)
	ratio := minRatio + s.rng.Float64()*(1-minRatio)
	return qty * ratio
}

// bookLocked 查找用于价格约束的订单簿
// 优先使用指定交易所，否则按交易所名称顺序取第一个包含该交易对的订单簿。
func (s *Simulator) bookLocked(venue, symbol string) *model.OrderBook {
	if m := s.books[venue]; m != nil {
		if b := m[symbol]; b != nil {
			return b
		}
	}
	venues := make([]string, 0, len(s.books))
	for v := range s.books {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	for _, v := range venues {
		if b := s.books[v][symbol]; b != nil {
			return b
		}
	}
	return nil
}

// markPricesLocked 计算各交易对标记价
// 取所有交易所中间价的均值，无行情时使用最近成交价。
func (s *Simulator) markPricesLocked() map[string]float64 {
	sum := make(map[string]float64)
	cnt := make(map[string]int)
	for _, m := range s.books {
		for sym, b := range m {
			if mid := b.MidPrice(); mid > 0 {
				sum[sym] += mid
				cnt[sym]++
			}
		}
	}
	out := make(map[string]float64, len(sum)+len(s.lastPx))
	for sym, px := range s.lastPx {
		out[sym] = px
	}
	for sym, v := range sum {
		out[sym] = v / float64(cnt[sym])
	}
	return out
}

// Portfolio 返回组合快照
func (s *Simulator) Portfolio() *Portfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolio.Clone()
}

// Position 获取交易对仓位
func (s *Simulator) Position(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolio.Position(symbol)
}

// Balance 获取币种余额
func (s *Simulator) Balance(currency string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolio.Balance(currency)
}

// TotalPnL 按当前标记价计算总盈亏
func (s *Simulator) TotalPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolio.PnL(s.markPricesLocked())
}

// TotalFees 累计手续费
func (s *Simulator) TotalFees() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.TotalFees
}

// Metrics 返回绩效快照
func (s *Simulator) Metrics() PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Equity 返回权益曲线统计
func (s *Simulator) Equity() equity.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curve.Stats()
}

// History 返回成交历史拷贝（按时间顺序）
func (s *Simulator) History() []Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Fill, len(s.history))
	copy(out, s.history)
	return out
}

func ctxError(err error, venue, symbol string) error {
	kind := model.KindTrading
	if errors.Is(err, context.DeadlineExceeded) {
		kind = model.KindTimeout
	}
	return &model.Error{Kind: kind, Op: "simulate_order", Venue: venue, Symbol: symbol, Err: err}
}
