package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/stats/latency"
)

// Options 协调器参数
type Options struct {
	// MaxPositionSize 单交易对跨交易所净仓位上限（基础币）
	MaxPositionSize float64
	// MinOrderSize 最小下单量
	MinOrderSize float64
	// PositionLimitUSD 名义仓位上限，0 表示不限制
	PositionLimitUSD float64
	// OrderTimeout 单次交易所调用超时
	OrderTimeout time.Duration
	// MaxRetryAttempts 最大尝试次数（含首次）
	MaxRetryAttempts int
	// RetryDelay 线性退避步长，第 n 次失败后等待 n × RetryDelay
	RetryDelay time.Duration
}

// OptionsFromConfig 从配置构建协调器参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxPositionSize:  cfg.Strategy.MaxPositionSize,
		MinOrderSize:     cfg.Execution.MinOrderSize,
		PositionLimitUSD: cfg.Risk.PositionLimit,
		OrderTimeout:     time.Duration(cfg.Execution.OrderTimeoutMs) * time.Millisecond,
		MaxRetryAttempts: cfg.Execution.MaxRetryAttempts,
		RetryDelay:       time.Duration(cfg.Execution.RetryDelayMs) * time.Millisecond,
	}
}

// VenueHealth 交易所连接健康状态
type VenueHealth struct {
	// Connected 最近一次检查是否连通
	Connected bool `json:"connected"`
	// LastCheck 最近一次检查时间
	LastCheck time.Time `json:"last_check"`
	// ConsecutiveErrors 连续错误次数
	ConsecutiveErrors int `json:"consecutive_errors"`
	// Reconnects 成功重连次数
	Reconnects int `json:"reconnects"`
	// LastError 最近一次错误
	LastError string `json:"last_error,omitempty"`
}

// Statistics 协调器统计
type Statistics struct {
	// OrdersPlaced 成功提交的订单数
	OrdersPlaced int64 `json:"orders_placed"`
	// OrdersFailed 提交失败的订单数（不含风控拒绝）
	OrdersFailed int64 `json:"orders_failed"`
	// OrdersCanceled 成功撤单数
	OrdersCanceled int64 `json:"orders_canceled"`
	// RiskRejections 风控拒绝数
	RiskRejections int64 `json:"risk_rejections"`
	// Timeouts 超时次数
	Timeouts int64 `json:"timeouts"`
	// Retries 重试次数
	Retries int64 `json:"retries"`
	// FilledVolume 成交名义价值
	FilledVolume float64 `json:"filled_volume"`
	// TotalFees 累计手续费
	TotalFees float64 `json:"total_fees"`
}

type posKey struct {
	venue  string
	symbol string
}

type activeOrder struct {
	venue string
	resp  model.OrderResponse
}

// Coordinator 实盘执行协调器
type Coordinator struct {
	opts       Options
	logger     *zap.Logger
	connectors map[string]Connector
	latency    *latency.Tracker

	shutdown atomic.Bool

	mu        sync.RWMutex
	positions map[posKey]*model.Position
	active    map[string]activeOrder
	health    map[string]*VenueHealth
	stats     Statistics

	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator 创建协调器
// 参数 opts: 协调器参数
// 参数 connectors: 交易所连接器，按 Name() 注册
// 参数 tracker: 下单时延追踪器（可为 nil）
// 参数 logger: 日志记录器
func NewCoordinator(opts Options, connectors []Connector, tracker *latency.Tracker, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = latency.NewTracker(10000)
	}
	c := &Coordinator{
		opts:       opts,
		logger:     logger.Named("live"),
		connectors: make(map[string]Connector, len(connectors)),
		latency:    tracker,
		positions:  make(map[posKey]*model.Position),
		active:     make(map[string]activeOrder),
		health:     make(map[string]*VenueHealth),
		sleep:      sleepCtx,
	}
	for _, conn := range connectors {
		c.connectors[conn.Name()] = conn
		c.health[conn.Name()] = &VenueHealth{}
	}
	return c
}

// Venues 返回已注册的交易所（排序）
func (c *Coordinator) Venues() []string {
	out := make([]string, 0, len(c.connectors))
	for name := range c.connectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsShutdown 是否已紧急停机
func (c *Coordinator) IsShutdown() bool {
	return c.shutdown.Load()
}

// Connect 并发连接全部交易所
// 任一交易所失败时返回错误，已成功的连接保持。
func (c *Coordinator) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, conn := range c.connectors {
		name, conn := name, conn
		g.Go(func() error {
			if err := conn.Connect(gctx); err != nil {
				c.markUnhealthy(name, err)
				return &model.Error{Kind: model.KindConnection, Op: "connect", Venue: name, Err: err}
			}
			c.markHealthy(name)
			c.logger.Info("交易所已连接", zap.String("venue", name))
			return nil
		})
	}
	return g.Wait()
}

// PlaceOrder 风控校验后在指定交易所下单
// 调用受 order_timeout 限制，超时返回 Timeout 错误而非交易所拒单。
func (c *Coordinator) PlaceOrder(ctx context.Context, venue string, order model.LimitOrder) (*model.OrderResponse, error) {
	if c.shutdown.Load() {
		return nil, &model.Error{Kind: model.KindTrading, Op: "place_order", Venue: venue, Symbol: order.Symbol, Err: model.ErrShutdown}
	}
	conn, ok := c.connectors[venue]
	if !ok {
		return nil, &model.Error{Kind: model.KindConfig, Op: "place_order", Venue: venue, Symbol: order.Symbol, Err: model.ErrUnknownVenue}
	}
	if err := c.checkRisk(venue, order); err != nil {
		c.mu.Lock()
		c.stats.RiskRejections++
		c.mu.Unlock()
		c.logger.Warn("风控拒绝",
			zap.String("venue", venue),
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.Float64("qty", order.Quantity),
			zap.Error(err))
		return nil, err
	}

	start := time.Now()
	resp, err := withTimeout(ctx, c.opts.OrderTimeout, func(cctx context.Context) (*model.OrderResponse, error) {
		return conn.PlaceOrder(cctx, order)
	})
	c.latency.AddOrder(venue, time.Since(start))
	if err != nil {
		err = classify(err, "place_order", venue, order.Symbol)
		c.mu.Lock()
		c.stats.OrdersFailed++
		if model.IsKind(err, model.KindTimeout) {
			c.stats.Timeouts++
		}
		c.mu.Unlock()
		return nil, err
	}

	if resp.Venue == "" {
		resp.Venue = venue
	}
	c.recordOrder(venue, order, resp)
	return resp, nil
}

// PlaceOrderWithRetry 下单并在可重试错误时线性退避重试
// 风控与配置错误不重试；返回最后一次错误。
func (c *Coordinator) PlaceOrderWithRetry(ctx context.Context, venue string, order model.LimitOrder) (*model.OrderResponse, error) {
	attempts := c.opts.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.PlaceOrder(ctx, venue, order)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !model.IsRetryable(err) || attempt == attempts {
			break
		}

		delay := c.opts.RetryDelay * time.Duration(attempt)
		c.logger.Warn("下单失败，准备重试",
			zap.String("venue", venue),
			zap.String("symbol", order.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		c.mu.Lock()
		c.stats.Retries++
		c.mu.Unlock()

		if err := c.sleep(ctx, delay); err != nil {
			return nil, classify(err, "place_order", venue, order.Symbol)
		}
	}
	return nil, lastErr
}

// CancelOrder 撤销订单
// 紧急停机后仍允许撤单。
func (c *Coordinator) CancelOrder(ctx context.Context, venue, symbol, orderID string) error {
	conn, ok := c.connectors[venue]
	if !ok {
		return &model.Error{Kind: model.KindConfig, Op: "cancel_order", Venue: venue, Symbol: symbol, OrderID: orderID, Err: model.ErrUnknownVenue}
	}

	_, err := withTimeout(ctx, c.opts.OrderTimeout, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, conn.CancelOrder(cctx, symbol, orderID)
	})
	if err != nil {
		e := classify(err, "cancel_order", venue, symbol)
		var me *model.Error
		if errors.As(e, &me) && me.OrderID == "" {
			me.OrderID = orderID
		}
		return e
	}

	c.mu.Lock()
	delete(c.active, orderID)
	c.stats.OrdersCanceled++
	c.mu.Unlock()
	return nil
}

// OrderStatus 查询订单状态并同步活动订单
func (c *Coordinator) OrderStatus(ctx context.Context, venue, symbol, orderID string) (*model.OrderResponse, error) {
	conn, ok := c.connectors[venue]
	if !ok {
		return nil, &model.Error{Kind: model.KindConfig, Op: "order_status", Venue: venue, Symbol: symbol, OrderID: orderID, Err: model.ErrUnknownVenue}
	}
	resp, err := withTimeout(ctx, c.opts.OrderTimeout, func(cctx context.Context) (*model.OrderResponse, error) {
		return conn.OrderStatus(cctx, symbol, orderID)
	})
	if err != nil {
		return nil, classify(err, "order_status", venue, symbol)
	}
	c.mu.Lock()
	if resp.Status.IsTerminal() {
		delete(c.active, orderID)
	} else if _, ok := c.active[orderID]; ok {
		c.active[orderID] = activeOrder{venue: venue, resp: *resp}
	}
	c.mu.Unlock()
	return resp, nil
}

// checkRisk 下单前风控校验
// 仓位按交易对在全部交易所上轧差，|净仓位 ± 数量| 超过最大仓位或数量低于最小下单量时拒绝，
// 不发起网络调用。对冲后的两腿互相抵消，不会分别占用各自交易所的额度。
func (c *Coordinator) checkRisk(venue string, order model.LimitOrder) error {
	if order.Quantity < c.opts.MinOrderSize || order.Quantity <= 0 {
		return &model.Error{Kind: model.KindRiskManagement, Op: "risk_check", Venue: venue, Symbol: order.Symbol,
			Err: fmt.Errorf("%w: qty=%g min=%g", model.ErrBelowMinOrder, order.Quantity, c.opts.MinOrderSize)}
	}

	current := c.NetPosition(order.Symbol)
	next := current + order.Side.Sign()*order.Quantity
	if c.opts.MaxPositionSize > 0 && math.Abs(next) > c.opts.MaxPositionSize {
		return &model.Error{Kind: model.KindRiskManagement, Op: "risk_check", Venue: venue, Symbol: order.Symbol,
			Err: fmt.Errorf("%w: position=%g qty=%g max=%g", model.ErrPositionLimit, current, order.Quantity, c.opts.MaxPositionSize)}
	}
	if c.opts.PositionLimitUSD > 0 && order.Price > 0 && math.Abs(next)*order.Price > c.opts.PositionLimitUSD {
		return &model.Error{Kind: model.KindRiskManagement, Op: "risk_check", Venue: venue, Symbol: order.Symbol,
			Err: fmt.Errorf("%w: notional=%g limit=%g", model.ErrPositionLimit, math.Abs(next)*order.Price, c.opts.PositionLimitUSD)}
	}
	return nil
}

func (c *Coordinator) recordOrder(venue string, order model.LimitOrder, resp *model.OrderResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.OrdersPlaced++
	if !resp.Status.IsTerminal() && resp.OrderID != "" {
		c.active[resp.OrderID] = activeOrder{venue: venue, resp: *resp}
	}
	if resp.FilledQuantity > 0 {
		px := resp.AveragePrice
		if px <= 0 {
			px = order.Price
		}
		k := posKey{venue: venue, symbol: order.Symbol}
		p := c.positions[k]
		if p == nil {
			p = &model.Position{Venue: venue, Symbol: order.Symbol}
			c.positions[k] = p
		}
		p.ApplyFill(order.Side, resp.FilledQuantity, px, time.Now())
		c.stats.FilledVolume += resp.FilledQuantity * px
		c.stats.TotalFees += resp.Fee
	}
}

// CheckConnectivity 并发检查全部交易所连通性并刷新健康状态
// 返回: 交易所 -> 是否连通；任一交易所不通时同时返回 Connection 错误（多个时合并）
func (c *Coordinator) CheckConnectivity(ctx context.Context) (map[string]bool, error) {
	var mu sync.Mutex
	out := make(map[string]bool, len(c.connectors))
	var failures []error

	var g errgroup.Group
	for name, conn := range c.connectors {
		name, conn := name, conn
		g.Go(func() error {
			_, err := withTimeout(ctx, c.opts.OrderTimeout, func(cctx context.Context) (struct{}, error) {
				if !conn.IsConnected() {
					return struct{}{}, model.ErrNotConnected
				}
				return struct{}{}, conn.Ping(cctx)
			})
			if err != nil {
				c.markUnhealthy(name, err)
			} else {
				c.markHealthy(name)
			}
			mu.Lock()
			out[name] = err == nil
			if err != nil {
				failures = append(failures, &model.Error{Kind: model.KindConnection, Op: "check_connectivity", Venue: name, Err: err})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(failures) == 0 {
		return out, nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Error() < failures[j].Error() })
	if len(failures) == 1 {
		return out, failures[0]
	}
	return out, errors.Join(failures...)
}

// HandleConnectionError 处理连接错误：标记不健康并尝试一次重连
// 返回: 重连失败时的错误
func (c *Coordinator) HandleConnectionError(ctx context.Context, venue string, cause error) error {
	conn, ok := c.connectors[venue]
	if !ok {
		return &model.Error{Kind: model.KindConfig, Op: "reconnect", Venue: venue, Err: model.ErrUnknownVenue}
	}
	c.markUnhealthy(venue, cause)
	c.logger.Warn("交易所连接异常，尝试重连", zap.String("venue", venue), zap.Error(cause))

	if err := conn.Disconnect(); err != nil {
		c.logger.Debug("断开连接失败", zap.String("venue", venue), zap.Error(err))
	}
	_, err := withTimeout(ctx, c.opts.OrderTimeout, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, conn.Connect(cctx)
	})
	if err != nil {
		c.markUnhealthy(venue, err)
		return &model.Error{Kind: model.KindConnection, Op: "reconnect", Venue: venue, Err: err}
	}

	c.mu.Lock()
	h := c.health[venue]
	h.Connected = true
	h.ConsecutiveErrors = 0
	h.LastError = ""
	h.LastCheck = time.Now()
	h.Reconnects++
	c.mu.Unlock()
	c.logger.Info("交易所重连成功", zap.String("venue", venue))
	return nil
}

// EmergencyShutdown 紧急停机
// 设置停机标志后并发撤销全部活动订单并断开全部连接，均为尽力而为。
// 单个撤单或断开失败只记录日志，不影响其余操作；始终返回 nil。
func (c *Coordinator) EmergencyShutdown(ctx context.Context) error {
	c.shutdown.Store(true)
	c.logger.Warn("触发紧急停机")

	c.mu.RLock()
	orders := make([]activeOrder, 0, len(c.active))
	for _, o := range c.active {
		orders = append(orders, o)
	}
	c.mu.RUnlock()

	var mu sync.Mutex
	var errs []error
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var cancels errgroup.Group
	for _, o := range orders {
		o := o
		cancels.Go(func() error {
			if err := c.CancelOrder(ctx, o.venue, o.resp.Symbol, o.resp.OrderID); err != nil {
				collect(err)
			}
			return nil
		})
	}
	_ = cancels.Wait()

	var disconnects errgroup.Group
	for name, conn := range c.connectors {
		name, conn := name, conn
		disconnects.Go(func() error {
			if err := conn.Disconnect(); err != nil {
				collect(&model.Error{Kind: model.KindConnection, Op: "disconnect", Venue: name, Err: err})
			}
			return nil
		})
	}
	_ = disconnects.Wait()

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("紧急停机部分操作失败", zap.Int("failures", len(errs)), zap.Error(err))
	}
	c.logger.Warn("紧急停机完成",
		zap.Int("orders", len(orders)),
		zap.Int("venues", len(c.connectors)))
	return nil
}

// VerifyBalances 查询全部交易所余额
// 任一交易所查询失败即返回错误。
func (c *Coordinator) VerifyBalances(ctx context.Context) (map[string][]model.Balance, error) {
	var mu sync.Mutex
	out := make(map[string][]model.Balance, len(c.connectors))

	g, gctx := errgroup.WithContext(ctx)
	for name, conn := range c.connectors {
		name, conn := name, conn
		g.Go(func() error {
			bals, err := withTimeout(gctx, c.opts.OrderTimeout, func(cctx context.Context) ([]model.Balance, error) {
				return conn.Balances(cctx)
			})
			if err != nil {
				return classify(err, "balances", name, "")
			}
			mu.Lock()
			out[name] = bals
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPrice 用最新价格更新未实现盈亏
func (c *Coordinator) MarkPrice(venue, symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.positions[posKey{venue: venue, symbol: symbol}]; p != nil {
		p.Mark(price, time.Now())
	}
}

// Positions 返回全部仓位快照（按交易所、交易对排序）
func (c *Coordinator) Positions() []model.Position {
	c.mu.RLock()
	out := make([]model.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Position 获取单个仓位数量
func (c *Coordinator) Position(venue, symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p := c.positions[posKey{venue: venue, symbol: symbol}]; p != nil {
		return p.Size
	}
	return 0
}

// NetPosition 交易对在全部交易所上的净仓位（基础币）
func (c *Coordinator) NetPosition(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	net := 0.0
	for k, p := range c.positions {
		if k.symbol == symbol {
			net += p.Size
		}
	}
	return net
}

// TotalPnL 已实现与未实现盈亏之和
func (c *Coordinator) TotalPnL() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0.0
	for _, p := range c.positions {
		total += p.RealizedPnL + p.UnrealizedPnL
	}
	return total - c.stats.TotalFees
}

// ActiveOrders 返回活动订单快照
func (c *Coordinator) ActiveOrders() []model.OrderResponse {
	c.mu.RLock()
	out := make([]model.OrderResponse, 0, len(c.active))
	for _, o := range c.active {
		out = append(out, o.resp)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Health 返回各交易所健康状态快照
func (c *Coordinator) Health() map[string]VenueHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]VenueHealth, len(c.health))
	for name, h := range c.health {
		out[name] = *h
	}
	return out
}

// Statistics 返回统计快照
func (c *Coordinator) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Latency 返回指定交易所的下单时延统计
func (c *Coordinator) Latency(venue string) latency.Stats {
	return c.latency.Stats(venue)
}

func (c *Coordinator) markHealthy(venue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[venue]
	if h == nil {
		return
	}
	h.Connected = true
	h.ConsecutiveErrors = 0
	h.LastError = ""
	h.LastCheck = time.Now()
}

func (c *Coordinator) markUnhealthy(venue string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[venue]
	if h == nil {
		return
	}
	h.Connected = false
	h.ConsecutiveErrors++
	if err != nil {
		h.LastError = err.Error()
	}
	h.LastCheck = time.Now()
}

// withTimeout 在带超时的子上下文中执行 fn
// 子上下文超时（而父上下文未结束）时返回 context.DeadlineExceeded。
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return r.v, fmt.Errorf("%w: %v", context.DeadlineExceeded, r.err)
		}
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		return zero, cctx.Err()
	}
}

// classify 将底层错误归类为领域错误
// 已是领域错误的保持原分类；超时归为 Timeout；其余归为 Trading。
func classify(err error, op, venue, symbol string) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	kind := model.KindTrading
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = model.KindTimeout
	case errors.Is(err, model.ErrNotConnected):
		kind = model.KindConnection
	}
	return &model.Error{Kind: kind, Op: op, Venue: venue, Symbol: symbol, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
