// Package live 执行协调器测试
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cross-exchange-arbitrage/internal/core/model"
)

// fakeConnector 可编程的测试连接器
type fakeConnector struct {
	name string

	mu            sync.Mutex
	connected     bool
	placeErrs     []error // 依次返回，耗尽后成功
	placeDelay    time.Duration
	placeCalls    int
	fillRatio     float64
	status        model.OrderStatus
	cancelErr     error
	cancelCalls   []string
	connectErr    error
	connectCalls  int
	disconnects   int
	disconnectErr error
	pingErr       error
	balances      []model.Balance
	nextID        int
}

func newFake(name string) *fakeConnector {
	return &fakeConnector{name: name, connected: true, fillRatio: 1, status: model.StatusFilled}
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeConnector) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return f.disconnectErr
}

func (f *fakeConnector) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnector) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeConnector) PlaceOrder(ctx context.Context, order model.LimitOrder) (*model.OrderResponse, error) {
	f.mu.Lock()
	f.placeCalls++
	delay := f.placeDelay
	var err error
	if len(f.placeErrs) > 0 {
		err = f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
	}
	f.nextID++
	id := fmt.Sprintf("%s-%d", f.name, f.nextID)
	filled := order.Quantity * f.fillRatio
	status := f.status
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return &model.OrderResponse{
		OrderID:        id,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		Price:          order.Price,
		Status:         status,
		FilledQuantity: filled,
		AveragePrice:   order.Price,
	}, nil
}

func (f *fakeConnector) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, orderID)
	return f.cancelErr
}

func (f *fakeConnector) OrderStatus(ctx context.Context, symbol, orderID string) (*model.OrderResponse, error) {
	return &model.OrderResponse{OrderID: orderID, Symbol: symbol, Status: model.StatusFilled}, nil
}

func (f *fakeConnector) Balances(ctx context.Context) ([]model.Balance, error) {
	return f.balances, nil
}

func testOptions() Options {
	return Options{
		MaxPositionSize:  1.0,
		MinOrderSize:     0.001,
		OrderTimeout:     time.Second,
		MaxRetryAttempts: 3,
		RetryDelay:       time.Second,
	}
}

func newTestCoordinator(conns ...Connector) (*Coordinator, *[]time.Duration) {
	c := NewCoordinator(testOptions(), conns, nil, nil)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func order(side model.OrderSide, qty float64) model.LimitOrder {
	return model.LimitOrder{Symbol: "BTCUSDT", Side: side, Quantity: qty, Price: 50000, TimeInForce: model.TIFIOC}
}

func TestCoordinator_RiskRejectsPositionLimit(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	c, _ := newTestCoordinator(bin)
	ctx := context.Background()

	if _, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideBuy, 0.05)); err != nil {
		t.Fatalf("首单应成功: %v", err)
	}
	_, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideBuy, 1.0))
	if !model.IsKind(err, model.KindRiskManagement) || !errors.Is(err, model.ErrPositionLimit) {
		t.Fatalf("期望仓位风控拒绝, got %v", err)
	}
	if bin.placeCalls != 1 {
		t.Fatalf("风控拒绝不应发起网络调用: calls=%d", bin.placeCalls)
	}

	// 反向减仓不受限制
	if _, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideSell, 1.0)); err != nil {
		t.Fatalf("0.05-1.0 在限制内: %v", err)
	}
	if got := c.Position(model.ExchangeBinance, "BTCUSDT"); got > -0.949 || got < -0.951 {
		t.Fatalf("仓位=%f, want -0.95", got)
	}
	if st := c.Statistics(); st.RiskRejections != 1 || st.OrdersPlaced != 2 {
		t.Fatalf("统计错误: %+v", st)
	}
}

func TestCoordinator_RiskRejectsBelowMin(t *testing.T) {
	c, _ := newTestCoordinator(newFake(model.ExchangeBinance))
	_, err := c.PlaceOrder(context.Background(), model.ExchangeBinance, order(model.SideBuy, 0.0001))
	if !errors.Is(err, model.ErrBelowMinOrder) || !model.IsKind(err, model.KindRiskManagement) {
		t.Fatalf("期望最小下单量拒绝, got %v", err)
	}
}

func TestCoordinator_UnknownVenue(t *testing.T) {
	c, _ := newTestCoordinator(newFake(model.ExchangeBinance))
	_, err := c.PlaceOrder(context.Background(), "okx", order(model.SideBuy, 0.1))
	if !errors.Is(err, model.ErrUnknownVenue) || !model.IsKind(err, model.KindConfig) {
		t.Fatalf("期望未知交易所配置错误, got %v", err)
	}
}

func TestCoordinator_Timeout(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	bin.placeDelay = time.Second
	c, _ := newTestCoordinator(bin)
	c.opts.OrderTimeout = 20 * time.Millisecond

	_, err := c.PlaceOrder(context.Background(), model.ExchangeBinance, order(model.SideBuy, 0.1))
	if !model.IsKind(err, model.KindTimeout) {
		t.Fatalf("期望超时错误, got %v", err)
	}
	if st := c.Statistics(); st.Timeouts != 1 || st.OrdersFailed != 1 {
		t.Fatalf("超时统计错误: %+v", st)
	}
}

func TestCoordinator_RetryLinearBackoff(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	bin.placeErrs = []error{errors.New("502"), errors.New("503")}
	c, slept := newTestCoordinator(bin)

	resp, err := c.PlaceOrderWithRetry(context.Background(), model.ExchangeBinance, order(model.SideBuy, 0.1))
	if err != nil {
		t.Fatalf("第三次应成功: %v", err)
	}
	if resp.Venue != model.ExchangeBinance {
		t.Fatalf("响应应补全交易所: %+v", resp)
	}
	if bin.placeCalls != 3 {
		t.Fatalf("调用次数=%d, want 3", bin.placeCalls)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Fatalf("退避序列错误: %v", *slept)
	}
	if c.Statistics().Retries != 2 {
		t.Fatalf("Retries=%d", c.Statistics().Retries)
	}
}

func TestCoordinator_RetryReturnsLastError(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	last := errors.New("third")
	bin.placeErrs = []error{errors.New("first"), errors.New("second"), last, errors.New("never")}
	c, _ := newTestCoordinator(bin)

	_, err := c.PlaceOrderWithRetry(context.Background(), model.ExchangeBinance, order(model.SideBuy, 0.1))
	if !errors.Is(err, last) {
		t.Fatalf("应返回最后一次错误, got %v", err)
	}
	if bin.placeCalls != 3 {
		t.Fatalf("调用次数=%d, want 3", bin.placeCalls)
	}
}

func TestCoordinator_RetrySkipsRiskErrors(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	c, slept := newTestCoordinator(bin)

	_, err := c.PlaceOrderWithRetry(context.Background(), model.ExchangeBinance, order(model.SideBuy, 5))
	if !model.IsKind(err, model.KindRiskManagement) {
		t.Fatalf("期望风控错误, got %v", err)
	}
	if len(*slept) != 0 || bin.placeCalls != 0 {
		t.Fatalf("风控错误不应重试")
	}
}

func TestCoordinator_EmergencyShutdown(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	byb := newFake(model.ExchangeBybit)
	bin.status = model.StatusNew
	bin.fillRatio = 0
	byb.status = model.StatusNew
	byb.fillRatio = 0
	bin.cancelErr = errors.New("cancel rejected")
	byb.disconnectErr = errors.New("already closed")

	c, _ := newTestCoordinator(bin, byb)
	ctx := context.Background()
	if _, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideBuy, 0.1)); err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if _, err := c.PlaceOrder(ctx, model.ExchangeBybit, order(model.SideSell, 0.1)); err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if n := len(c.ActiveOrders()); n != 2 {
		t.Fatalf("活动订单=%d, want 2", n)
	}

	if err := c.EmergencyShutdown(ctx); err != nil {
		t.Fatalf("紧急停机应始终返回 nil: %v", err)
	}
	if len(bin.cancelCalls) != 1 || len(byb.cancelCalls) != 1 {
		t.Fatalf("每个活动订单都应尝试撤单: bin=%v bybit=%v", bin.cancelCalls, byb.cancelCalls)
	}
	if bin.disconnects != 1 || byb.disconnects != 1 {
		t.Fatalf("每个连接器都应断开")
	}
	if !c.IsShutdown() {
		t.Fatalf("停机标志未设置")
	}

	_, err := c.PlaceOrder(ctx, model.ExchangeBybit, order(model.SideBuy, 0.1))
	if !errors.Is(err, model.ErrShutdown) {
		t.Fatalf("停机后应拒绝下单, got %v", err)
	}
	if model.IsRetryable(err) {
		t.Fatalf("停机错误不应可重试")
	}
}

func TestCoordinator_HealthAndReconnect(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	byb := newFake(model.ExchangeBybit)
	byb.pingErr = errors.New("no pong")
	c, _ := newTestCoordinator(bin, byb)
	ctx := context.Background()

	res, err := c.CheckConnectivity(ctx)
	if !res[model.ExchangeBinance] || res[model.ExchangeBybit] {
		t.Fatalf("连通性结果错误: %v", res)
	}
	if !model.IsKind(err, model.KindConnection) {
		t.Fatalf("有交易所不通时应返回 Connection 错误, got %v", err)
	}
	h := c.Health()[model.ExchangeBybit]
	if h.Connected || h.ConsecutiveErrors != 1 || h.LastError == "" {
		t.Fatalf("健康状态错误: %+v", h)
	}

	byb.pingErr = nil
	if err := c.HandleConnectionError(ctx, model.ExchangeBybit, errors.New("read: EOF")); err != nil {
		t.Fatalf("重连应成功: %v", err)
	}
	h = c.Health()[model.ExchangeBybit]
	if !h.Connected || h.Reconnects != 1 || h.ConsecutiveErrors != 0 {
		t.Fatalf("重连后健康状态错误: %+v", h)
	}
	if byb.connectCalls != 1 || byb.disconnects != 1 {
		t.Fatalf("应先断开再连接一次")
	}

	byb.connectErr = errors.New("dial refused")
	err = c.HandleConnectionError(ctx, model.ExchangeBybit, errors.New("read: EOF"))
	if !model.IsKind(err, model.KindConnection) {
		t.Fatalf("重连失败应为连接错误, got %v", err)
	}
	if byb.connectCalls != 2 {
		t.Fatalf("每次只尝试一次重连")
	}
}

func TestCoordinator_PositionsAndMark(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	c, _ := newTestCoordinator(bin)
	ctx := context.Background()

	if _, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideBuy, 0.5)); err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	c.MarkPrice(model.ExchangeBinance, "BTCUSDT", 50100)

	ps := c.Positions()
	if len(ps) != 1 || ps[0].Size != 0.5 || ps[0].AvgPrice != 50000 {
		t.Fatalf("仓位错误: %+v", ps)
	}
	if ps[0].UnrealizedPnL != 50 {
		t.Fatalf("未实现盈亏=%f, want 50", ps[0].UnrealizedPnL)
	}
	if c.TotalPnL() != 50 {
		t.Fatalf("TotalPnL=%f", c.TotalPnL())
	}
	if len(c.ActiveOrders()) != 0 {
		t.Fatalf("已成交订单不应保留为活动订单")
	}
	if c.Latency(model.ExchangeBinance).OrderCount != 1 {
		t.Fatalf("应记录下单时延")
	}
}

func TestCoordinator_ConnectAndBalances(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	byb := newFake(model.ExchangeBybit)
	bin.balances = []model.Balance{{Asset: "USDT", Free: 1000}}
	byb.balances = []model.Balance{{Asset: "USDT", Free: 500, Locked: 10}}
	c, _ := newTestCoordinator(bin, byb)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	bals, err := c.VerifyBalances(ctx)
	if err != nil {
		t.Fatalf("余额查询失败: %v", err)
	}
	if bals[model.ExchangeBybit][0].Total() != 510 {
		t.Fatalf("余额错误: %+v", bals)
	}

	byb.connectErr = errors.New("dial refused")
	if err := c.Connect(ctx); !model.IsKind(err, model.KindConnection) {
		t.Fatalf("期望连接错误, got %v", err)
	}
	if got := c.Venues(); len(got) != 2 || got[0] != model.ExchangeBinance {
		t.Fatalf("Venues=%v", got)
	}
}

func TestCoordinator_CheckConnectivity_DisconnectedVenueFails(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	byb := newFake(model.ExchangeBybit)
	c, _ := newTestCoordinator(bin, byb)
	ctx := context.Background()

	res, err := c.CheckConnectivity(ctx)
	if err != nil || !res[model.ExchangeBinance] || !res[model.ExchangeBybit] {
		t.Fatalf("全部连通时不应报错: %v %v", res, err)
	}

	_ = byb.Disconnect()
	res, err = c.CheckConnectivity(ctx)
	if err == nil {
		t.Fatalf("bybit 断开时应返回错误")
	}
	if !errors.Is(err, model.ErrNotConnected) || !model.IsKind(err, model.KindConnection) {
		t.Fatalf("错误类型不符: %v", err)
	}
	var me *model.Error
	if !errors.As(err, &me) || me.Venue != model.ExchangeBybit {
		t.Fatalf("错误应携带交易所 bybit: %v", err)
	}
	if !res[model.ExchangeBinance] || res[model.ExchangeBybit] {
		t.Fatalf("逐交易所结果错误: %v", res)
	}
	if c.Health()[model.ExchangeBybit].Connected {
		t.Fatalf("bybit 健康状态应为断开")
	}
}

func TestCoordinator_RiskNetsAcrossVenues(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	byb := newFake(model.ExchangeBybit)
	c, _ := newTestCoordinator(bin, byb)
	ctx := context.Background()

	// 两轮对冲：binance 买 0.6，bybit 卖 0.6，单边累计 1.2 超过上限但净仓位为 0
	for round := 1; round <= 2; round++ {
		if _, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideBuy, 0.6)); err != nil {
			t.Fatalf("第 %d 轮买腿应成功: %v", round, err)
		}
		if _, err := c.PlaceOrder(ctx, model.ExchangeBybit, order(model.SideSell, 0.6)); err != nil {
			t.Fatalf("第 %d 轮卖腿应成功: %v", round, err)
		}
	}
	if net := c.NetPosition("BTCUSDT"); net > 1e-9 || net < -1e-9 {
		t.Fatalf("净仓位=%f, want 0", net)
	}
	if got := c.Position(model.ExchangeBinance, "BTCUSDT"); got < 1.199 || got > 1.201 {
		t.Fatalf("binance 仓位=%f, want 1.2", got)
	}

	// 单边继续加仓使净仓位超限时仍被拒绝
	if _, err := c.PlaceOrder(ctx, model.ExchangeBinance, order(model.SideBuy, 0.6)); err != nil {
		t.Fatalf("净仓位 0.6 在限制内: %v", err)
	}
	_, err := c.PlaceOrder(ctx, model.ExchangeBybit, order(model.SideBuy, 0.6))
	if !errors.Is(err, model.ErrPositionLimit) {
		t.Fatalf("净仓位 1.2 应被拒绝, got %v", err)
	}
	if byb.placeCalls != 2 {
		t.Fatalf("风控拒绝不应发起网络调用: calls=%d", byb.placeCalls)
	}
}
