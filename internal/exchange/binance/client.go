package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/metadata"
	"cross-exchange-arbitrage/internal/util/fastparse"
	"cross-exchange-arbitrage/internal/util/sign"
)

// Client Binance 现货 REST 连接器
// 私有接口使用 HMAC-SHA256 签名（query string 签名，X-MBX-APIKEY 头）。
type Client struct {
	cfg     config.VenueConfig
	http    *http.Client
	limiter *rate.Limiter
	catalog *metadata.Catalog
	logger  *zap.Logger

	connected atomic.Bool
	// now 时间源，测试中可替换
	now func() time.Time
}

// NewClient 创建 REST 连接器
// 参数 cfg: 交易所配置
// 参数 catalog: 交易规则目录，用于价格数量取整（可为 nil）
// 参数 logger: 日志记录器
func NewClient(cfg config.VenueConfig, catalog *metadata.Catalog, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.OrderRateLimit)
	if cfg.OrderRateLimit <= 0 {
		limit = rate.Inf
	}
	burst := int(cfg.OrderRateLimit)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(limit, burst),
		catalog: catalog,
		logger:  logger.Named(model.ExchangeBinance),
		now:     time.Now,
	}
}

// Name 交易所标识
func (c *Client) Name() string { return model.ExchangeBinance }

// Connect 检查 REST 连通性并标记为已连接
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		c.connected.Store(false)
		return err
	}
	c.connected.Store(true)
	c.logger.Info("Binance REST 已连接", zap.String("url", c.cfg.RestURL), zap.String("api_key", sign.Redact(c.cfg.APIKey)))
	return nil
}

// Disconnect 标记为断开（REST 无长连接）
func (c *Client) Disconnect() error {
	c.connected.Store(false)
	return nil
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Ping 连通性检查
func (c *Client) Ping(ctx context.Context) error {
	return c.public(ctx, "/api/v3/ping", nil, nil)
}

// DepthSnapshot 获取 REST 订单簿快照
// 参数 limit: 档位数（5/10/20/50/100...）
func (c *Client) DepthSnapshot(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", strconv.Itoa(limit))
	var depth PartialDepth
	if err := c.public(ctx, "/api/v3/depth", q, &depth); err != nil {
		return nil, err
	}
	bids, err := ParseLevels(depth.Bids)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "depth_snapshot", err)
	}
	asks, err := ParseLevels(depth.Asks)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "depth_snapshot", err)
	}
	book := model.NewOrderBook(model.ExchangeBinance, strings.ToUpper(symbol))
	book.ApplySnapshot(bids, asks)
	book.SetTimestamp(c.now().UnixNano())
	return book, nil
}

// PlaceOrder 下限价单
// GTX 映射为 LIMIT_MAKER，其余映射为 LIMIT + timeInForce。
func (c *Client) PlaceOrder(ctx context.Context, order model.LimitOrder) (*model.OrderResponse, error) {
	if !c.IsConnected() {
		return nil, model.NewError(model.KindConnection, "place_order", model.ErrNotConnected)
	}
	inst, _ := c.catalog.Get(model.ExchangeBinance, order.Symbol)
	qty, price, err := inst.Format(order)
	if err != nil {
		return nil, &model.Error{Kind: model.KindRiskManagement, Op: "place_order",
			Venue: model.ExchangeBinance, Symbol: order.Symbol, Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待下单限频失败: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(order.Symbol))
	q.Set("side", strings.ToUpper(string(order.Side)))
	if order.TimeInForce.IsPostOnly() {
		q.Set("type", "LIMIT_MAKER")
	} else {
		q.Set("type", "LIMIT")
		tif := order.TimeInForce
		if tif == "" {
			tif = model.TIFGTC
		}
		q.Set("timeInForce", string(tif))
	}
	q.Set("quantity", qty)
	q.Set("price", price)
	q.Set("newOrderRespType", "FULL")
	if order.ClientOrderID != "" {
		q.Set("newClientOrderId", order.ClientOrderID)
	}

	var resp OrderResponse
	if err := c.signed(ctx, http.MethodPost, "/api/v3/order", q, &resp); err != nil {
		return nil, err
	}
	out := toOrderResponse(&resp)
	c.logger.Info("Binance 下单成功",
		zap.String("symbol", out.Symbol),
		zap.String("order_id", out.OrderID),
		zap.String("status", string(out.Status)))
	return out, nil
}

// CancelOrder 撤单
// orderID 为纯数字时按交易所订单号撤单，否则按客户端订单号撤单。
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := orderQuery(symbol, orderID)
	return c.signed(ctx, http.MethodDelete, "/api/v3/order", q, nil)
}

// OrderStatus 查询订单
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*model.OrderResponse, error) {
	var resp OrderResponse
	if err := c.signed(ctx, http.MethodGet, "/api/v3/order", orderQuery(symbol, orderID), &resp); err != nil {
		return nil, err
	}
	return toOrderResponse(&resp), nil
}

// Balances 查询非零余额
func (c *Client) Balances(ctx context.Context) ([]model.Balance, error) {
	var resp AccountResponse
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{"omitZeroBalances": {"true"}}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		bal := model.Balance{
			Asset:  b.Asset,
			Free:   fastparse.MustParseFloat(b.Free),
			Locked: fastparse.MustParseFloat(b.Locked),
		}
		if bal.Total() > 0 {
			out = append(out, bal)
		}
	}
	return out, nil
}

func orderQuery(symbol, orderID string) url.Values {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	if _, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		q.Set("orderId", orderID)
	} else {
		q.Set("origClientOrderId", orderID)
	}
	return q
}

// public 调用公共接口
func (c *Client) public(ctx context.Context, path string, q url.Values, out any) error {
	u := strings.TrimRight(c.cfg.RestURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	return c.do(ctx, req, path, out)
}

// signed 调用签名接口
// 签名串为完整 query string（含 recvWindow 与 timestamp）。
func (c *Client) signed(ctx context.Context, method, path string, q url.Values, out any) error {
	if !c.cfg.HasCredentials() {
		return model.Errorf(model.KindConfig, path, "未配置 Binance API 凭证")
	}
	if q == nil {
		q = url.Values{}
	}
	if c.cfg.RecvWindowMs > 0 {
		q.Set("recvWindow", strconv.Itoa(c.cfg.RecvWindowMs))
	}
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	payload := q.Encode()
	u := strings.TrimRight(c.cfg.RestURL, "/") + path + "?" + payload + "&signature=" + sign.HMACSHA256Hex(c.cfg.SecretKey, payload)

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(ctx, req, path, out)
}

// do 发送请求并按状态码分类错误
// 网络错误与 5xx、429、418 归为 Connection；其余 4xx 归为 Trading；ctx 超时原样返回。
func (c *Client) do(ctx context.Context, req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("Binance 请求 %s 被中断: %w", op, ctx.Err())
		}
		return model.NewError(model.KindConnection, op, fmt.Errorf("Binance 请求失败: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewError(model.KindConnection, op, fmt.Errorf("读取响应体失败: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		kind := model.KindTrading
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
			kind = model.KindConnection
		}
		return &model.Error{Kind: kind, Op: op, Venue: model.ExchangeBinance, Err: apiErr}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.NewError(model.KindDataParsing, op, fmt.Errorf("解析 Binance 响应失败: %w", err))
	}
	return nil
}

// toOrderResponse 转换订单响应
// 成交均价 = 累计成交额 / 成交量；手续费仅统计以计价币或基础币收取的部分（基础币按成交价折算）。
func toOrderResponse(r *OrderResponse) *model.OrderResponse {
	executed := fastparse.MustParseFloat(r.ExecutedQty)
	quote := fastparse.MustParseFloat(r.CummulativeQuoteQty)
	avg := 0.0
	if executed > 0 {
		avg = quote / executed
	}

	fee := 0.0
	quoteAsset := quoteOf(r.Symbol)
	for _, f := range r.Fills {
		commission := fastparse.MustParseFloat(f.Commission)
		switch {
		case f.CommissionAsset == quoteAsset:
			fee += commission
		case strings.HasPrefix(r.Symbol, f.CommissionAsset):
			fee += commission * fastparse.MustParseFloat(f.Price)
		}
	}

	ts := r.TransactTime
	if ts == 0 {
		ts = r.Time
	}
	return &model.OrderResponse{
		OrderID:        strconv.FormatInt(r.OrderID, 10),
		ClientOrderID:  r.ClientOrderID,
		Venue:          model.ExchangeBinance,
		Symbol:         r.Symbol,
		Side:           model.OrderSide(strings.ToLower(r.Side)),
		Quantity:       fastparse.MustParseFloat(r.OrigQty),
		Price:          fastparse.MustParseFloat(r.Price),
		Status:         mapStatus(r.Status),
		FilledQuantity: executed,
		AveragePrice:   avg,
		Fee:            fee,
		TimestampNs:    ts * int64(time.Millisecond),
	}
}

func quoteOf(symbol string) string {
	for _, q := range []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, q) {
			return q
		}
	}
	return ""
}

func mapStatus(s string) model.OrderStatus {
	switch s {
	case "NEW", "PENDING_NEW":
		return model.StatusNew
	case "PARTIALLY_FILLED":
		return model.StatusPartiallyFilled
	case "FILLED":
		return model.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return model.StatusCanceled
	case "REJECTED":
		return model.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return model.StatusExpired
	}
	return model.StatusNew
}

// IsAPIError 判断是否为指定错误码的接口错误
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
