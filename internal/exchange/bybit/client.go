package bybit

import (
	"bytes"
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

// category 现货品类
const category = "spot"

// 需要按连接类错误处理的 retCode
var connectionRetCodes = map[int]bool{
	10002: true, // 时间戳超出 recv_window
	10006: true, // 触发频率限制
	10016: true, // 服务端内部错误
}

// Client Bybit v5 现货 REST 连接器
// 签名: HMAC-SHA256(timestamp + apiKey + recvWindow + queryString|jsonBody)，十六进制小写，
// 通过 X-BAPI-* 请求头传递。
type Client struct {
	cfg     config.VenueConfig
	http    *http.Client
	limiter *rate.Limiter
	catalog *metadata.Catalog
	logger  *zap.Logger

	connected atomic.Bool
	now       func() time.Time
}

// NewClient 创建 REST 连接器
// 参数 cfg: 交易所配置
// 参数 catalog: 交易规则目录（可为 nil）
// 参数 logger: 日志记录器
func NewClient(cfg config.VenueConfig, catalog *metadata.Catalog, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.OrderRateLimit)
	if cfg.OrderRateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(limit, max(1, int(cfg.OrderRateLimit))),
		catalog: catalog,
		logger:  logger.Named(model.ExchangeBybit),
		now:     time.Now,
	}
}

// Name 交易所标识
func (c *Client) Name() string { return model.ExchangeBybit }

// Connect 检查 REST 连通性并标记为已连接
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		c.connected.Store(false)
		return err
	}
	c.connected.Store(true)
	c.logger.Info("Bybit REST 已连接", zap.String("url", c.cfg.RestURL), zap.String("api_key", sign.Redact(c.cfg.APIKey)))
	return nil
}

// Disconnect 标记为断开
func (c *Client) Disconnect() error {
	c.connected.Store(false)
	return nil
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Ping 查询服务器时间
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/v5/market/time", nil, nil, false, nil)
}

// DepthSnapshot 获取 REST 订单簿快照
// 参数 limit: 档位数（现货 1-200）
func (c *Client) DepthSnapshot(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("limit", strconv.Itoa(limit))
	var snap OrderbookSnapshot
	if err := c.call(ctx, http.MethodGet, "/v5/market/orderbook", q, nil, false, &snap); err != nil {
		return nil, err
	}
	bids, err := parseLevels(snap.Bids)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "depth_snapshot", err)
	}
	asks, err := parseLevels(snap.Asks)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "depth_snapshot", err)
	}
	book := model.NewOrderBook(model.ExchangeBybit, strings.ToUpper(symbol))
	book.ApplySnapshot(bids, asks)
	book.SetTimestamp(snap.Ts * int64(time.Millisecond))
	return book, nil
}

// PlaceOrder 下限价单
// 下单接口只返回订单号，随后查询一次订单详情以获取成交状态；查询失败时返回 New 状态。
func (c *Client) PlaceOrder(ctx context.Context, order model.LimitOrder) (*model.OrderResponse, error) {
	if !c.IsConnected() {
		return nil, model.NewError(model.KindConnection, "place_order", model.ErrNotConnected)
	}
	inst, _ := c.catalog.Get(model.ExchangeBybit, order.Symbol)
	qty, price, err := inst.Format(order)
	if err != nil {
		return nil, &model.Error{Kind: model.KindRiskManagement, Op: "place_order",
			Venue: model.ExchangeBybit, Symbol: order.Symbol, Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待下单限频失败: %w", err)
	}

	req := CreateOrderRequest{
		Category:    category,
		Symbol:      strings.ToUpper(order.Symbol),
		Side:        sideString(order.Side),
		OrderType:   "Limit",
		Qty:         qty,
		Price:       price,
		TimeInForce: tifString(order.TimeInForce),
		OrderLinkID: order.ClientOrderID,
	}
	var res OrderResult
	if err := c.call(ctx, http.MethodPost, "/v5/order/create", nil, req, true, &res); err != nil {
		return nil, err
	}

	out, err := c.OrderStatus(ctx, order.Symbol, res.OrderID)
	if err != nil {
		c.logger.Warn("查询新订单状态失败", zap.String("order_id", res.OrderID), zap.Error(err))
		out = &model.OrderResponse{
			OrderID:     res.OrderID,
			Venue:       model.ExchangeBybit,
			Symbol:      req.Symbol,
			Side:        order.Side,
			Quantity:    order.Quantity,
			Price:       order.Price,
			Status:      model.StatusNew,
			TimestampNs: c.now().UnixNano(),
		}
	}
	out.ClientOrderID = res.OrderLinkID
	c.logger.Info("Bybit 下单成功",
		zap.String("symbol", out.Symbol),
		zap.String("order_id", out.OrderID),
		zap.String("status", string(out.Status)))
	return out, nil
}

// CancelOrder 撤单
// orderID 以 arb_ 开头时视为客户端订单号（orderLinkId）。
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	req := CancelOrderRequest{Category: category, Symbol: strings.ToUpper(symbol)}
	if isLinkID(orderID) {
		req.OrderLinkID = orderID
	} else {
		req.OrderID = orderID
	}
	return c.call(ctx, http.MethodPost, "/v5/order/cancel", nil, req, true, nil)
}

// OrderStatus 查询订单
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*model.OrderResponse, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", strings.ToUpper(symbol))
	if isLinkID(orderID) {
		q.Set("orderLinkId", orderID)
	} else {
		q.Set("orderId", orderID)
	}
	var list OrderList
	if err := c.call(ctx, http.MethodGet, "/v5/order/realtime", q, nil, true, &list); err != nil {
		return nil, err
	}
	if len(list.List) == 0 {
		return nil, &model.Error{Kind: model.KindTrading, Op: "order_status", Venue: model.ExchangeBybit,
			Symbol: symbol, OrderID: orderID, Err: errors.New("订单不存在")}
	}
	return toOrderResponse(&list.List[0]), nil
}

// Balances 查询统一账户余额
func (c *Client) Balances(ctx context.Context) ([]model.Balance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	var wb WalletBalance
	if err := c.call(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil, true, &wb); err != nil {
		return nil, err
	}
	var out []model.Balance
	for _, acct := range wb.List {
		for _, coin := range acct.Coin {
			total := fastparse.MustParseFloat(coin.WalletBalance)
			locked := fastparse.MustParseFloat(coin.Locked)
			if total <= 0 {
				continue
			}
			out = append(out, model.Balance{Asset: coin.Coin, Free: total - locked, Locked: locked})
		}
	}
	return out, nil
}

// call 发送请求并解析 v5 统一响应
// 参数 signed: 是否签名；GET 对 query string 签名，POST 对 JSON body 签名
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body any, signed bool, out any) error {
	query := ""
	if len(q) > 0 {
		query = q.Encode()
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		payload = b
	}

	u := strings.TrimRight(c.cfg.RestURL, "/") + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		if !c.cfg.HasCredentials() {
			return model.Errorf(model.KindConfig, path, "未配置 Bybit API 凭证")
		}
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		recv := strconv.Itoa(c.cfg.RecvWindowMs)
		signPayload := query
		if method == http.MethodPost {
			signPayload = string(payload)
		}
		req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", recv)
		req.Header.Set("X-BAPI-SIGN", sign.HMACSHA256Hex(c.cfg.SecretKey, ts+c.cfg.APIKey+recv+signPayload))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("Bybit 请求 %s 被中断: %w", path, ctx.Err())
		}
		return model.NewError(model.KindConnection, path, fmt.Errorf("Bybit 请求失败: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewError(model.KindConnection, path, fmt.Errorf("读取响应体失败: %w", err))
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return model.NewError(model.KindConnection, path, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode))
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.NewError(model.KindDataParsing, path, fmt.Errorf("解析 Bybit 响应失败: %w", err))
	}
	if env.RetCode != 0 {
		kind := model.KindTrading
		if connectionRetCodes[env.RetCode] {
			kind = model.KindConnection
		}
		return &model.Error{Kind: kind, Op: path, Venue: model.ExchangeBybit, Err: &APIError{Code: env.RetCode, Msg: env.RetMsg}}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return model.NewError(model.KindDataParsing, path, fmt.Errorf("解析 Bybit 结果失败: %w", err))
	}
	return nil
}

func isLinkID(id string) bool {
	return strings.HasPrefix(id, "arb_")
}

func sideString(s model.OrderSide) string {
	if s == model.SideSell {
		return "Sell"
	}
	return "Buy"
}

func tifString(t model.TimeInForce) string {
	switch t {
	case model.TIFIOC:
		return "IOC"
	case model.TIFFOK:
		return "FOK"
	case model.TIFGTX:
		return "PostOnly"
	default:
		return "GTC"
	}
}

func toOrderResponse(o *OrderInfo) *model.OrderResponse {
	ts := fastparse.MustParseInt(o.UpdatedTime) * int64(time.Millisecond)
	return &model.OrderResponse{
		OrderID:        o.OrderID,
		ClientOrderID:  o.OrderLinkID,
		Venue:          model.ExchangeBybit,
		Symbol:         o.Symbol,
		Side:           model.OrderSide(strings.ToLower(o.Side)),
		Quantity:       fastparse.MustParseFloat(o.Qty),
		Price:          fastparse.MustParseFloat(o.Price),
		Status:         mapStatus(o.OrderStatus),
		FilledQuantity: fastparse.MustParseFloat(o.CumExecQty),
		AveragePrice:   fastparse.MustParseFloat(o.AvgPrice),
		Fee:            fastparse.MustParseFloat(o.CumExecFee),
		TimestampNs:    ts,
	}
}

func mapStatus(s string) model.OrderStatus {
	switch s {
	case "New", "Created", "Untriggered":
		return model.StatusNew
	case "PartiallyFilled":
		return model.StatusPartiallyFilled
	case "Filled":
		return model.StatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return model.StatusCanceled
	case "Rejected":
		return model.StatusRejected
	}
	return model.StatusNew
}
