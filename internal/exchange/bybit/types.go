package bybit

import (
	"encoding/json"
	"fmt"
)

// SubscribeRequest WebSocket 订阅请求，如 {"op":"subscribe","args":["orderbook.50.BTCUSDT"]}
type SubscribeRequest struct {
	// Op 操作: subscribe, ping
	Op string `json:"op"`
	// Args 订阅主题
	Args []string `json:"args,omitempty"`
}

// OrderbookMessage orderbook.<depth>.<symbol> 推送
// type=snapshot 时替换本地订单簿，type=delta 时增量合并，数量为 "0" 表示删除档位。
type OrderbookMessage struct {
	// Topic 主题
	Topic string `json:"topic"`
	// Type snapshot / delta
	Type string `json:"type"`
	// Ts 推送时间（毫秒）
	Ts int64 `json:"ts"`
	// Data 深度数据
	Data OrderbookData `json:"data"`
	// Op 控制消息操作（pong / subscribe 响应）
	Op string `json:"op"`
	// Success 控制消息是否成功
	Success *bool `json:"success"`
	// RetMsg 控制消息说明
	RetMsg string `json:"ret_msg"`
}

// OrderbookData 深度数据
type OrderbookData struct {
	// Symbol 交易对
	Symbol string `json:"s"`
	// Bids 买盘 [[price, size], ...]
	Bids [][]string `json:"b"`
	// Asks 卖盘 [[price, size], ...]
	Asks [][]string `json:"a"`
	// UpdateID 更新 ID，为 1 时表示服务端重置快照
	UpdateID int64 `json:"u"`
	// Seq 序列号
	Seq int64 `json:"seq"`
}

// Envelope v5 REST 统一响应
type Envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// CreateOrderRequest 下单请求
// API: POST /v5/order/create
type CreateOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

// CancelOrderRequest 撤单请求
// API: POST /v5/order/cancel
type CancelOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

// OrderResult 下单 / 撤单结果
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// OrderInfo 订单详情
// API: GET /v5/order/realtime
type OrderInfo struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
	CumExecQty  string `json:"cumExecQty"`
	CumExecFee  string `json:"cumExecFee"`
	UpdatedTime string `json:"updatedTime"`
}

// OrderList 订单列表
type OrderList struct {
	List []OrderInfo `json:"list"`
}

// WalletBalance 钱包余额
// API: GET /v5/account/wallet-balance?accountType=UNIFIED
type WalletBalance struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
			Locked        string `json:"locked"`
		} `json:"coin"`
	} `json:"list"`
}

// OrderbookSnapshot REST 订单簿快照
// API: GET /v5/market/orderbook?category=spot
type OrderbookSnapshot struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
}

// APIError 接口错误（retCode != 0）
type APIError struct {
	// Code retCode
	Code int
	// Msg retMsg
	Msg string
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error: retCode=%d retMsg=%s", e.Code, e.Msg)
}
