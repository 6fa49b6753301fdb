package binance

import "fmt"

// SubscribeRequest WebSocket 订阅请求
// 订阅 <symbol>@depth<levels>@100ms 行情流。
type SubscribeRequest struct {
	// Method 订阅方法: SUBSCRIBE
	Method string `json:"method"`
	// Params 订阅参数列表，如 "btcusdt@depth20@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// PartialDepth 有限档深度推送（depth5/10/20）
// 每条推送均为完整快照，不需要增量合并。
type PartialDepth struct {
	// LastUpdateID 最后更新 ID
	LastUpdateID int64 `json:"lastUpdateId"`
	// Bids 买盘 [[price, qty], ...]（字符串）
	Bids [][]string `json:"bids"`
	// Asks 卖盘 [[price, qty], ...]（字符串）
	Asks [][]string `json:"asks"`
}

// OrderResponse 下单 / 查询订单响应
// API: POST /api/v3/order (newOrderRespType=FULL), GET /api/v3/order
type OrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	TransactTime        int64  `json:"transactTime"`
	Time                int64  `json:"time"`
	Fills               []Fill `json:"fills"`
}

// Fill 成交明细
type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// AccountResponse 账户信息
// API: GET /api/v3/account
type AccountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// APIError 接口错误响应，如 {"code":-2010,"msg":"Account has insufficient balance"}
type APIError struct {
	// Status HTTP 状态码
	Status int `json:"-"`
	// Code 错误码
	Code int `json:"code"`
	// Msg 错误信息
	Msg string `json:"msg"`
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}
