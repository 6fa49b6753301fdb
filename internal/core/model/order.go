package model

import "strings"

// OrderSide 订单方向
type OrderSide string

const (
	// SideBuy 买入
	SideBuy OrderSide = "buy"
	// SideSell 卖出
	SideSell OrderSide = "sell"
)

// Sign 方向系数：买入 +1，卖出 -1
func (s OrderSide) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite 返回反方向
func (s OrderSide) Opposite() OrderSide {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// TimeInForce 订单有效方式
type TimeInForce string

const (
	// TIFGTC 一直有效直至取消
	TIFGTC TimeInForce = "GTC"
	// TIFIOC 立即成交剩余取消
	TIFIOC TimeInForce = "IOC"
	// TIFFOK 全部成交或取消
	TIFFOK TimeInForce = "FOK"
	// TIFGTX 只做 Maker（post-only）
	TIFGTX TimeInForce = "GTX"
)

// IsPostOnly 是否为只挂单（Maker）订单
func (t TimeInForce) IsPostOnly() bool {
	return t == TIFGTX
}

// ParseTimeInForce 解析有效方式字符串，未知值回退为 GTC
func ParseTimeInForce(s string) TimeInForce {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IOC":
		return TIFIOC
	case "FOK":
		return TIFFOK
	case "GTX", "POST_ONLY", "POSTONLY", "LIMIT_MAKER":
		return TIFGTX
	default:
		return TIFGTC
	}
}

// OrderStatus 订单状态
type OrderStatus string

const (
	// StatusNew 已挂单未成交
	StatusNew OrderStatus = "new"
	// StatusPartiallyFilled 部分成交
	StatusPartiallyFilled OrderStatus = "partially_filled"
	// StatusFilled 完全成交
	StatusFilled OrderStatus = "filled"
	// StatusCanceled 已撤销
	StatusCanceled OrderStatus = "canceled"
	// StatusRejected 被拒绝
	StatusRejected OrderStatus = "rejected"
	// StatusExpired 已过期
	StatusExpired OrderStatus = "expired"
)

// IsTerminal 是否为终态（不会再有成交）
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// LimitOrder 限价单请求
type LimitOrder struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Side 方向
	Side OrderSide `json:"side"`
	// Quantity 数量（基础币）
	Quantity float64 `json:"quantity"`
	// Price 限价
	Price float64 `json:"price"`
	// TimeInForce 有效方式
	TimeInForce TimeInForce `json:"time_in_force"`
	// ClientOrderID 客户端订单号（可选）
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Notional 名义价值 = 数量 × 价格
func (o *LimitOrder) Notional() float64 {
	return o.Quantity * o.Price
}

// OrderResponse 下单/撤单/查询的统一响应
type OrderResponse struct {
	// OrderID 交易所订单号
	OrderID string `json:"order_id"`
	// ClientOrderID 客户端订单号
	ClientOrderID string `json:"client_order_id,omitempty"`
	// Venue 交易所
	Venue string `json:"venue"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Side 方向
	Side OrderSide `json:"side"`
	// Quantity 委托数量
	Quantity float64 `json:"quantity"`
	// Price 委托价格
	Price float64 `json:"price"`
	// Status 订单状态
	Status OrderStatus `json:"status"`
	// FilledQuantity 已成交数量
	FilledQuantity float64 `json:"filled_quantity"`
	// AveragePrice 成交均价（无成交时为 0）
	AveragePrice float64 `json:"average_price"`
	// Fee 手续费（计价币）
	Fee float64 `json:"fee"`
	// TimestampNs 时间戳（纳秒）
	TimestampNs int64 `json:"timestamp_ns"`
}

// FilledNotional 成交名义价值
func (r *OrderResponse) FilledNotional() float64 {
	return r.FilledQuantity * r.AveragePrice
}

// StatusForFill 根据成交比例确定订单状态
// 全部成交为 Filled，部分成交为 PartiallyFilled，无成交为 New
func StatusForFill(filled, requested float64) OrderStatus {
	switch {
	case requested > 0 && filled >= requested:
		return StatusFilled
	case filled > 0:
		return StatusPartiallyFilled
	default:
		return StatusNew
	}
}

// Balance 账户资产余额
type Balance struct {
	// Asset 资产代码，如 USDT
	Asset string `json:"asset"`
	// Free 可用数量
	Free float64 `json:"free"`
	// Locked 冻结数量
	Locked float64 `json:"locked"`
}

// Total 总额 = 可用 + 冻结
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}
