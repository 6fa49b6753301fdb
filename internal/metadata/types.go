package metadata

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BinanceExchangeInfo Binance 现货交易规则响应
// API: GET /api/v3/exchangeInfo
type BinanceExchangeInfo struct {
	// Timezone 服务器时区
	Timezone string `json:"timezone"`
	// ServerTime 服务器时间（毫秒）
	ServerTime int64 `json:"serverTime"`
	// Symbols 交易对列表
	Symbols []BinanceSymbol `json:"symbols"`
}

// BinanceSymbol Binance 现货交易对
type BinanceSymbol struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// Status 状态: TRADING, BREAK, HALT
	Status string `json:"status"`
	// BaseAsset 基础币，如 BTC
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 计价币，如 USDT
	QuoteAsset string `json:"quoteAsset"`
	// IsSpotTradingAllowed 是否允许现货交易
	IsSpotTradingAllowed bool `json:"isSpotTradingAllowed"`
	// Filters 过滤器列表
	Filters []BinanceFilter `json:"filters"`
}

// BinanceFilter Binance 过滤器
type BinanceFilter struct {
	// FilterType 过滤器类型: PRICE_FILTER, LOT_SIZE, NOTIONAL, MIN_NOTIONAL
	FilterType string `json:"filterType"`
	// TickSize 价格步长（PRICE_FILTER）
	TickSize string `json:"tickSize,omitempty"`
	// StepSize 数量步长（LOT_SIZE）
	StepSize string `json:"stepSize,omitempty"`
	// MinQty 最小数量（LOT_SIZE）
	MinQty string `json:"minQty,omitempty"`
	// MinNotional 最小名义价值（NOTIONAL / MIN_NOTIONAL）
	MinNotional string `json:"minNotional,omitempty"`
}

// IsTradingSpot 是否为可交易的现货交易对
func (s *BinanceSymbol) IsTradingSpot() bool {
	return s.Status == "TRADING" && s.IsSpotTradingAllowed
}

// filter 查找指定类型的过滤器
func (s *BinanceSymbol) filter(types ...string) *BinanceFilter {
	for i := range s.Filters {
		for _, t := range types {
			if s.Filters[i].FilterType == t {
				return &s.Filters[i]
			}
		}
	}
	return nil
}

// BybitInstrumentsResponse Bybit 现货交易对响应
// API: GET /v5/market/instruments-info?category=spot
type BybitInstrumentsResponse struct {
	// RetCode 返回码，0 表示成功
	RetCode int `json:"retCode"`
	// RetMsg 返回消息
	RetMsg string `json:"retMsg"`
	// Result 结果
	Result struct {
		// Category 品类: spot
		Category string `json:"category"`
		// List 交易对列表
		List []BybitInstrument `json:"list"`
	} `json:"result"`
}

// BybitInstrument Bybit 现货交易对
type BybitInstrument struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// BaseCoin 基础币
	BaseCoin string `json:"baseCoin"`
	// QuoteCoin 计价币
	QuoteCoin string `json:"quoteCoin"`
	// Status 状态: Trading
	Status string `json:"status"`
	// LotSizeFilter 数量过滤器
	LotSizeFilter struct {
		// BasePrecision 数量精度（步长）
		BasePrecision string `json:"basePrecision"`
		// MinOrderQty 最小下单数量
		MinOrderQty string `json:"minOrderQty"`
		// MinOrderAmt 最小下单金额
		MinOrderAmt string `json:"minOrderAmt"`
	} `json:"lotSizeFilter"`
	// PriceFilter 价格过滤器
	PriceFilter struct {
		// TickSize 价格步长
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

// IsTrading 是否可交易
func (i *BybitInstrument) IsTrading() bool {
	return strings.EqualFold(i.Status, "Trading")
}

// Instrument 统一的现货交易规则
// 价格与数量规则使用 decimal 表示，避免浮点步长取整误差。
type Instrument struct {
	// Venue 交易所
	Venue string
	// Symbol 统一交易对，如 BTCUSDT
	Symbol string
	// Base 基础币
	Base string
	// Quote 计价币
	Quote string
	// TickSize 价格步长
	TickSize decimal.Decimal
	// StepSize 数量步长
	StepSize decimal.Decimal
	// MinQty 最小下单数量
	MinQty decimal.Decimal
	// MinNotional 最小名义价值
	MinNotional decimal.Decimal
}

// parseDecimal 解析交易所返回的数值字符串，空串或非法值返回 0
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
