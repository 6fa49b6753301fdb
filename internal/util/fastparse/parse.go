// Package fastparse 解析交易所 REST 与 WebSocket 报文中以字符串表示的数值字段。
// Binance 与 Bybit 的价格、数量、时间戳均以字符串下发，热路径上直接走 strconv。
package fastparse

import (
	"strconv"
	"strings"
)

// ParseFloat 解析价格或数量字符串
// 允许首尾空白，空字符串视为错误。
// 参数 s: 待解析的字符串，如 "50000.10"
// 返回: 解析后的浮点数和可能的错误
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// MustParseFloat 解析浮点数，失败时返回 0
// 交易所对未成交订单的均价等字段会下发 "" 或 "0"，统一按 0 处理。
func MustParseFloat(s string) float64 {
	v, err := ParseFloat(s)
	if err != nil {
		return 0
	}
	return v
}

// MustParseInt 解析整数，失败时返回 0
func MustParseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
