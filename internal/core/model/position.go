package model

import "time"

// Position 实盘仓位（按交易所 + 交易对）
type Position struct {
	// Venue 交易所
	Venue string `json:"venue"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Size 带符号仓位，正为多头
	Size float64 `json:"size"`
	// AvgPrice 持仓均价
	AvgPrice float64 `json:"avg_price"`
	// UnrealizedPnL 未实现盈亏
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	// RealizedPnL 已实现盈亏
	RealizedPnL float64 `json:"realized_pnl"`
	// LastUpdate 最后更新时间
	LastUpdate time.Time `json:"last_update"`
}

// ApplyFill 将一笔成交计入仓位
// 同向加仓按成交量加权更新均价；反向减仓按均价结算已实现盈亏，
// 穿越零点时剩余部分以成交价开新仓。
func (p *Position) ApplyFill(side OrderSide, qty, price float64, at time.Time) {
	if qty <= 0 {
		return
	}
	signed := side.Sign() * qty

	switch {
	case p.Size == 0 || (p.Size > 0) == (signed > 0):
		total := abs(p.Size) + qty
		p.AvgPrice = (p.AvgPrice*abs(p.Size) + price*qty) / total
		p.Size += signed
	default:
		closing := qty
		if closing > abs(p.Size) {
			closing = abs(p.Size)
		}
		dir := 1.0
		if p.Size < 0 {
			dir = -1
		}
		p.RealizedPnL += (price - p.AvgPrice) * closing * dir
		p.Size += signed
		switch {
		case p.Size == 0:
			p.AvgPrice = 0
		case (p.Size > 0) != (dir > 0):
			p.AvgPrice = price
		}
	}
	p.LastUpdate = at
}

// Mark 按最新价格更新未实现盈亏
func (p *Position) Mark(price float64, at time.Time) {
	if p.Size == 0 || price <= 0 {
		p.UnrealizedPnL = 0
	} else {
		p.UnrealizedPnL = (price - p.AvgPrice) * p.Size
	}
	p.LastUpdate = at
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
