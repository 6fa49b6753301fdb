// Package paper 实现 dry-run 模式的模拟成交与组合管理。
// 不产生任何网络调用，全部成交均基于缓存的行情快照与可配置的随机模型。
package paper

import (
	"sort"
	"strings"
)

// cashCurrencies 计入 PnL 的现金币种
var cashCurrencies = map[string]bool{"USDT": true, "USD": true, "USDC": true}

// Portfolio 模拟组合
// 仓位为带符号的基础币数量，余额以币种为键。
type Portfolio struct {
	// Positions 交易对 -> 仓位
	Positions map[string]float64 `json:"positions"`
	// Balances 币种 -> 余额
	Balances map[string]float64 `json:"balances"`
	// InitialBalances 初始余额快照
	InitialBalances map[string]float64 `json:"initial_balances"`
}

// NewPortfolio 创建组合
// 参数 initial: 初始余额，会被拷贝
func NewPortfolio(initial map[string]float64) *Portfolio {
	p := &Portfolio{
		Positions:       make(map[string]float64),
		Balances:        make(map[string]float64, len(initial)),
		InitialBalances: make(map[string]float64, len(initial)),
	}
	for k, v := range initial {
		k = strings.ToUpper(k)
		p.Balances[k] = v
		p.InitialBalances[k] = v
	}
	return p
}

// Position 获取交易对仓位
func (p *Portfolio) Position(symbol string) float64 {
	return p.Positions[symbol]
}

// Balance 获取币种余额
func (p *Portfolio) Balance(currency string) float64 {
	return p.Balances[strings.ToUpper(currency)]
}

// UpdatePosition 调整仓位
func (p *Portfolio) UpdatePosition(symbol string, delta float64) {
	p.Positions[symbol] += delta
}

// UpdateBalance 调整余额
func (p *Portfolio) UpdateBalance(currency string, delta float64) {
	p.Balances[strings.ToUpper(currency)] += delta
}

// InitialCash 初始现金总额，作为权益曲线的基准
func (p *Portfolio) InitialCash() float64 {
	total := 0.0
	for cur, v := range p.InitialBalances {
		if cashCurrencies[cur] {
			total += v
		}
	}
	return total
}

// PnL 计算总盈亏
// PnL = Σ(仓位 × 标记价) + Σ(现金余额 - 初始余额)
// 参数 prices: 交易对 -> 标记价，缺少标记价的仓位不计入
func (p *Portfolio) PnL(prices map[string]float64) float64 {
	total := 0.0
	for sym, pos := range p.Positions {
		if px, ok := prices[sym]; ok {
			total += pos * px
		}
	}
	for cur, bal := range p.Balances {
		if cashCurrencies[cur] {
			total += bal - p.InitialBalances[cur]
		}
	}
	return total
}

// Clone 深拷贝
func (p *Portfolio) Clone() *Portfolio {
	out := &Portfolio{
		Positions:       make(map[string]float64, len(p.Positions)),
		Balances:        make(map[string]float64, len(p.Balances)),
		InitialBalances: make(map[string]float64, len(p.InitialBalances)),
	}
	for k, v := range p.Positions {
		out.Positions[k] = v
	}
	for k, v := range p.Balances {
		out.Balances[k] = v
	}
	for k, v := range p.InitialBalances {
		out.InitialBalances[k] = v
	}
	return out
}

// Symbols 返回持有仓位的交易对（排序）
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Positions))
	for sym := range p.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// QuoteAsset 解析交易对的计价币，无法识别时返回 USDT
func QuoteAsset(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, q := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return q
		}
	}
	return "USDT"
}
