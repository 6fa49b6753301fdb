// Package equity 维护权益曲线统计（夏普比率、最大回撤、当日亏损）。
// 夏普比率基于相邻两个权益样本的收益率，采用滚动窗口 O(1) 更新。
package equity

import (
	"math"
	"time"
)

// Stats 权益曲线统计快照
type Stats struct {
	// Samples 累计样本数
	Samples int64 `json:"samples"`
	// Last 最新 PnL
	Last float64 `json:"last"`
	// Peak 历史最高 PnL
	Peak float64 `json:"peak"`
	// MaxDrawdown 最大回撤（计价币绝对值）
	MaxDrawdown float64 `json:"max_drawdown"`
	// MaxDrawdownPct 最大回撤占初始权益比例
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	// Sharpe 窗口内收益率均值 / 标准差（未年化），样本不足时为 0
	Sharpe float64 `json:"sharpe"`
	// DailyLoss 当日亏损（相对当日首个样本，非负）
	DailyLoss float64 `json:"daily_loss"`
}

// Curve 权益曲线
// 样本为相对初始权益的 PnL；非并发安全，由调用方加锁。
type Curve struct {
	initialEquity float64
	windowSize    int

	// 收益率环形缓冲区
	buf   []float64
	pos   int
	full  bool
	n     int
	sum   float64
	sumSq float64

	samples int64
	last    float64
	hasLast bool
	peak    float64
	maxDD   float64

	day      time.Time
	dayStart float64
}

// NewCurve 创建权益曲线
// 参数 initialEquity: 初始权益（计价币），用于收益率与回撤比例
// 参数 windowSize: 夏普比率滚动窗口大小（<=0 时取 1000）
func NewCurve(initialEquity float64, windowSize int) *Curve {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Curve{
		initialEquity: initialEquity,
		windowSize:    windowSize,
		buf:           make([]float64, windowSize),
	}
}

// InitialEquity 返回初始权益
func (c *Curve) InitialEquity() float64 {
	return c.initialEquity
}

// Add 追加一个 PnL 样本
// 参数 at: 样本时间，用于按 UTC 日切分当日亏损
func (c *Curve) Add(pnl float64, at time.Time) {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return
	}

	if c.hasLast && c.initialEquity > 0 {
		c.push((pnl - c.last) / c.initialEquity)
	}

	day := at.UTC().Truncate(24 * time.Hour)
	if !c.hasLast || !day.Equal(c.day) {
		// 当日基准取前一个样本（首个样本取 0）
		if c.hasLast {
			c.dayStart = c.last
		}
		c.day = day
	}

	c.samples++
	c.last = pnl
	c.hasLast = true

	if pnl > c.peak {
		c.peak = pnl
	}
	if dd := c.peak - pnl; dd > c.maxDD {
		c.maxDD = dd
	}
}

func (c *Curve) push(r float64) {
	if c.full {
		old := c.buf[c.pos]
		c.sum -= old
		c.sumSq -= old * old
		c.n--
	}
	c.buf[c.pos] = r
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}
	c.n++
	c.sum += r
	c.sumSq += r * r
}

// Stats 返回统计快照
func (c *Curve) Stats() Stats {
	out := Stats{
		Samples:     c.samples,
		Last:        c.last,
		Peak:        c.peak,
		MaxDrawdown: c.maxDD,
		Sharpe:      c.sharpe(),
	}
	if c.initialEquity > 0 {
		out.MaxDrawdownPct = c.maxDD / c.initialEquity
	}
	if loss := c.dayStart - c.last; loss > 0 {
		out.DailyLoss = loss
	}
	return out
}

func (c *Curve) sharpe() float64 {
	if c.n < 2 {
		return 0
	}
	n := float64(c.n)
	mean := c.sum / n
	variance := (c.sumSq - n*mean*mean) / (n - 1)
	if variance <= 1e-18 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// Reset 清空全部样本
func (c *Curve) Reset() {
	*c = *NewCurve(c.initialEquity, c.windowSize)
}
