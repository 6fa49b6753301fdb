package equity

import "fmt"

// Limits 风险限额
type Limits struct {
	// MaxDrawdownPct 最大回撤比例（0 表示不检查）
	MaxDrawdownPct float64
	// DailyLossLimit 当日最大亏损（计价币，0 表示不检查）
	DailyLossLimit float64
}

// Breach 检查统计是否触发风险限额
// 返回: 触发原因，未触发时返回空字符串
func (l Limits) Breach(s Stats) string {
	if l.MaxDrawdownPct > 0 && s.MaxDrawdownPct >= l.MaxDrawdownPct {
		return fmt.Sprintf("max_drawdown %.4f >= %.4f", s.MaxDrawdownPct, l.MaxDrawdownPct)
	}
	if l.DailyLossLimit > 0 && s.DailyLoss >= l.DailyLossLimit {
		return fmt.Sprintf("daily_loss %.2f >= %.2f", s.DailyLoss, l.DailyLossLimit)
	}
	return ""
}
