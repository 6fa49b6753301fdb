package paper

// PerformanceMetrics 模拟执行绩效
type PerformanceMetrics struct {
	// TotalOrders 已执行订单数（不含拒单）
	TotalOrders int64 `json:"total_orders"`
	// FilledOrders 有成交的订单数
	FilledOrders int64 `json:"filled_orders"`
	// RejectedOrders 模拟拒单数
	RejectedOrders int64 `json:"rejected_orders"`
	// TotalVolume 成交名义价值
	TotalVolume float64 `json:"total_volume"`
	// AvgLatencyMs 平均执行耗时（毫秒，滚动均值）
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	// SuccessRate 有成交比例（滚动均值）
	SuccessRate float64 `json:"success_rate"`
	// TotalFees 累计手续费
	TotalFees float64 `json:"total_fees"`
	// SharpeRatio 基于每次成交后 PnL 曲线的夏普比率
	SharpeRatio float64 `json:"sharpe_ratio"`
	// MaxDrawdown 最大回撤（计价币）
	MaxDrawdown float64 `json:"max_drawdown"`
	// MaxDrawdownPct 最大回撤占初始现金比例
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// record 记录一笔已执行订单
func (m *PerformanceMetrics) record(latencyMs, notional, fee float64, filled bool) {
	m.TotalOrders++
	n := float64(m.TotalOrders)
	m.AvgLatencyMs += (latencyMs - m.AvgLatencyMs) / n

	hit := 0.0
	if filled {
		hit = 1
		m.FilledOrders++
	}
	m.SuccessRate += (hit - m.SuccessRate) / n

	m.TotalVolume += notional
	m.TotalFees += fee
}
