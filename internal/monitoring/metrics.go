// Package monitoring 导出 Prometheus 指标并提供 /metrics HTTP 服务。
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/strategy"
	"cross-exchange-arbitrage/internal/exchange/stream"
	"cross-exchange-arbitrage/internal/stats/latency"
)

const namespace = "arb"

// Metrics 策略指标集合，实现 strategy.Observer
type Metrics struct {
	opportunities *prometheus.CounterVec
	executions    *prometheus.CounterVec
	spread        prometheus.Histogram
	pnl           prometheus.Gauge
	volume        prometheus.Gauge
	successRate   prometheus.Gauge
	drawdown      prometheus.Gauge
	dailyLoss     prometheus.Gauge
	fees          *prometheus.GaugeVec
	state         *prometheus.GaugeVec

	feedConnected  *prometheus.GaugeVec
	feedReconnects *prometheus.GaugeVec
	feedParseErrs  *prometheus.GaugeVec
	feedRate       *prometheus.GaugeVec
	orderLatency   *prometheus.GaugeVec
	feedLatency    *prometheus.GaugeVec
}

var _ strategy.Observer = (*Metrics)(nil)

// NewMetrics 创建并注册指标
// 参数 reg: 注册器，测试中使用独立的 prometheus.NewRegistry()
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Detected arbitrage opportunities.",
		}, []string{"symbol", "scenario"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executed opportunities by result.",
		}, []string{"symbol", "result"}),
		spread: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "opportunity_spread_bps",
			Help:      "Spread of detected opportunities in basis points.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		pnl: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_pnl",
			Help:      "Total profit and loss in quote currency.",
		}),
		volume: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_volume",
			Help:      "Executed notional volume in quote currency.",
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success_rate",
			Help:      "Executed over detected opportunities.",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_drawdown_ratio",
			Help:      "Maximum drawdown as a fraction of initial equity.",
		}),
		dailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_loss",
			Help:      "Loss since the start of the current UTC day.",
		}),
		fees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fees_total",
			Help:      "Cumulative fees by leg role; negative maker values are rebates earned.",
		}, []string{"role"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy_state",
			Help:      "1 for the current strategy state, 0 otherwise.",
		}, []string{"state"}),
		feedConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "Whether the market data WebSocket is connected.",
		}, []string{"venue"}),
		feedReconnects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_reconnects",
			Help:      "WebSocket reconnect count.",
		}, []string{"venue"}),
		feedParseErrs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_parse_errors",
			Help:      "Dropped market data messages.",
		}, []string{"venue"}),
		feedRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_updates_per_second",
			Help:      "Order book updates per second.",
		}, []string{"venue"}),
		orderLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_latency_ms",
			Help:      "Order round trip latency quantiles in milliseconds.",
		}, []string{"venue", "quantile"}),
		feedLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_latency_ms",
			Help:      "Exchange event to local arrival latency quantiles in milliseconds.",
		}, []string{"venue", "quantile"}),
	}
	reg.MustRegister(
		m.opportunities, m.executions, m.spread, m.pnl, m.volume, m.successRate,
		m.drawdown, m.dailyLoss, m.fees, m.state, m.feedConnected, m.feedReconnects,
		m.feedParseErrs, m.feedRate, m.orderLatency, m.feedLatency,
	)
	return m
}

// OnOpportunity 记录检测到的机会
func (m *Metrics) OnOpportunity(op model.Opportunity) {
	m.opportunities.WithLabelValues(op.Symbol, string(op.Scenario)).Inc()
	m.spread.Observe(float64(op.SpreadBps))
}

// OnExecution 记录执行结果
func (m *Metrics) OnExecution(rec strategy.ExecutionRecord) {
	result := "success"
	if rec.Err != nil {
		result = "failure"
	}
	m.executions.WithLabelValues(rec.Opportunity.Symbol, result).Inc()
}

// OnStatistics 刷新汇总指标
func (m *Metrics) OnStatistics(st strategy.Statistics) {
	m.pnl.Set(st.TotalPnL)
	m.volume.Set(st.TotalVolume)
	m.successRate.Set(st.SuccessRate)
	m.drawdown.Set(st.MaxDrawdownPct)
	m.dailyLoss.Set(st.DailyLoss)
	m.fees.WithLabelValues("maker").Set(-st.TotalMakerRebates)
	m.fees.WithLabelValues("taker").Set(st.TotalTakerFees)
	for _, s := range []strategy.State{strategy.StateStopped, strategy.StateRunning, strategy.StatePaused} {
		v := 0.0
		if s == st.State {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveFeed 刷新行情连接指标
func (m *Metrics) ObserveFeed(venue string, fm stream.Metrics) {
	connected := 0.0
	if fm.Connected {
		connected = 1
	}
	m.feedConnected.WithLabelValues(venue).Set(connected)
	m.feedReconnects.WithLabelValues(venue).Set(float64(fm.ReconnectCount))
	m.feedParseErrs.WithLabelValues(venue).Set(float64(fm.ParseErrorCount))
	m.feedRate.WithLabelValues(venue).Set(fm.UpdatesPerSec)
}

// ObserveLatency 刷新时延分位数
func (m *Metrics) ObserveLatency(st latency.Stats) {
	if st.OrderCount > 0 {
		m.orderLatency.WithLabelValues(st.Venue, "0.5").Set(st.OrderP50Ms)
		m.orderLatency.WithLabelValues(st.Venue, "0.9").Set(st.OrderP90Ms)
		m.orderLatency.WithLabelValues(st.Venue, "0.99").Set(st.OrderP99Ms)
	}
	if st.FeedCount > 0 {
		m.feedLatency.WithLabelValues(st.Venue, "0.5").Set(st.FeedP50Ms)
		m.feedLatency.WithLabelValues(st.Venue, "0.9").Set(st.FeedP90Ms)
		m.feedLatency.WithLabelValues(st.Venue, "0.99").Set(st.FeedP99Ms)
	}
}
