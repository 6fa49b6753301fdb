// Package signal 实现跨交易所套利机会检测。
// A 为 Maker 交易所（主交易所），B 为 Taker 交易所。
// 每个交易对同时评估两个方向：
//   - sell A / buy B: bid(A) > ask(B)
//   - buy A / sell B: bid(B) > ask(A)
package signal

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/util/timeutil"
)

// BookSource 订单簿数据源（由聚合器实现）
type BookSource interface {
	// Pair 获取同一交易对在两个交易所的订单簿拷贝，缺失一侧返回 nil
	Pair(symbol, venueA, venueB string) (bookA, bookB *model.OrderBook)
}

// Params 检测参数
type Params struct {
	// MakerVenue Maker 交易所（A）
	MakerVenue string
	// TakerVenue Taker 交易所（B）
	TakerVenue string
	// MinSpreadBps 最小价差（基点）
	MinSpreadBps int
	// MaxPositionSize 最大仓位
	MaxPositionSize float64
	// MinOrderSize 最小下单量
	MinOrderSize float64
	// MinProfit 最小预期利润，0 表示仅要求为正
	MinProfit float64
	// MakerFee A 侧 Maker 费率（负数为返佣）
	MakerFee float64
	// TakerFee B 侧 Taker 费率
	TakerFee float64
}

// ParamsFromConfig 从配置构建检测参数
func ParamsFromConfig(cfg *config.Config) Params {
	p := Params{
		MakerVenue:      cfg.Exchanges.Primary,
		TakerVenue:      cfg.Exchanges.Secondary(),
		MinSpreadBps:    cfg.Strategy.MinSpreadBps,
		MaxPositionSize: cfg.Strategy.MaxPositionSize,
		MinOrderSize:    cfg.Execution.MinOrderSize,
		MinProfit:       cfg.Strategy.MinProfitUSD,
	}
	if v := cfg.Exchanges.Venue(p.MakerVenue); v != nil {
		p.MakerFee = v.Fees.MakerRate
	}
	if v := cfg.Exchanges.Venue(p.TakerVenue); v != nil {
		p.TakerFee = v.Fees.TakerRate
	}
	return p
}

// Stats 检测统计
type Stats struct {
	// Passes 检测轮数
	Passes int64 `json:"passes"`
	// Detected 累计检测到的机会数（每轮加上本轮批量大小）
	Detected int64 `json:"detected"`
	// LastBatch 最近一轮的机会数
	LastBatch int `json:"last_batch"`
	// LastPassNs 最近一轮时间（纳秒）
	LastPassNs int64 `json:"last_pass_ns"`
}

// Detector 套利机会检测器
// 机会列表每轮整体替换，不与上一轮合并。
type Detector struct {
	params Params
	books  BookSource
	logger *zap.Logger

	mu            sync.RWMutex
	opportunities []model.Opportunity
	stats         Stats
}

// NewDetector 创建检测器
// 参数 params: 检测参数
// 参数 books: 订单簿数据源
// 参数 logger: 日志记录器
func NewDetector(params Params, books BookSource, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		params: params,
		books:  books,
		logger: logger.Named("detector"),
	}
}

// Params 返回检测参数
func (d *Detector) Params() Params {
	return d.params
}

// Detect 对给定交易对执行一轮检测
// 结果替换已保存的机会列表，并累加检测计数。
// 返回: 本轮检测到的全部机会
func (d *Detector) Detect(symbols []string) []model.Opportunity {
	nowNs := timeutil.NowNano()
	var batch []model.Opportunity
	for _, sym := range symbols {
		bookA, bookB := d.books.Pair(sym, d.params.MakerVenue, d.params.TakerVenue)
		if bookA == nil || bookB == nil {
			continue
		}
		batch = append(batch, Evaluate(d.params, sym, bookA, bookB, nowNs)...)
	}

	d.mu.Lock()
	d.opportunities = batch
	d.stats.Passes++
	d.stats.Detected += int64(len(batch))
	d.stats.LastBatch = len(batch)
	d.stats.LastPassNs = nowNs
	d.mu.Unlock()

	for i := range batch {
		op := &batch[i]
		d.logger.Debug("检测到套利机会",
			zap.String("symbol", op.Symbol),
			zap.String("scenario", string(op.Scenario)),
			zap.String("buy_venue", op.BuyVenue),
			zap.String("sell_venue", op.SellVenue),
			zap.Int64("spread_bps", op.SpreadBps),
			zap.Float64("quantity", op.Quantity),
			zap.Float64("profit", op.ExpectedProfit),
			zap.Int("risk_score", op.RiskScore),
		)
	}

	out := make([]model.Opportunity, len(batch))
	copy(out, batch)
	return out
}

// Opportunities 返回最近一轮的机会列表拷贝
func (d *Detector) Opportunities() []model.Opportunity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Opportunity, len(d.opportunities))
	copy(out, d.opportunities)
	return out
}

// Stats 返回检测统计快照
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Evaluate 基于两侧订单簿计算套利机会（纯函数）
// 参数 bookA: Maker 交易所订单簿
// 参数 bookB: Taker 交易所订单簿
// 返回: 0、1 或 2 个机会；两个方向独立评估，交叉盘照常参与计算
func Evaluate(p Params, symbol string, bookA, bookB *model.OrderBook, nowNs int64) []model.Opportunity {
	if bookA == nil || bookB == nil {
		return nil
	}
	var out []model.Opportunity

	bidA, okBidA := bookA.BestBid()
	askA, okAskA := bookA.BestAsk()
	bidB, okBidB := bookB.BestBid()
	askB, okAskB := bookB.BestAsk()

	// sell A / buy B
	if okBidA && okAskB && bidA.Price > askB.Price {
		if op, ok := build(p, symbol, model.ScenarioSellABuyB,
			bookB.Venue, askB, bookA.Venue, bidA, bidA.Price, askB.Price, nowNs); ok {
			out = append(out, op)
		}
	}

	// buy A / sell B
	if okAskA && okBidB && bidB.Price > askA.Price {
		if op, ok := build(p, symbol, model.ScenarioBuyASellB,
			bookA.Venue, askA, bookB.Venue, bidB, askA.Price, bidB.Price, nowNs); ok {
			out = append(out, op)
		}
	}

	return out
}

// build 根据买卖两侧档位构造机会，不满足阈值时返回 false
// makerPx 为 A 侧成交价，takerPx 为 B 侧成交价
func build(p Params, symbol string, scenario model.Scenario,
	buyVenue string, buy model.Level, sellVenue string, sell model.Level,
	makerPx, takerPx float64, nowNs int64) (model.Opportunity, bool) {

	spread := sell.Price - buy.Price
	spreadBps := int64(math.Round(spread / buy.Price * 10000))
	if spreadBps < int64(p.MinSpreadBps) {
		return model.Opportunity{}, false
	}

	qty := math.Min(buy.Qty, sell.Qty)
	if p.MaxPositionSize > 0 {
		qty = math.Min(qty, p.MaxPositionSize)
	}
	if qty < p.MinOrderSize || qty <= 0 {
		return model.Opportunity{}, false
	}

	profit := spread*qty - makerPx*qty*p.MakerFee - takerPx*qty*p.TakerFee
	if profit <= 0 || profit < p.MinProfit {
		return model.Opportunity{}, false
	}

	return model.Opportunity{
		Symbol:         symbol,
		Scenario:       scenario,
		BuyVenue:       buyVenue,
		SellVenue:      sellVenue,
		BuyPrice:       buy.Price,
		SellPrice:      sell.Price,
		Quantity:       qty,
		SpreadBps:      spreadBps,
		ExpectedProfit: profit,
		RiskScore:      RiskScore(spreadBps, qty),
		DetectedAtNs:   nowNs,
	}, true
}

// RiskScore 计算风险评分（0-100）
// 价差越薄、数量越大风险越高，另加固定的波动率基础分。
func RiskScore(spreadBps int64, qty float64) int {
	score := 0

	switch {
	case spreadBps < 10:
		score += 30
	case spreadBps < 20:
		score += 15
	}

	switch {
	case qty > 1.0:
		score += 20
	case qty > 0.5:
		score += 10
	}

	// 波动率基础分
	score += 10

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
