package jsonl

import (
	"time"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/strategy"
)

// BookRecord 订单簿快照记录（books.jsonl），回放行情源读取同一格式
type BookRecord struct {
	// Venue 交易所
	Venue string `json:"venue"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// TsNs 快照时间（纳秒）
	TsNs int64 `json:"ts_ns"`
	// Bids 买盘（价格降序）
	Bids []model.Level `json:"bids"`
	// Asks 卖盘（价格升序）
	Asks []model.Level `json:"asks"`
}

// NewBookRecord 从订单簿生成快照记录
// 参数 depth: 每侧最多记录的档位数，<=0 表示全部
func NewBookRecord(b *model.OrderBook, depth int) BookRecord {
	if depth <= 0 {
		depth = max(b.BidLen(), b.AskLen())
	}
	return BookRecord{
		Venue:  b.Venue,
		Symbol: b.Symbol,
		TsNs:   b.TimestampNs,
		Bids:   b.Bids(depth),
		Asks:   b.Asks(depth),
	}
}

// Book 还原为订单簿
func (r *BookRecord) Book() *model.OrderBook {
	b := model.NewOrderBook(r.Venue, r.Symbol)
	b.ApplySnapshot(r.Bids, r.Asks)
	b.SetTimestamp(r.TsNs)
	return b
}

// OpportunityRecord 套利机会记录（opportunities.jsonl）
type OpportunityRecord struct {
	model.Opportunity
	// Type 记录类型
	Type string `json:"type"`
}

// TradeRecord 套利执行记录（trades.jsonl）
// 每个机会一行，包含两条腿的成交结果。
type TradeRecord struct {
	Type           string  `json:"type"`
	Symbol         string  `json:"symbol"`
	Scenario       string  `json:"scenario"`
	BuyVenue       string  `json:"buy_venue"`
	SellVenue      string  `json:"sell_venue"`
	Quantity       float64 `json:"quantity"`
	SpreadBps      int64   `json:"spread_bps"`
	ExpectedProfit float64 `json:"expected_profit"`

	BuyOrderID  string  `json:"buy_order_id"`
	BuyStatus   string  `json:"buy_status"`
	BuyFilled   float64 `json:"buy_filled"`
	BuyAvgPx    float64 `json:"buy_avg_px"`
	BuyFee      float64 `json:"buy_fee"`
	SellOrderID string  `json:"sell_order_id"`
	SellStatus  string  `json:"sell_status"`
	SellFilled  float64 `json:"sell_filled"`
	SellAvgPx   float64 `json:"sell_avg_px"`
	SellFee     float64 `json:"sell_fee"`

	// RealizedPnL 按两条腿实际成交的已实现盈亏（取两腿成交量较小值）
	RealizedPnL float64 `json:"realized_pnl"`
	Success     bool    `json:"success"`
	Error       string  `json:"error,omitempty"`
	ExecutedAt  string  `json:"executed_at"`
}

// NewTradeRecord 从执行结果生成成交记录
func NewTradeRecord(rec strategy.ExecutionRecord) TradeRecord {
	op := rec.Opportunity
	tr := TradeRecord{
		Type:           "trade",
		Symbol:         op.Symbol,
		Scenario:       string(op.Scenario),
		BuyVenue:       op.BuyVenue,
		SellVenue:      op.SellVenue,
		Quantity:       op.Quantity,
		SpreadBps:      op.SpreadBps,
		ExpectedProfit: op.ExpectedProfit,
		Success:        rec.Err == nil && rec.Error == "",
		Error:          rec.Error,
		ExecutedAt:     rec.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
	if b := rec.Buy; b != nil {
		tr.BuyOrderID = b.OrderID
		tr.BuyStatus = string(b.Status)
		tr.BuyFilled = b.FilledQuantity
		tr.BuyAvgPx = b.AveragePrice
		tr.BuyFee = b.Fee
	}
	if s := rec.Sell; s != nil {
		tr.SellOrderID = s.OrderID
		tr.SellStatus = string(s.Status)
		tr.SellFilled = s.FilledQuantity
		tr.SellAvgPx = s.AveragePrice
		tr.SellFee = s.Fee
	}
	if rec.Buy != nil && rec.Sell != nil {
		q := min(tr.BuyFilled, tr.SellFilled)
		tr.RealizedPnL = q*(tr.SellAvgPx-tr.BuyAvgPx) - tr.BuyFee - tr.SellFee
	}
	return tr
}

// StatsRecord 策略统计快照（stats.jsonl）
type StatsRecord struct {
	strategy.Statistics
	// Type 记录类型
	Type string `json:"type"`
	// TsNs 快照时间（纳秒）
	TsNs int64 `json:"ts_ns"`
}
