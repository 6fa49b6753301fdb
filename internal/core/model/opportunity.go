package model

// Scenario 套利场景
type Scenario string

const (
	// ScenarioSellABuyB 在 Maker 交易所 A 卖出、在 Taker 交易所 B 买入
	// 触发条件: bid(A) > ask(B)
	ScenarioSellABuyB Scenario = "sell_a_buy_b"
	// ScenarioBuyASellB 在 Maker 交易所 A 买入、在 Taker 交易所 B 卖出
	// 触发条件: bid(B) > ask(A)
	ScenarioBuyASellB Scenario = "buy_a_sell_b"
)

// Opportunity 跨交易所套利机会
// 每轮检测重新生成，生成后不再修改。
type Opportunity struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Scenario 套利场景
	Scenario Scenario `json:"scenario"`
	// BuyVenue 买入交易所
	BuyVenue string `json:"buy_venue"`
	// SellVenue 卖出交易所
	SellVenue string `json:"sell_venue"`
	// BuyPrice 买入价格（买入方卖一价）
	BuyPrice float64 `json:"buy_price"`
	// SellPrice 卖出价格（卖出方买一价）
	SellPrice float64 `json:"sell_price"`
	// Quantity 可交易数量
	// 不超过两侧一档数量与最大仓位的最小值
	Quantity float64 `json:"quantity"`
	// SpreadBps 价差（基点），round((sell-buy)/buy*10000)
	SpreadBps int64 `json:"spread_bps"`
	// ExpectedProfit 扣除手续费后的预期利润（计价币）
	ExpectedProfit float64 `json:"expected_profit"`
	// RiskScore 风险评分 0-100
	RiskScore int `json:"risk_score"`
	// DetectedAtNs 检测时间（纳秒）
	DetectedAtNs int64 `json:"detected_at_ns"`
}

// Spread 绝对价差 = 卖出价 - 买入价
func (o *Opportunity) Spread() float64 {
	return o.SellPrice - o.BuyPrice
}

// BuyOrder 生成买入腿限价单
// 参数 tif: 有效方式
func (o *Opportunity) BuyOrder(tif TimeInForce) LimitOrder {
	return LimitOrder{
		Symbol:      o.Symbol,
		Side:        SideBuy,
		Quantity:    o.Quantity,
		Price:       o.BuyPrice,
		TimeInForce: tif,
	}
}

// SellOrder 生成卖出腿限价单
// 参数 tif: 有效方式
func (o *Opportunity) SellOrder(tif TimeInForce) LimitOrder {
	return LimitOrder{
		Symbol:      o.Symbol,
		Side:        SideSell,
		Quantity:    o.Quantity,
		Price:       o.SellPrice,
		TimeInForce: tif,
	}
}
