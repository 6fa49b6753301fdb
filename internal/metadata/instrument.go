package metadata

import (
	"github.com/shopspring/decimal"

	"cross-exchange-arbitrage/internal/core/model"
)

// RoundPrice 按价格步长取整
// 买单向下取整、卖单向上取整，保证取整后的限价不比原价更激进。
// 步长未知时原样返回。
func (i *Instrument) RoundPrice(price float64, side model.OrderSide) decimal.Decimal {
	px := decimal.NewFromFloat(price)
	if i == nil || !i.TickSize.IsPositive() {
		return px
	}
	steps := px.Div(i.TickSize)
	if side == model.SideSell {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	return steps.Mul(i.TickSize)
}

// RoundQty 按数量步长向下取整
func (i *Instrument) RoundQty(qty float64) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	if i == nil || !i.StepSize.IsPositive() {
		return q
	}
	return q.Div(i.StepSize).Floor().Mul(i.StepSize)
}

// Check 检查取整后的订单是否满足最小数量与最小名义价值
// 返回: 不满足时返回 model.ErrBelowMinOrder
func (i *Instrument) Check(qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return model.ErrBelowMinOrder
	}
	if i == nil {
		return nil
	}
	if i.MinQty.IsPositive() && qty.LessThan(i.MinQty) {
		return model.ErrBelowMinOrder
	}
	if i.MinNotional.IsPositive() && qty.Mul(price).LessThan(i.MinNotional) {
		return model.ErrBelowMinOrder
	}
	return nil
}

// Format 将订单数量与价格格式化为交易所接受的字符串
// 返回: 数量、价格字符串；不满足最小下单规则时返回错误
func (i *Instrument) Format(order model.LimitOrder) (qty, price string, err error) {
	q := i.RoundQty(order.Quantity)
	p := i.RoundPrice(order.Price, order.Side)
	if err := i.Check(q, p); err != nil {
		return "", "", err
	}
	return q.String(), p.String(), nil
}
