package live

import (
	"context"

	"cross-exchange-arbitrage/internal/core/model"
)

// Executor 将协调器适配为策略执行器
// 下单走带重试的路径，行情同步为仓位标记价格。
type Executor struct {
	*Coordinator
}

// NewExecutor 创建执行器
func NewExecutor(c *Coordinator) Executor {
	return Executor{Coordinator: c}
}

// PlaceOrder 带重试下单
func (e Executor) PlaceOrder(ctx context.Context, venue string, order model.LimitOrder) (*model.OrderResponse, error) {
	return e.Coordinator.PlaceOrderWithRetry(ctx, venue, order)
}

// UpdateMarketData 以中间价标记对应仓位
func (e Executor) UpdateMarketData(book *model.OrderBook) {
	if book == nil {
		return
	}
	if mid := book.MidPrice(); mid > 0 {
		e.Coordinator.MarkPrice(book.Venue, book.Symbol, mid)
	}
}
