package live

import (
	"context"
	"testing"

	"cross-exchange-arbitrage/internal/core/model"
)

func TestExecutor_RetriesAndMarks(t *testing.T) {
	bin := newFake(model.ExchangeBinance)
	bin.placeErrs = []error{model.Errorf(model.KindConnection, "place_order", "reset")}
	c, slept := newTestCoordinator(bin)
	exec := NewExecutor(c)

	resp, err := exec.PlaceOrder(context.Background(), model.ExchangeBinance, order(model.SideBuy, 0.1))
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if resp.Status != model.StatusFilled || len(*slept) != 1 {
		t.Fatalf("应重试一次: status=%s slept=%v", resp.Status, *slept)
	}

	book := model.NewOrderBook(model.ExchangeBinance, "BTCUSDT")
	book.UpdateBid(50990, 1)
	book.UpdateAsk(51010, 1)
	exec.UpdateMarketData(book)
	exec.UpdateMarketData(nil)

	pos := c.Positions()
	if len(pos) != 1 || pos[0].UnrealizedPnL <= 0 {
		t.Fatalf("标记价格后应有浮盈: %+v", pos)
	}
	if exec.TotalPnL() <= 0 {
		t.Fatalf("执行器应暴露协调器盈亏")
	}
}
