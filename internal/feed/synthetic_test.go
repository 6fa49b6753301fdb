package feed

import (
	"context"
	"testing"

	"cross-exchange-arbitrage/internal/core/model"
)

func testSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Venues:   []string{model.ExchangeBybit, model.ExchangeBinance},
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		MidPrice: 50000,
		VolBps:   5,
		Levels:   5,
		Seed:     7,
	}
}

func TestSyntheticFeed_ShapeAndOrdering(t *testing.T) {
	f := NewSyntheticFeed(testSyntheticOptions())
	books, err := f.Books(context.Background())
	if err != nil {
		t.Fatalf("Books 失败: %v", err)
	}
	if len(books) != 4 {
		t.Fatalf("应为每个交易所与交易对生成订单簿: %d", len(books))
	}
	for _, b := range books {
		if b.BidLen() != 5 || b.AskLen() != 5 {
			t.Fatalf("%s/%s 档位数错误: %d/%d", b.Venue, b.Symbol, b.BidLen(), b.AskLen())
		}
		if b.IsCrossed() {
			t.Fatalf("单所订单簿不应交叉: %s", b.Venue)
		}
		bids := b.Bids(5)
		for i := 1; i < len(bids); i++ {
			if bids[i].Price >= bids[i-1].Price {
				t.Fatalf("买盘应降序: %+v", bids)
			}
		}
		if b.TimestampNs == 0 {
			t.Fatalf("应设置时间戳")
		}
	}
	if f.Step() != 1 {
		t.Fatalf("步数错误: %d", f.Step())
	}
}

func TestSyntheticFeed_DeterministicWithSeed(t *testing.T) {
	a := NewSyntheticFeed(testSyntheticOptions())
	b := NewSyntheticFeed(testSyntheticOptions())
	ctx := context.Background()
	for step := 0; step < 20; step++ {
		ba, _ := a.Books(ctx)
		bb, _ := b.Books(ctx)
		for i := range ba {
			x, _ := ba[i].BestBid()
			y, _ := bb[i].BestBid()
			if x != y {
				t.Fatalf("相同种子第 %d 步结果不同: %+v vs %+v", step, x, y)
			}
		}
	}
}

func TestSyntheticFeed_ProducesCrossVenueSpread(t *testing.T) {
	f := NewSyntheticFeed(testSyntheticOptions())
	ctx := context.Background()
	crossed := 0
	for i := 0; i < 200; i++ {
		books, _ := f.Books(ctx)
		// books[0]/[1] 为 BTCUSDT 的两个交易所
		bidA, _ := books[0].BestBid()
		askB, _ := books[1].BestAsk()
		bidB, _ := books[1].BestBid()
		askA, _ := books[0].BestAsk()
		if bidA.Price > askB.Price || bidB.Price > askA.Price {
			crossed++
		}
	}
	if crossed == 0 {
		t.Fatalf("随机游走应偶尔产生跨所价差")
	}
}
