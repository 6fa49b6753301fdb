// Package store 聚合器测试
package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"cross-exchange-arbitrage/internal/core/model"
)

func newBook(venue, symbol string, bid, ask float64) *model.OrderBook {
	b := model.NewOrderBook(venue, symbol)
	b.UpdateBid(bid, 1)
	b.UpdateAsk(ask, 1)
	return b
}

func TestAggregator_UpdateAndGet(t *testing.T) {
	a := New()
	src := newBook(model.ExchangeBinance, "BTCUSDT", 50000, 50001)
	a.Update(src)

	// 调用方后续修改不影响已保存快照
	src.UpdateBid(50000, 0)

	got, ok := a.Get(model.ExchangeBinance, "BTCUSDT")
	if !ok {
		t.Fatalf("期望存在订单簿")
	}
	if bid, ok := got.BestBid(); !ok || bid.Price != 50000 {
		t.Fatalf("快照被调用方修改污染: %+v", bid)
	}

	// 返回值为拷贝
	got.UpdateAsk(50001, 0)
	again, _ := a.Get(model.ExchangeBinance, "BTCUSDT")
	if _, ok := again.BestAsk(); !ok {
		t.Fatalf("Get 返回了内部引用")
	}

	if _, ok := a.Get(model.ExchangeBybit, "BTCUSDT"); ok {
		t.Fatalf("不存在的键应返回 false")
	}
}

func TestAggregator_ReplaceNotMerge(t *testing.T) {
	a := New()
	a.Update(newBook(model.ExchangeBybit, "ETHUSDT", 2000, 2001))
	a.Update(newBook(model.ExchangeBybit, "ETHUSDT", 2100, 2101))

	got, _ := a.Get(model.ExchangeBybit, "ETHUSDT")
	if got.BidLen() != 1 || got.AskLen() != 1 {
		t.Fatalf("旧快照应被整体替换: bids=%d asks=%d", got.BidLen(), got.AskLen())
	}
	if a.Len() != 1 {
		t.Fatalf("Len=%d, want 1", a.Len())
	}
}

func TestAggregator_PairAndSymbols(t *testing.T) {
	a := New()
	a.Update(newBook(model.ExchangeBinance, "BTCUSDT", 1, 2))
	a.Update(newBook(model.ExchangeBybit, "BTCUSDT", 1, 2))
	a.Update(newBook(model.ExchangeBybit, "ETHUSDT", 1, 2))

	ba, bb := a.Pair("BTCUSDT", model.ExchangeBinance, model.ExchangeBybit)
	if ba == nil || bb == nil {
		t.Fatalf("Pair 缺失订单簿")
	}
	ea, eb := a.Pair("ETHUSDT", model.ExchangeBinance, model.ExchangeBybit)
	if ea != nil || eb == nil {
		t.Fatalf("ETHUSDT 仅 bybit 存在")
	}

	syms := a.Symbols()
	if len(syms) != 2 || syms[0] != "BTCUSDT" || syms[1] != "ETHUSDT" {
		t.Fatalf("Symbols=%v", syms)
	}

	a.Reset()
	if a.Len() != 0 {
		t.Fatalf("Reset 后 Len=%d", a.Len())
	}
}

func TestAggregator_UpdateHook(t *testing.T) {
	a := New()
	var calls int64
	a.SetUpdateHook(func(book *model.OrderBook) {
		// 回调内读取应看到刚完成的写入
		got, ok := a.Get(book.Venue, book.Symbol)
		if ok && got.TimestampNs == book.TimestampNs {
			atomic.AddInt64(&calls, 1)
		}
	})

	b := newBook(model.ExchangeBinance, "BTCUSDT", 1, 2)
	b.SetTimestamp(99)
	a.Update(b)

	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("回调次数=%d, want 1", calls)
	}

	a.SetUpdateHook(nil)
	a.Update(b)
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("取消回调后仍被调用")
	}
}

func TestAggregator_AddUpdateHookRunsAllInOrder(t *testing.T) {
	a := New()
	var order []string
	a.AddUpdateHook(func(*model.OrderBook) { order = append(order, "record") })
	a.AddUpdateHook(nil)
	a.AddUpdateHook(func(b *model.OrderBook) { order = append(order, "detect:"+b.Symbol) })

	a.Update(newBook(model.ExchangeBybit, "ETHUSDT", 1, 2))
	if len(order) != 2 || order[0] != "record" || order[1] != "detect:ETHUSDT" {
		t.Fatalf("回调顺序错误: %v", order)
	}

	a.SetUpdateHook(nil)
	a.Update(newBook(model.ExchangeBybit, "ETHUSDT", 1, 2))
	if len(order) != 2 {
		t.Fatalf("清空后不应再调用: %v", order)
	}
}

func TestAggregator_ConcurrentUpdates(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	venues := []string{model.ExchangeBinance, model.ExchangeBybit}

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%dUSDT", i)
			for j := 0; j < 200; j++ {
				for _, v := range venues {
					a.Update(newBook(v, sym, float64(100+j), float64(101+j)))
					if _, ok := a.Get(v, sym); !ok {
						t.Errorf("并发读取丢失 %s/%s", v, sym)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()

	if a.Len() != 32 {
		t.Fatalf("Len=%d, want 32", a.Len())
	}
	book, _ := a.Get(model.ExchangeBybit, "SYM3USDT")
	if bid, _ := book.BestBid(); bid.Price != 299 {
		t.Fatalf("最终快照应为最后一次写入: bid=%f", bid.Price)
	}
}
