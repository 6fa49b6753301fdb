// Package model 订单簿测试
package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Feature: cross-exchange-arbitrage, Property 1: Order Book Ordering**
// **Validates: OrderBook best bid/ask and zero-quantity removal**

func TestOrderBook_BestBidBelowBestAsk_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("非交叉行情下 best_bid < best_ask", prop.ForAll(
		func(mid float64, halfSpread float64, levels int) bool {
			b := NewOrderBook(ExchangeBinance, "BTCUSDT")
			for i := 0; i < levels; i++ {
				step := float64(i) * 0.5
				b.UpdateBid(mid-halfSpread-step, 1+float64(i))
				b.UpdateAsk(mid+halfSpread+step, 1+float64(i))
			}
			bid, okBid := b.BestBid()
			ask, okAsk := b.BestAsk()
			if !okBid || !okAsk {
				return false
			}
			return bid.Price < ask.Price && !b.IsCrossed()
		},
		gen.Float64Range(100, 100000),
		gen.Float64Range(0.01, 50),
		gen.IntRange(1, 20),
	))

	properties.Property("数量为 0 的更新删除该档位", prop.ForAll(
		func(px float64, qty float64) bool {
			b := NewOrderBook(ExchangeBybit, "BTCUSDT")
			b.UpdateBid(px, qty)
			b.UpdateAsk(px+1, qty)
			b.UpdateBid(px, 0)
			b.UpdateAsk(px+1, 0)
			_, okBid := b.BestBid()
			_, okAsk := b.BestAsk()
			return !okBid && !okAsk && b.IsEmpty()
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.0001, 100),
	))

	properties.TestingRun(t)
}

func TestOrderBook_DepthOrdering(t *testing.T) {
	b := NewOrderBook(ExchangeBinance, "BTCUSDT")
	for _, px := range []float64{100, 99, 101, 98} {
		b.UpdateBid(px, 1)
	}
	for _, px := range []float64{103, 102, 105, 104} {
		b.UpdateAsk(px, 2)
	}

	bids := b.Bids(3)
	if len(bids) != 3 || bids[0].Price != 101 || bids[1].Price != 100 || bids[2].Price != 99 {
		t.Fatalf("买盘排序错误: %+v", bids)
	}
	asks := b.Asks(0)
	if len(asks) != 4 || asks[0].Price != 102 || asks[3].Price != 105 {
		t.Fatalf("卖盘排序错误: %+v", asks)
	}
	if mid := b.MidPrice(); mid != 101.5 {
		t.Fatalf("MidPrice=%f, want 101.5", mid)
	}
}

func TestOrderBook_CrossedBookIsKept(t *testing.T) {
	b := NewOrderBook(ExchangeBybit, "ETHUSDT")
	b.UpdateBid(2001, 1)
	b.UpdateAsk(2000, 1)

	if !b.IsCrossed() {
		t.Fatalf("期望交叉盘")
	}
	if _, ok := b.BestBid(); !ok {
		t.Fatalf("交叉盘不应被清空")
	}
	if b.SpreadBps() >= 0 {
		t.Fatalf("交叉盘价差应为负数, got %f", b.SpreadBps())
	}
}

func TestOrderBook_CloneIsIndependent(t *testing.T) {
	b := NewOrderBook(ExchangeBinance, "BTCUSDT")
	b.UpdateBid(100, 1)
	b.UpdateAsk(101, 1)
	b.SetTimestamp(42)

	c := b.Clone()
	b.UpdateBid(100.5, 3)
	b.UpdateAsk(101, 0)

	bid, _ := c.BestBid()
	if bid.Price != 100 {
		t.Fatalf("克隆受原对象修改影响: bid=%f", bid.Price)
	}
	if _, ok := c.BestAsk(); !ok {
		t.Fatalf("克隆卖盘被删除")
	}
	if c.TimestampNs != 42 || c.Venue != ExchangeBinance {
		t.Fatalf("克隆元数据错误: %+v", c)
	}
}

func TestOrderBook_ApplySnapshot(t *testing.T) {
	b := NewOrderBook(ExchangeBybit, "BTCUSDT")
	b.UpdateBid(1, 1)
	b.ApplySnapshot(
		[]Level{{Price: 50000, Qty: 1}, {Price: 49999, Qty: 0}},
		[]Level{{Price: 50001, Qty: 2}},
	)
	if b.BidLen() != 1 || b.AskLen() != 1 {
		t.Fatalf("快照档位数错误: bids=%d asks=%d", b.BidLen(), b.AskLen())
	}
}

func TestPosition_ApplyFill(t *testing.T) {
	now := time.Unix(0, 0)
	var p Position

	p.ApplyFill(SideBuy, 1, 100, now)
	p.ApplyFill(SideBuy, 1, 110, now)
	if p.Size != 2 || p.AvgPrice != 105 {
		t.Fatalf("加仓错误: size=%f avg=%f", p.Size, p.AvgPrice)
	}

	p.ApplyFill(SideSell, 3, 120, now)
	if p.Size != -1 || p.AvgPrice != 120 {
		t.Fatalf("反手错误: size=%f avg=%f", p.Size, p.AvgPrice)
	}
	if p.RealizedPnL != 30 {
		t.Fatalf("RealizedPnL=%f, want 30", p.RealizedPnL)
	}

	p.Mark(110, now)
	if p.UnrealizedPnL != 10 {
		t.Fatalf("UnrealizedPnL=%f, want 10", p.UnrealizedPnL)
	}
}

func TestErrorKinds(t *testing.T) {
	risk := &Error{Kind: KindRiskManagement, Op: "place_order", Venue: ExchangeBinance, Err: ErrPositionLimit}
	if !errors.Is(risk, ErrPositionLimit) {
		t.Fatalf("errors.Is 应穿透到底层错误")
	}
	if IsRetryable(risk) {
		t.Fatalf("风控错误不应重试")
	}

	wrapped := fmt.Errorf("外层: %w", NewError(KindConnection, "connect", errors.New("refused")))
	if !IsKind(wrapped, KindConnection) || !IsRetryable(wrapped) {
		t.Fatalf("连接错误应可重试")
	}

	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Fatalf("DeadlineExceeded 应归为超时")
	}
	if IsRetryable(ErrShutdown) {
		t.Fatalf("停机错误不应重试")
	}
}
