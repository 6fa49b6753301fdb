// Package jsonl 输出模块测试
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/strategy"
)

// **Feature: cross-exchange-arbitrage, Property 15: Trade Record Output Completeness**

func TestTradeRecord_OutputCompleteness_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("trades JSON 必含必需字段，且仅双腿成功时 success=true", prop.ForAll(
		func(buyPx, sellPx, qty float64, buyOK, sellOK bool) bool {
			rec := strategy.ExecutionRecord{
				Opportunity: model.Opportunity{
					Symbol:    "BTCUSDT",
					Scenario:  model.ScenarioSellABuyB,
					BuyVenue:  model.ExchangeBinance,
					SellVenue: model.ExchangeBybit,
					BuyPrice:  buyPx,
					SellPrice: sellPx,
					Quantity:  qty,
				},
				ExecutedAt: time.Unix(1700000000, 0),
			}
			if buyOK {
				rec.Buy = &model.OrderResponse{OrderID: "b1", Status: model.StatusFilled, FilledQuantity: qty, AveragePrice: buyPx}
			}
			if sellOK {
				rec.Sell = &model.OrderResponse{OrderID: "s1", Status: model.StatusFilled, FilledQuantity: qty, AveragePrice: sellPx}
			}
			if !buyOK || !sellOK {
				rec.Err = errors.New("leg failed")
				rec.Error = rec.Err.Error()
			}

			b, err := json.Marshal(NewTradeRecord(rec))
			if err != nil {
				return false
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return false
			}
			required := []string{
				"type", "symbol", "scenario", "buy_venue", "sell_venue", "quantity",
				"spread_bps", "expected_profit", "buy_order_id", "sell_order_id",
				"realized_pnl", "success", "executed_at",
			}
			for _, k := range required {
				if _, ok := m[k]; !ok {
					return false
				}
			}
			return m["success"] == (buyOK && sellOK)
		},
		gen.Float64Range(1, 200000),
		gen.Float64Range(1, 200000),
		gen.Float64Range(0.001, 10),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestTradeRecord_RealizedPnL(t *testing.T) {
	rec := strategy.ExecutionRecord{
		Opportunity: model.Opportunity{Symbol: "BTCUSDT", Quantity: 1},
		Buy:         &model.OrderResponse{FilledQuantity: 1, AveragePrice: 50000, Fee: 5},
		Sell:        &model.OrderResponse{FilledQuantity: 0.5, AveragePrice: 50100, Fee: 2},
	}
	tr := NewTradeRecord(rec)
	// 0.5 × 100 - 5 - 2
	if tr.RealizedPnL != 43 {
		t.Fatalf("已实现盈亏错误: %v", tr.RealizedPnL)
	}
	if !tr.Success {
		t.Fatalf("无错误时应为成功")
	}
}

func TestBookRecord_RestoresBook(t *testing.T) {
	b := model.NewOrderBook(model.ExchangeBybit, "ETHUSDT")
	b.ApplySnapshot(
		[]model.Level{{Price: 3000, Qty: 1}, {Price: 2999, Qty: 2}, {Price: 2998, Qty: 3}},
		[]model.Level{{Price: 3001, Qty: 1}, {Price: 3002, Qty: 2}},
	)
	b.SetTimestamp(42)

	rec := NewBookRecord(b, 2)
	if len(rec.Bids) != 2 || rec.Bids[0].Price != 3000 || len(rec.Asks) != 2 {
		t.Fatalf("快照档位错误: %+v", rec)
	}
	got := rec.Book()
	bid, _ := got.BestBid()
	ask, _ := got.BestAsk()
	if got.Venue != model.ExchangeBybit || got.TimestampNs != 42 || bid.Price != 3000 || ask.Price != 3001 {
		t.Fatalf("还原订单簿错误: bid=%+v ask=%+v ts=%d", bid, ask, got.TimestampNs)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return lines
}

func TestWriter_WriteAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "test.jsonl")

	w, err := NewWriter(path, 100, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := w.Write(map[string]any{"i": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("关闭后写入应返回 ErrClosed: %v", err)
	}
	if n := countLines(t, path); n != 10 {
		t.Fatalf("lines=%d, want 10", n)
	}
}

func TestWriter_DropsUnencodable(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "x.jsonl"), 10, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	_ = w.Write(map[string]any{"ch": make(chan int)})
	_ = w.Write(map[string]any{"ok": true})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Dropped() != 1 {
		t.Fatalf("应丢弃 1 条: %d", w.Dropped())
	}
}

func TestWriter_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.jsonl")

	// 每行约 40 字节，上限 100 字节约两行一个文件
	w, err := NewWriter(path, 100, 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := w.Write(map[string]any{"payload": strings.Repeat("x", 20), "i": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Rotations() == 0 {
		t.Fatalf("应发生滚动")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	total := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "rot.jsonl") {
			t.Fatalf("意外文件: %s", e.Name())
		}
		total += countLines(t, filepath.Join(dir, e.Name()))
	}
	if total != 6 {
		t.Fatalf("滚动后总行数=%d, want 6", total)
	}
	if int64(len(entries)) != w.Rotations()+1 {
		t.Fatalf("文件数 %d 与滚动次数 %d 不符", len(entries), w.Rotations())
	}
}
