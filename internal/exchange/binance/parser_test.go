// Package binance Binance 解析器测试
package binance

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"cross-exchange-arbitrage/internal/core/model"
)

// **Feature: cross-exchange-arbitrage, Property 13: Parser Round-Trip Consistency (Binance)**

func depthMessage(stream string, bids, asks [][]string) []byte {
	data, _ := json.Marshal(PartialDepth{LastUpdateID: 1, Bids: bids, Asks: asks})
	msg, _ := json.Marshal(map[string]any{"stream": stream, "data": json.RawMessage(data)})
	return msg
}

// TestParser_RoundTrip 测试解析器往返一致性
// 属性: 解析后的订单簿应保留原始最优价格与数量
func TestParser_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	parser := NewParser([]string{"BTCUSDT", "ETHUSDT"}, 20)

	properties.Property("解析保留价格和数量", prop.ForAll(
		func(bidPx, bidQty, gap, askQty float64) bool {
			askPx := bidPx + gap
			msg := depthMessage("btcusdt@depth20@100ms",
				[][]string{{fmt.Sprintf("%.2f", bidPx), fmt.Sprintf("%.4f", bidQty)}},
				[][]string{{fmt.Sprintf("%.2f", askPx), fmt.Sprintf("%.4f", askQty)}})

			updates, err := parser.Parse(msg, 42)
			if err != nil || len(updates) != 1 {
				return false
			}
			book := updates[0].Book
			if book.Symbol != "BTCUSDT" || book.Venue != model.ExchangeBinance || book.TimestampNs != 42 {
				return false
			}
			bid, ok1 := book.BestBid()
			ask, ok2 := book.BestAsk()
			if !ok1 || !ok2 {
				return false
			}
			bidDiff := bid.Price - bidPx
			askDiff := ask.Price - askPx
			return bidDiff < 0.01 && bidDiff > -0.01 && askDiff < 0.01 && askDiff > -0.01
		},
		gen.Float64Range(10000, 100000),
		gen.Float64Range(0.001, 100),
		gen.Float64Range(0.01, 50),
		gen.Float64Range(0.001, 100),
	))

	properties.TestingRun(t)
}

func TestParser_IgnoresNonDepth(t *testing.T) {
	parser := NewParser([]string{"BTCUSDT"}, 20)

	updates, err := parser.Parse([]byte(`{"result":null,"id":1}`), 1)
	if err != nil || len(updates) != 0 {
		t.Fatalf("订阅响应应被忽略: %v %v", updates, err)
	}

	msg := depthMessage("ethusdt@depth20@100ms", [][]string{{"1", "1"}}, nil)
	updates, err = parser.Parse(msg, 1)
	if err != nil || len(updates) != 0 {
		t.Fatalf("未订阅交易对应被忽略: %v %v", updates, err)
	}
}

func TestParser_Malformed(t *testing.T) {
	parser := NewParser([]string{"BTCUSDT"}, 20)

	cases := map[string][]byte{
		"非法 JSON": []byte(`{"stream":`),
		"非法价格":    depthMessage("btcusdt@depth20@100ms", [][]string{{"abc", "1"}}, nil),
		"字段不足":    depthMessage("btcusdt@depth20@100ms", [][]string{{"1"}}, nil),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parser.Parse(msg, 1)
			if model.KindOf(err) != model.KindDataParsing {
				t.Fatalf("期望 DataParsing 错误, got %v", err)
			}
		})
	}
}

func TestParser_CrossedBookPassesThrough(t *testing.T) {
	parser := NewParser([]string{"BTCUSDT"}, 20)
	msg := depthMessage("btcusdt@depth20@100ms", [][]string{{"101", "1"}}, [][]string{{"100", "1"}})
	updates, err := parser.Parse(msg, 1)
	if err != nil || len(updates) != 1 || !updates[0].Book.IsCrossed() {
		t.Fatalf("交叉盘口应原样传递: %v", err)
	}
}

func TestParser_Subscribe(t *testing.T) {
	parser := NewParser(nil, 7)
	msgs, err := parser.SubscribeMessages([]string{"BTCUSDT", "ETHUSDT"})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("生成订阅失败: %v", err)
	}
	var req SubscribeRequest
	if err := json.Unmarshal(msgs[0], &req); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if req.Method != "SUBSCRIBE" || len(req.Params) != 2 || req.Params[0] != "btcusdt@depth10@100ms" {
		t.Fatalf("订阅请求错误: %+v", req)
	}
}
