// Package metadata 元数据模块测试
package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
)

// **Feature: cross-exchange-arbitrage, Property 12: Symbol Normalization Consistency**

// TestNormalizeSymbol_Consistency 测试 Symbol 标准化一致性
// 属性: 不同格式的同一交易对应该标准化为相同的 Canon
func TestNormalizeSymbol_Consistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 使用固定的币种列表进行测试
	coins := []string{"BTC", "ETH", "SOL", "DOGE", "XRP", "ADA", "DOT", "LINK", "UNI", "AVAX"}

	// 属性: 带分隔符和不带分隔符的格式应该标准化为相同结果
	properties.Property("分隔符不影响标准化结果", prop.ForAll(
		func(baseIdx int, quoteIdx int) bool {
			base := coins[baseIdx%len(coins)]
			quote := coins[quoteIdx%len(coins)]

			// 不同格式
			withDash := base + "-" + quote
			withUnderscore := base + "_" + quote
			withSlash := base + "/" + quote
			noDash := base + quote

			// 标准化后应该相同
			canon1 := normalizeSymbol(withDash)
			canon2 := normalizeSymbol(withUnderscore)
			canon3 := normalizeSymbol(withSlash)
			canon4 := normalizeSymbol(noDash)

			return canon1 == canon2 && canon2 == canon3 && canon3 == canon4
		},
		gen.IntRange(0, 9),
		gen.IntRange(0, 9),
	))

	// 属性: 大小写不影响标准化结果
	properties.Property("大小写不影响标准化结果", prop.ForAll(
		func(baseIdx int, quoteIdx int) bool {
			base := coins[baseIdx%len(coins)]
			quote := coins[quoteIdx%len(coins)]

			upper := base + "-" + quote
			lower := strings.ToLower(base) + "-" + strings.ToLower(quote)
			mixed := strings.ToLower(base) + "-" + quote

			canon1 := normalizeSymbol(upper)
			canon2 := normalizeSymbol(lower)
			canon3 := normalizeSymbol(mixed)

			return canon1 == canon2 && canon2 == canon3
		},
		gen.IntRange(0, 9),
		gen.IntRange(0, 9),
	))

	properties.TestingRun(t)
}

// TestNormalizeSymbol_Idempotent 测试标准化幂等性
// 属性: 对已标准化的结果再次标准化应该得到相同结果
func TestNormalizeSymbol_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 使用固定的交易对格式进行测试
	formats := []string{
		"BTC-USDT", "ETH-USDT", "SOL-USDT",
		"btc-usdt", "eth_usdt", "sol/usdt",
		"BTCUSDT", "ETHUSDT", "SOLUSDT",
		" btc-usdt ", "Eth/Usdc",
	}

	properties.Property("标准化是幂等的", prop.ForAll(
		func(idx int) bool {
			input := formats[idx%len(formats)]
			canon1 := normalizeSymbol(input)
			canon2 := normalizeSymbol(canon1)
			return canon1 == canon2
		},
		gen.IntRange(0, len(formats)-1),
	))

	properties.TestingRun(t)
}

// TestNormalizeSymbol_SpecificCases 测试特定交易对格式
func TestNormalizeSymbol_SpecificCases(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"BTC-USDT", "BTCUSDT"},
		{"btc-usdt", "BTCUSDT"},
		{"BTC_USDT", "BTCUSDT"},
		{"BTC/USDT", "BTCUSDT"},
		{"BTCUSDT", "BTCUSDT"},
		{"ATOM-USDT", "ATOMUSDT"},
		{"sol-usdc", "SOLUSDC"},
	}

	for _, tt := range tests {
		got := normalizeSymbol(tt.input)
		if got != tt.expected {
			t.Errorf("normalizeSymbol(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

// TestBinanceSymbol_IsTradingSpot 测试 Binance 现货可交易判断
func TestBinanceSymbol_IsTradingSpot(t *testing.T) {
	tests := []struct {
		name     string
		sym      BinanceSymbol
		expected bool
	}{
		{"可交易", BinanceSymbol{Status: "TRADING", IsSpotTradingAllowed: true}, true},
		{"暂停", BinanceSymbol{Status: "BREAK", IsSpotTradingAllowed: true}, false},
		{"禁止现货", BinanceSymbol{Status: "TRADING"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sym.IsTradingSpot(); got != tt.expected {
				t.Errorf("IsTradingSpot() = %v, want %v", got, tt.expected)
			}
		})
	}
}

type stubFetcher struct {
	binance []BinanceSymbol
	bybit   []BybitInstrument
}

func (f *stubFetcher) FetchBinance(ctx context.Context, restURL string) ([]BinanceSymbol, error) {
	return f.binance, nil
}

func (f *stubFetcher) FetchBybit(ctx context.Context, restURL string) ([]BybitInstrument, error) {
	return f.bybit, nil
}

func testConfig(symbol string) *config.Config {
	cfg := &config.Config{}
	cfg.Strategy.Symbol = symbol
	cfg.Exchanges.Enabled = []string{"binance", "bybit"}
	return cfg
}

func stubVenues() *stubFetcher {
	bybit := BybitInstrument{Symbol: "BTCUSDT", BaseCoin: "BTC", QuoteCoin: "USDT", Status: "Trading"}
	bybit.LotSizeFilter.BasePrecision = "0.000001"
	bybit.LotSizeFilter.MinOrderQty = "0.000048"
	bybit.LotSizeFilter.MinOrderAmt = "1"
	bybit.PriceFilter.TickSize = "0.01"
	return &stubFetcher{
		binance: []BinanceSymbol{{
			Symbol: "BTCUSDT", Status: "TRADING", IsSpotTradingAllowed: true,
			BaseAsset: "BTC", QuoteAsset: "USDT",
			Filters: []BinanceFilter{
				{FilterType: "PRICE_FILTER", TickSize: "0.01000000"},
				{FilterType: "LOT_SIZE", StepSize: "0.00001000", MinQty: "0.00001000"},
				{FilterType: "NOTIONAL", MinNotional: "5.00000000"},
			},
		}},
		bybit: []BybitInstrument{bybit},
	}
}

func TestBuildCatalog(t *testing.T) {
	cat, err := BuildCatalog(context.Background(), testConfig("btc-usdt"), stubVenues())
	if err != nil {
		t.Fatalf("构建目录失败: %v", err)
	}

	bn, ok := cat.Get("binance", "BTCUSDT")
	if !ok {
		t.Fatalf("Binance 交易对缺失")
	}
	if bn.TickSize.String() != "0.01" || bn.StepSize.String() != "0.00001" || bn.MinNotional.String() != "5" {
		t.Fatalf("Binance 过滤器解析错误: %+v", bn)
	}

	bb, ok := cat.Get("bybit", "BTC/USDT")
	if !ok || bb.MinQty.String() != "0.000048" || bb.Base != "BTC" {
		t.Fatalf("Bybit 交易对解析错误: %+v", bb)
	}
	if got := cat.Venues(); len(got) != 2 || got[0] != "binance" {
		t.Fatalf("交易所列表错误: %v", got)
	}
}

func TestBuildCatalog_MissingSymbol(t *testing.T) {
	if _, err := BuildCatalog(context.Background(), testConfig("ETHUSDT"), stubVenues()); err == nil {
		t.Fatalf("交易对缺失时应返回错误")
	}
}

func TestInstrument_Rounding(t *testing.T) {
	inst := &Instrument{
		TickSize:    decimal.RequireFromString("0.01"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
	}

	tests := []struct {
		name  string
		order model.LimitOrder
		qty   string
		price string
		err   bool
	}{
		{"买单价格向下取整", model.LimitOrder{Side: model.SideBuy, Quantity: 0.12345, Price: 50000.129}, "0.123", "50000.12", false},
		{"卖单价格向上取整", model.LimitOrder{Side: model.SideSell, Quantity: 0.12345, Price: 50000.121}, "0.123", "50000.13", false},
		{"已对齐不变", model.LimitOrder{Side: model.SideBuy, Quantity: 1, Price: 100.5}, "1", "100.5", false},
		{"低于最小数量", model.LimitOrder{Side: model.SideBuy, Quantity: 0.0009, Price: 50000}, "", "", true},
		{"低于最小名义价值", model.LimitOrder{Side: model.SideBuy, Quantity: 0.002, Price: 100}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, price, err := inst.Format(tt.order)
			if tt.err {
				if !errors.Is(err, model.ErrBelowMinOrder) {
					t.Fatalf("期望 ErrBelowMinOrder, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("格式化失败: %v", err)
			}
			if qty != tt.qty || price != tt.price {
				t.Fatalf("got qty=%s price=%s, want qty=%s price=%s", qty, price, tt.qty, tt.price)
			}
		})
	}
}

func TestInstrument_NilPassThrough(t *testing.T) {
	var inst *Instrument
	qty, price, err := inst.Format(model.LimitOrder{Side: model.SideBuy, Quantity: 0.5, Price: 123.456})
	if err != nil || qty != "0.5" || price != "123.456" {
		t.Fatalf("无交易规则时应原样输出: %s %s %v", qty, price, err)
	}
}
