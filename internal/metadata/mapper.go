package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
)

// Catalog 交易对目录（交易所 → 统一交易对 → 交易规则）
type Catalog struct {
	instruments map[string]map[string]*Instrument
}

// NewCatalog 创建空目录
func NewCatalog() *Catalog {
	return &Catalog{instruments: make(map[string]map[string]*Instrument)}
}

// Add 添加交易规则
func (c *Catalog) Add(inst *Instrument) {
	m := c.instruments[inst.Venue]
	if m == nil {
		m = make(map[string]*Instrument)
		c.instruments[inst.Venue] = m
	}
	m[inst.Symbol] = inst
}

// Get 查找交易规则
func (c *Catalog) Get(venue, symbol string) (*Instrument, bool) {
	if c == nil {
		return nil, false
	}
	inst, ok := c.instruments[venue][NormalizeToCanon(symbol)]
	return inst, ok
}

// Venues 已加载的交易所（排序）
func (c *Catalog) Venues() []string {
	out := make([]string, 0, len(c.instruments))
	for v := range c.instruments {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// BuildCatalog 构建交易对目录
// 拉取所有启用交易所的现货交易规则，并校验每个配置交易对在每个交易所都可交易。
// 参数 ctx: 上下文
// 参数 cfg: 配置
// 参数 f: 元数据获取器
func BuildCatalog(ctx context.Context, cfg *config.Config, f Fetcher) (*Catalog, error) {
	cat := NewCatalog()
	for _, venue := range cfg.Exchanges.Enabled {
		vc := cfg.Exchanges.Venue(venue)
		if vc == nil {
			return nil, fmt.Errorf("未知交易所: %s", venue)
		}
		switch strings.ToLower(venue) {
		case model.ExchangeBinance:
			syms, err := f.FetchBinance(ctx, vc.RestURL)
			if err != nil {
				return nil, fmt.Errorf("获取 Binance 元数据失败: %w", err)
			}
			for i := range syms {
				if inst := fromBinance(&syms[i]); inst != nil {
					cat.Add(inst)
				}
			}
		case model.ExchangeBybit:
			insts, err := f.FetchBybit(ctx, vc.RestURL)
			if err != nil {
				return nil, fmt.Errorf("获取 Bybit 元数据失败: %w", err)
			}
			for i := range insts {
				if inst := fromBybit(&insts[i]); inst != nil {
					cat.Add(inst)
				}
			}
		}
	}

	for _, sym := range cfg.Strategy.Symbols() {
		for _, venue := range cfg.Exchanges.Enabled {
			if _, ok := cat.Get(strings.ToLower(venue), sym); !ok {
				return nil, fmt.Errorf("%s 未找到可交易的交易对: %s", venue, NormalizeToCanon(sym))
			}
		}
	}
	return cat, nil
}

// fromBinance 转换 Binance 交易对，不可交易时返回 nil
func fromBinance(s *BinanceSymbol) *Instrument {
	if !s.IsTradingSpot() {
		return nil
	}
	inst := &Instrument{
		Venue:  model.ExchangeBinance,
		Symbol: NormalizeToCanon(s.Symbol),
		Base:   s.BaseAsset,
		Quote:  s.QuoteAsset,
	}
	if f := s.filter("PRICE_FILTER"); f != nil {
		inst.TickSize = parseDecimal(f.TickSize)
	}
	if f := s.filter("LOT_SIZE"); f != nil {
		inst.StepSize = parseDecimal(f.StepSize)
		inst.MinQty = parseDecimal(f.MinQty)
	}
	if f := s.filter("NOTIONAL", "MIN_NOTIONAL"); f != nil {
		inst.MinNotional = parseDecimal(f.MinNotional)
	}
	return inst
}

// fromBybit 转换 Bybit 交易对，不可交易时返回 nil
func fromBybit(i *BybitInstrument) *Instrument {
	if !i.IsTrading() {
		return nil
	}
	return &Instrument{
		Venue:       model.ExchangeBybit,
		Symbol:      NormalizeToCanon(i.Symbol),
		Base:        i.BaseCoin,
		Quote:       i.QuoteCoin,
		TickSize:    parseDecimal(i.PriceFilter.TickSize),
		StepSize:    parseDecimal(i.LotSizeFilter.BasePrecision),
		MinQty:      parseDecimal(i.LotSizeFilter.MinOrderQty),
		MinNotional: parseDecimal(i.LotSizeFilter.MinOrderAmt),
	}
}

// normalizeSymbol 标准化交易对格式
// 移除分隔符，转为大写
// 例如: BTC-USDT -> BTCUSDT, btc_usdt -> BTCUSDT, BTC/USDT -> BTCUSDT
func normalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}

// NormalizeToCanon 将用户输入转换为统一交易对格式
func NormalizeToCanon(userInput string) string {
	return normalizeSymbol(userInput)
}
