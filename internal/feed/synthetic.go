package feed

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
)

// SyntheticOptions 合成行情参数
type SyntheticOptions struct {
	// Venues 交易所
	Venues []string
	// Symbols 交易对
	Symbols []string
	// MidPrice 初始中间价
	MidPrice float64
	// VolBps 公共中间价每步波动（基点，正态标准差）
	VolBps float64
	// VenueNoiseBps 各交易所相对公共中间价的独立偏离（基点，正态标准差），0 时取 VolBps
	VenueNoiseBps float64
	// HalfSpreadBps 各交易所买一卖一相对本所中间价的半价差（基点）
	HalfSpreadBps float64
	// Levels 每侧档位数
	Levels int
	// Seed 随机种子，0 表示按当前时间播种
	Seed int64
}

// SyntheticOptionsFromConfig 从配置构建合成行情参数
func SyntheticOptionsFromConfig(cfg *config.Config) SyntheticOptions {
	return SyntheticOptions{
		Venues:        []string{strings.ToLower(cfg.Exchanges.Primary), cfg.Exchanges.Secondary()},
		Symbols:       cfg.Strategy.Symbols(),
		MidPrice:      cfg.Simulation.SyntheticMidPrice,
		VolBps:        cfg.Simulation.SyntheticVolBps,
		HalfSpreadBps: 1,
		Levels:        5,
		Seed:          cfg.Simulation.Seed,
	}
}

// SyntheticFeed 种子化随机游走行情源
// 每次 Books 推进一步，为每个 (交易所, 交易对) 生成一本新订单簿。
// 相同种子产生相同序列。
type SyntheticFeed struct {
	opts SyntheticOptions

	mu   sync.Mutex
	rng  *rand.Rand
	mids map[string]float64
	step int64
}

// NewSyntheticFeed 创建合成行情源
func NewSyntheticFeed(opts SyntheticOptions) *SyntheticFeed {
	if opts.MidPrice <= 0 {
		opts.MidPrice = 50000
	}
	if opts.VolBps <= 0 {
		opts.VolBps = 2
	}
	if opts.VenueNoiseBps <= 0 {
		opts.VenueNoiseBps = opts.VolBps
	}
	if opts.HalfSpreadBps <= 0 {
		opts.HalfSpreadBps = 1
	}
	if opts.Levels <= 0 {
		opts.Levels = 5
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mids := make(map[string]float64, len(opts.Symbols))
	for _, s := range opts.Symbols {
		mids[s] = opts.MidPrice
	}
	return &SyntheticFeed{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
		mids: mids,
	}
}

// Books 推进一步并返回所有订单簿
func (f *SyntheticFeed) Books(ctx context.Context) ([]*model.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.step++
	ts := time.Now().UnixNano()
	out := make([]*model.OrderBook, 0, len(f.opts.Symbols)*len(f.opts.Venues))
	for _, sym := range f.opts.Symbols {
		mid := f.mids[sym] * (1 + f.rng.NormFloat64()*f.opts.VolBps/1e4)
		f.mids[sym] = mid
		for _, venue := range f.opts.Venues {
			venueMid := mid * (1 + f.rng.NormFloat64()*f.opts.VenueNoiseBps/1e4)
			out = append(out, f.buildBook(venue, sym, venueMid, ts))
		}
	}
	return out, nil
}

// buildBook 围绕中间价生成对称深度
func (f *SyntheticFeed) buildBook(venue, symbol string, mid float64, ts int64) *model.OrderBook {
	half := mid * f.opts.HalfSpreadBps / 1e4
	tick := math.Max(mid*1e-4, 1e-8)
	bids := make([]model.Level, 0, f.opts.Levels)
	asks := make([]model.Level, 0, f.opts.Levels)
	for i := 0; i < f.opts.Levels; i++ {
		off := half + float64(i)*tick
		bids = append(bids, model.Level{Price: roundTo(mid-off, tick/100), Qty: 0.1 + f.rng.Float64()*1.9})
		asks = append(asks, model.Level{Price: roundTo(mid+off, tick/100), Qty: 0.1 + f.rng.Float64()*1.9})
	}
	b := model.NewOrderBook(venue, symbol)
	b.ApplySnapshot(bids, asks)
	b.SetTimestamp(ts)
	return b
}

// Step 已推进的步数
func (f *SyntheticFeed) Step() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func roundTo(v, unit float64) float64 {
	return math.Round(v/unit) * unit
}
