// Package model 定义套利系统中使用的核心数据结构。
// 包含订单簿、订单、套利机会、仓位与错误分类等核心类型。
package model

import (
	"math"
	"time"

	"github.com/tidwall/btree"
)

// Exchange 交易所标识常量
const (
	// ExchangeBinance Binance 现货
	ExchangeBinance = "binance"
	// ExchangeBybit Bybit 现货
	ExchangeBybit = "bybit"
)

// Level 订单簿深度档位
// 表示某一价格档位的价格和数量
type Level struct {
	// Price 价格
	Price float64 `json:"price"`
	// Qty 数量
	Qty float64 `json:"qty"`
}

// OrderBook 单交易所单交易对的价格档位簿
// 买盘按价格降序迭代，卖盘按价格升序迭代。
// 数量为 0 的更新会删除该价格档位。
// 注意：OrderBook 本身不加锁，跨 goroutine 共享请通过 Clone 传递快照。
type OrderBook struct {
	// Venue 交易所标识: binance, bybit
	Venue string
	// Symbol 交易对，如 BTCUSDT
	Symbol string
	// TimestampNs 最后更新时间（纳秒）
	TimestampNs int64

	bids *btree.Map[float64, float64]
	asks *btree.Map[float64, float64]
}

// NewOrderBook 创建空订单簿
// 参数 venue: 交易所标识
// 参数 symbol: 交易对
func NewOrderBook(venue, symbol string) *OrderBook {
	return &OrderBook{
		Venue:  venue,
		Symbol: symbol,
		bids:   btree.NewMap[float64, float64](32),
		asks:   btree.NewMap[float64, float64](32),
	}
}

// UpdateBid 更新买盘档位
// qty<=0 时删除该价格档位
func (b *OrderBook) UpdateBid(price, qty float64) {
	setLevel(b.bids, price, qty)
}

// UpdateAsk 更新卖盘档位
// qty<=0 时删除该价格档位
func (b *OrderBook) UpdateAsk(price, qty float64) {
	setLevel(b.asks, price, qty)
}

func setLevel(side *btree.Map[float64, float64], price, qty float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	if qty <= 0 || math.IsNaN(qty) {
		side.Delete(price)
		return
	}
	side.Set(price, qty)
}

// ApplySnapshot 用完整快照替换两侧档位
func (b *OrderBook) ApplySnapshot(bids, asks []Level) {
	b.bids = btree.NewMap[float64, float64](32)
	b.asks = btree.NewMap[float64, float64](32)
	for _, l := range bids {
		b.UpdateBid(l.Price, l.Qty)
	}
	for _, l := range asks {
		b.UpdateAsk(l.Price, l.Qty)
	}
}

// SetTimestamp 设置最后更新时间（纳秒）
func (b *OrderBook) SetTimestamp(ns int64) {
	b.TimestampNs = ns
}

// BestBid 获取买一档
// 返回: 档位与是否存在
func (b *OrderBook) BestBid() (Level, bool) {
	px, qty, ok := b.bids.Max()
	if !ok {
		return Level{}, false
	}
	return Level{Price: px, Qty: qty}, true
}

// BestAsk 获取卖一档
// 返回: 档位与是否存在
func (b *OrderBook) BestAsk() (Level, bool) {
	px, qty, ok := b.asks.Min()
	if !ok {
		return Level{}, false
	}
	return Level{Price: px, Qty: qty}, true
}

// MidPrice 计算中间价
// 任一侧为空时返回 0
func (b *OrderBook) MidPrice() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// SpreadBps 计算自身买卖价差（基点）
// 公式: (ask - bid) / mid * 10000；交叉盘时为负数
func (b *OrderBook) SpreadBps() float64 {
	mid := b.MidPrice()
	if mid == 0 {
		return 0
	}
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	return (ask.Price - bid.Price) / mid * 10000
}

// IsCrossed 判断是否为交叉盘（bid >= ask）
// 交叉盘是合法的行情信号，调用方不应据此丢弃订单簿。
func (b *OrderBook) IsCrossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// Bids 返回前 n 档买盘（价格降序），n<=0 返回全部
func (b *OrderBook) Bids(n int) []Level {
	out := make([]Level, 0, capHint(n, b.bids.Len()))
	b.bids.Reverse(func(px, qty float64) bool {
		out = append(out, Level{Price: px, Qty: qty})
		return n <= 0 || len(out) < n
	})
	return out
}

// Asks 返回前 n 档卖盘（价格升序），n<=0 返回全部
func (b *OrderBook) Asks(n int) []Level {
	out := make([]Level, 0, capHint(n, b.asks.Len()))
	b.asks.Scan(func(px, qty float64) bool {
		out = append(out, Level{Price: px, Qty: qty})
		return n <= 0 || len(out) < n
	})
	return out
}

func capHint(n, total int) int {
	if n <= 0 || n > total {
		return total
	}
	return n
}

// BidLen 买盘档位数
func (b *OrderBook) BidLen() int { return b.bids.Len() }

// AskLen 卖盘档位数
func (b *OrderBook) AskLen() int { return b.asks.Len() }

// IsEmpty 两侧均无档位
func (b *OrderBook) IsEmpty() bool {
	return b.bids.Len() == 0 && b.asks.Len() == 0
}

// UpdatedAt 获取最后更新时间的 time.Time 表示
func (b *OrderBook) UpdatedAt() time.Time {
	return time.Unix(0, b.TimestampNs)
}

// Clone 创建订单簿深拷贝
// 只读遍历源订单簿，可在读锁下被多个 goroutine 同时调用。
// 注意：btree 的 Copy 会改写源树的隔离标识，不能在共享读锁下使用。
func (b *OrderBook) Clone() *OrderBook {
	return &OrderBook{
		Venue:       b.Venue,
		Symbol:      b.Symbol,
		TimestampNs: b.TimestampNs,
		bids:        cloneSide(b.bids),
		asks:        cloneSide(b.asks),
	}
}

func cloneSide(src *btree.Map[float64, float64]) *btree.Map[float64, float64] {
	dst := btree.NewMap[float64, float64](32)
	src.Scan(func(px, qty float64) bool {
		dst.Load(px, qty)
		return true
	})
	return dst
}
