// Package store 维护所有交易所的最新订单簿快照。
// 按 (交易所, 交易对) 分片加锁：不同分片的写入互不阻塞，同一键的写入串行化。
package store

import (
	"hash/fnv"
	"sort"
	"sync"

	"cross-exchange-arbitrage/internal/core/model"
)

// shardCount 分片数量（2 的幂）
const shardCount = 32

type bookKey struct {
	venue  string
	symbol string
}

type shard struct {
	mu    sync.RWMutex
	books map[bookKey]*model.OrderBook
}

// UpdateHook 订单簿更新回调
// 在写锁释放后于写入方 goroutine 中同步调用，参数为刚写入的快照（只读，多个回调共享）。
type UpdateHook func(book *model.OrderBook)

// Aggregator 多交易所订单簿聚合器
// 每个键只保留最新快照，写入与读取均以拷贝隔离，调用方不会观察到部分更新。
type Aggregator struct {
	shards [shardCount]*shard

	hookMu sync.RWMutex
	hooks  []UpdateHook
}

// New 创建新的订单簿聚合器
func New() *Aggregator {
	a := &Aggregator{}
	for i := range a.shards {
		a.shards[i] = &shard{books: make(map[bookKey]*model.OrderBook)}
	}
	return a
}

func (a *Aggregator) shardFor(k bookKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.venue))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.symbol))
	return a.shards[h.Sum32()&(shardCount-1)]
}

// AddUpdateHook 追加更新回调，按注册顺序调用
// 策略循环借此在运行状态下对被更新的交易对同步触发检测，运行时借此记录订单簿与发布盘口。
func (a *Aggregator) AddUpdateHook(hook UpdateHook) {
	if hook == nil {
		return
	}
	a.hookMu.Lock()
	a.hooks = append(a.hooks, hook)
	a.hookMu.Unlock()
}

// SetUpdateHook 以单个回调替换全部已注册回调（传 nil 清空）
func (a *Aggregator) SetUpdateHook(hook UpdateHook) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.hooks = nil
	if hook != nil {
		a.hooks = []UpdateHook{hook}
	}
}

// Update 以快照替换 (book.Venue, book.Symbol) 的订单簿
// 聚合器保存的是拷贝，调用方之后对 book 的修改不会影响已保存的快照。
func (a *Aggregator) Update(book *model.OrderBook) {
	if book == nil || book.Venue == "" || book.Symbol == "" {
		return
	}

	snap := book.Clone()
	k := bookKey{venue: snap.Venue, symbol: snap.Symbol}
	s := a.shardFor(k)

	s.mu.Lock()
	s.books[k] = snap
	s.mu.Unlock()

	a.hookMu.RLock()
	hooks := a.hooks
	a.hookMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	view := snap.Clone()
	for _, hook := range hooks {
		hook(view)
	}
}

// Get 获取指定交易所与交易对的最新订单簿拷贝
// 返回: 订单簿与是否存在
func (a *Aggregator) Get(venue, symbol string) (*model.OrderBook, bool) {
	k := bookKey{venue: venue, symbol: symbol}
	s := a.shardFor(k)

	s.mu.RLock()
	book, ok := s.books[k]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return book.Clone(), true
}

// Pair 获取同一交易对在两个交易所的订单簿拷贝
// 任一侧缺失时对应返回值为 nil。
func (a *Aggregator) Pair(symbol, venueA, venueB string) (bookA, bookB *model.OrderBook) {
	bookA, _ = a.Get(venueA, symbol)
	bookB, _ = a.Get(venueB, symbol)
	return bookA, bookB
}

// Symbols 返回当前已缓存的全部交易对（去重、排序）
func (a *Aggregator) Symbols() []string {
	seen := make(map[string]bool)
	for _, s := range a.shards {
		s.mu.RLock()
		for k := range s.books {
			seen[k.symbol] = true
		}
		s.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len 返回缓存的订单簿数量
func (a *Aggregator) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.RLock()
		n += len(s.books)
		s.mu.RUnlock()
	}
	return n
}

// Reset 清空全部缓存
func (a *Aggregator) Reset() {
	for _, s := range a.shards {
		s.mu.Lock()
		s.books = make(map[bookKey]*model.OrderBook)
		s.mu.Unlock()
	}
}
