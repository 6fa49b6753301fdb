// Package latency 实现按交易所划分的时延统计。
// 记录两类样本：下单往返耗时，以及行情从交易所事件时间到本地到达的延迟。
package latency

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"cross-exchange-arbitrage/internal/util/timeutil"
)

// Stats 单个交易所的时延统计快照（滚动窗口）
// 单位：毫秒。
type Stats struct {
	// Venue 交易所
	Venue string `json:"venue"`

	// OrderCount 下单样本总数（累计）
	OrderCount int64 `json:"order_count"`
	// OrderP50Ms 下单往返 P50
	OrderP50Ms float64 `json:"order_p50_ms"`
	// OrderP90Ms 下单往返 P90
	OrderP90Ms float64 `json:"order_p90_ms"`
	// OrderP99Ms 下单往返 P99
	OrderP99Ms float64 `json:"order_p99_ms"`

	// FeedCount 行情样本总数（累计）
	FeedCount int64 `json:"feed_count"`
	// FeedP50Ms 行情延迟 P50
	FeedP50Ms float64 `json:"feed_p50_ms"`
	// FeedP90Ms 行情延迟 P90
	FeedP90Ms float64 `json:"feed_p90_ms"`
	// FeedP99Ms 行情延迟 P99
	FeedP99Ms float64 `json:"feed_p99_ms"`
}

// ring 固定容量的样本环，写满后覆盖最旧样本
type ring struct {
	mu      sync.Mutex
	samples []time.Duration
	total   int64
}

func newRing(capacity int) *ring {
	if capacity < 0 {
		capacity = 0
	}
	return &ring{samples: make([]time.Duration, 0, capacity)}
}

func (r *ring) push(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := cap(r.samples)
	switch {
	case c == 0:
	case len(r.samples) < c:
		r.samples = append(r.samples, d)
	default:
		r.samples[r.total%int64(c)] = d
	}
	r.total++
}

// quantiles 按排序下标 floor((n-1)*q) 取分位数，窗口为空时全部为 0
func (r *ring) quantiles(qs ...float64) (int64, []time.Duration) {
	r.mu.Lock()
	sorted := slices.Clone(r.samples)
	total := r.total
	r.mu.Unlock()

	out := make([]time.Duration, len(qs))
	n := len(sorted)
	if n == 0 {
		return total, out
	}
	slices.Sort(sorted)
	for i, q := range qs {
		q = math.Min(math.Max(q, 0), 1)
		out[i] = sorted[int(float64(n-1)*q)]
	}
	return total, out
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type venueTracker struct {
	order *ring
	feed  *ring
}

// Tracker 按交易所划分的时延追踪器，并发安全
type Tracker struct {
	windowSize int

	mu     sync.RWMutex
	venues map[string]*venueTracker
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 每个交易所每类样本保留的最近样本数
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		venues:     make(map[string]*venueTracker),
	}
}

func (t *Tracker) venue(name string) *venueTracker {
	t.mu.RLock()
	vt := t.venues[name]
	t.mu.RUnlock()
	if vt != nil {
		return vt
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if vt = t.venues[name]; vt == nil {
		vt = &venueTracker{
			order: newRing(t.windowSize),
			feed:  newRing(t.windowSize),
		}
		t.venues[name] = vt
	}
	return vt
}

// AddOrder 记录一次下单往返耗时
func (t *Tracker) AddOrder(venue string, d time.Duration) {
	if venue == "" || d < 0 {
		return
	}
	t.venue(venue).order.push(d)
}

// AddFeed 记录一条行情的到达延迟
// feed_lag_ns = arrivedNs - exchTsMs（转换为 ns）；exchTsMs<=0 时不记录。
func (t *Tracker) AddFeed(venue string, exchTsMs, arrivedNs int64) {
	if venue == "" || exchTsMs <= 0 {
		return
	}
	t.venue(venue).feed.push(time.Duration(arrivedNs - timeutil.MsToNano(exchTsMs)))
}

// Venues 返回已有样本的交易所（排序）
func (t *Tracker) Venues() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.venues))
	for v := range t.venues {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Stats 获取指定交易所的统计快照
func (t *Tracker) Stats(venue string) Stats {
	t.mu.RLock()
	vt := t.venues[venue]
	t.mu.RUnlock()
	if vt == nil {
		return Stats{Venue: venue}
	}

	orderCount, order := vt.order.quantiles(0.50, 0.90, 0.99)
	feedCount, feed := vt.feed.quantiles(0.50, 0.90, 0.99)

	return Stats{
		Venue:      venue,
		OrderCount: orderCount,
		OrderP50Ms: toMs(order[0]),
		OrderP90Ms: toMs(order[1]),
		OrderP99Ms: toMs(order[2]),
		FeedCount:  feedCount,
		FeedP50Ms:  toMs(feed[0]),
		FeedP90Ms:  toMs(feed[1]),
		FeedP99Ms:  toMs(feed[2]),
	}
}
