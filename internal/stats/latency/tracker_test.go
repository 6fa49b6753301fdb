package latency

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/util/timeutil"
)

// **Feature: cross-exchange-arbitrage, Property 10: Feed Lag Calculation Correctness**
// **Validates: feed lag = local arrival minus exchange event time**

func TestTracker_FeedLag(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("行情延迟计算正确", prop.ForAll(
		func(exchTsMs, lagNs int64) bool {
			tr := NewTracker(100)
			arrived := timeutil.MsToNano(exchTsMs) + lagNs
			tr.AddFeed(model.ExchangeBybit, exchTsMs, arrived)

			stats := tr.Stats(model.ExchangeBybit)
			wantMs := float64(lagNs) / 1_000_000.0
			return stats.FeedCount == 1 &&
				approxEqual(stats.FeedP50Ms, wantMs, 1e-9) &&
				approxEqual(stats.FeedP99Ms, wantMs, 1e-9)
		},
		gen.Int64Range(1700000000000, 1800000000000),
		gen.Int64Range(0, 5_000_000_000),
	))

	properties.TestingRun(t)
}

// **Feature: cross-exchange-arbitrage, Property 11: Percentile Calculation Correctness**
// **Validates: P50/P90/P99 follow the sorted-index quantile definition**

func TestTracker_Percentiles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("P50/P90/P99 与排序分位数一致", prop.ForAll(
		func(lagsMs []int64) bool {
			tr := NewTracker(1000)
			for _, ms := range lagsMs {
				tr.AddOrder(model.ExchangeBinance, time.Duration(ms)*time.Millisecond)
			}

			stats := tr.Stats(model.ExchangeBinance)

			sorted := make([]int64, len(lagsMs))
			copy(sorted, lagsMs)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			want50 := float64(sorted[idxQuantile(sorted, 0.50)])
			want90 := float64(sorted[idxQuantile(sorted, 0.90)])
			want99 := float64(sorted[idxQuantile(sorted, 0.99)])

			return approxEqual(stats.OrderP50Ms, want50, 1e-9) &&
				approxEqual(stats.OrderP90Ms, want90, 1e-9) &&
				approxEqual(stats.OrderP99Ms, want99, 1e-9)
		},
		gen.SliceOfN(20, gen.Int64Range(0, 5000)),
	))

	properties.TestingRun(t)
}

func TestTracker_VenueIndependence(t *testing.T) {
	tr := NewTracker(100)

	tr.AddOrder(model.ExchangeBybit, 10*time.Millisecond)
	tr.AddOrder(model.ExchangeBinance, 100*time.Millisecond)

	bybit := tr.Stats(model.ExchangeBybit)
	binance := tr.Stats(model.ExchangeBinance)

	if math.Abs(bybit.OrderP50Ms-10) > 1e-9 {
		t.Fatalf("bybit OrderP50Ms=%f, want 10", bybit.OrderP50Ms)
	}
	if math.Abs(binance.OrderP50Ms-100) > 1e-9 {
		t.Fatalf("binance OrderP50Ms=%f, want 100", binance.OrderP50Ms)
	}
	if venues := tr.Venues(); len(venues) != 2 || venues[0] != model.ExchangeBinance {
		t.Fatalf("Venues=%v", venues)
	}
}

func TestTracker_IgnoresInvalidSamples(t *testing.T) {
	tr := NewTracker(10)
	tr.AddOrder("", time.Millisecond)
	tr.AddOrder(model.ExchangeBybit, -time.Millisecond)
	tr.AddFeed(model.ExchangeBybit, 0, 123)

	if s := tr.Stats(model.ExchangeBybit); s.OrderCount != 0 || s.FeedCount != 0 {
		t.Fatalf("无效样本不应计入: %+v", s)
	}
	if s := tr.Stats("unknown"); s.Venue != "unknown" || s.OrderCount != 0 {
		t.Fatalf("未知交易所应返回空统计")
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	r := newRing(3)
	for _, v := range []time.Duration{100, 1, 2, 3} {
		r.push(v)
	}
	total, qs := r.quantiles(0, 1)
	if total != 4 {
		t.Fatalf("样本总数=%d，期望 4", total)
	}
	if qs[0] != 1 || qs[1] != 3 {
		t.Fatalf("最旧样本应被覆盖: %v", qs)
	}
}

func TestRing_ZeroCapacityCountsOnly(t *testing.T) {
	r := newRing(0)
	r.push(time.Second)
	total, qs := r.quantiles(0.5)
	if total != 1 || qs[0] != 0 {
		t.Fatalf("零容量窗口只计数: total=%d qs=%v", total, qs)
	}
}

func idxQuantile(sorted []int64, q float64) int {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return len(sorted) - 1
	}
	idx := int(float64(len(sorted)-1) * q)
	if idx < 0 {
		return 0
	}
	if idx >= len(sorted) {
		return len(sorted) - 1
	}
	return idx
}

func approxEqual(a, b float64, eps float64) bool {
	return math.Abs(a-b) <= eps
}
