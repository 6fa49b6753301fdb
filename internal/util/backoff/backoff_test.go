package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// **Feature: cross-exchange-arbitrage, Property 16: Reconnect Backoff Bounds**

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("无抖动时等待时间单调不减且不超过上限", prop.ForAll(
		func(baseMs, maxMs int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, 0)

			prev := time.Duration(0)
			for i := 0; i < 80; i++ {
				d := b.Next()
				if d < prev || d > max || d <= 0 {
					return false
				}
				prev = d
			}
			return prev == max
		},
		gen.IntRange(100, 2000),
		gen.IntRange(5000, 60000),
	))

	properties.TestingRun(t)
}

func TestBackoff_JitterWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("抖动后等待时间落在 [d*(1-j), d*(1+j)]", prop.ForAll(
		func(attempt int, jitterPct int) bool {
			jitter := float64(jitterPct) / 100
			b := New(time.Second, 30*time.Second, jitter)
			ref := New(time.Second, 30*time.Second, 0)
			for i := 0; i < attempt; i++ {
				b.Next()
				ref.Next()
			}
			d := float64(b.Next())
			want := float64(ref.Next())
			return d >= want*(1-jitter)-1 && d <= want*(1+jitter)+1
		},
		gen.IntRange(0, 12),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestBackoff_Sequence(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("第 %d 次等待时间 %v，期望 %v", i, got, w)
		}
	}
	if b.Attempt() != len(want) {
		t.Fatalf("重试次数 %d，期望 %d", b.Attempt(), len(want))
	}
	b.Reset()
	if b.Attempt() != 0 || b.Next() != time.Second {
		t.Fatalf("Reset 后应从基础间隔重新开始")
	}
}

func TestBackoff_LongOutageDoesNotOverflow(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)
	for i := 0; i < 200; i++ {
		if d := b.Next(); d <= 0 || d > 30*time.Second {
			t.Fatalf("第 %d 次等待时间异常: %v", i, d)
		}
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewDefault()
	if b.base != time.Second || b.max != 30*time.Second || b.jitter != 0.2 {
		t.Fatalf("默认参数错误: %v %v %v", b.base, b.max, b.jitter)
	}
	if d := b.Next(); d < 800*time.Millisecond || d > 1200*time.Millisecond {
		t.Fatalf("首次等待时间超出 ±20%%: %v", d)
	}
}
