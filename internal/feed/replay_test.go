package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/output/jsonl"
)

func writeReplayFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("写入回放文件失败: %v", err)
	}
	return path
}

func recordLine(t *testing.T, venue string, ts time.Time, bid float64) string {
	t.Helper()
	b := model.NewOrderBook(venue, "BTCUSDT")
	b.UpdateBid(bid, 1)
	b.UpdateAsk(bid+10, 1)
	b.SetTimestamp(ts.UnixNano())
	data, err := json.Marshal(jsonl.NewBookRecord(b, 5))
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	return string(data)
}

func TestParseDateRange(t *testing.T) {
	from, to, err := ParseDateRange("2024-01-01", "2024-01-02")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("范围错误: %v - %v", from, to)
	}
	if _, _, err := ParseDateRange("2024/01/01", ""); err == nil {
		t.Fatalf("格式错误应报错")
	}
	if _, _, err := ParseDateRange("2024-02-01", "2024-01-01"); err == nil {
		t.Fatalf("起始晚于结束应报错")
	}
	if from, to, err := ParseDateRange("", ""); err != nil || !from.IsZero() || !to.IsZero() {
		t.Fatalf("空范围应不限")
	}
}

func TestReplayFeed_GroupsByTimestampAndEOF(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	path := writeReplayFile(t,
		recordLine(t, model.ExchangeBybit, t0, 100),
		recordLine(t, model.ExchangeBinance, t0, 99),
		"{not json",
		recordLine(t, model.ExchangeBybit, t0.Add(time.Second), 101),
	)
	r, err := NewReplayFeed(path, ReplayOptions{}, nil)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	first, err := r.Books(ctx)
	if err != nil || len(first) != 2 {
		t.Fatalf("首批应包含同一时间戳的两本: n=%d err=%v", len(first), err)
	}
	second, err := r.Books(ctx)
	if err != nil || len(second) != 1 {
		t.Fatalf("第二批错误: n=%d err=%v", len(second), err)
	}
	if bid, _ := second[0].BestBid(); bid.Price != 101 {
		t.Fatalf("第二批内容错误: %+v", bid)
	}
	if _, err := r.Books(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("耗尽后应返回 io.EOF: %v", err)
	}
	if r.Malformed() != 1 || r.Replayed() != 3 {
		t.Fatalf("计数错误: malformed=%d replayed=%d", r.Malformed(), r.Replayed())
	}
}

func TestReplayFeed_DateRangeAndStep(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)
	day3 := time.Date(2024, 1, 3, 0, 0, 1, 0, time.UTC)
	path := writeReplayFile(t,
		recordLine(t, model.ExchangeBybit, day1, 1),
		recordLine(t, model.ExchangeBybit, day2, 2),
		recordLine(t, model.ExchangeBinance, day2.Add(500*time.Millisecond), 3),
		recordLine(t, model.ExchangeBybit, day2.Add(2*time.Second), 4),
		recordLine(t, model.ExchangeBybit, day3, 5),
	)
	from, to, err := ParseDateRange("2024-01-02", "2024-01-02")
	if err != nil {
		t.Fatalf("解析日期失败: %v", err)
	}
	r, err := NewReplayFeed(path, ReplayOptions{Start: from, End: to, Step: time.Second}, nil)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	batch, err := r.Books(ctx)
	if err != nil || len(batch) != 2 {
		t.Fatalf("一秒窗口内应有两本: n=%d err=%v", len(batch), err)
	}
	if bid, _ := batch[0].BestBid(); bid.Price != 2 {
		t.Fatalf("应跳过范围前的记录: %+v", bid)
	}
	batch, err = r.Books(ctx)
	if err != nil || len(batch) != 1 {
		t.Fatalf("第二窗口错误: n=%d err=%v", len(batch), err)
	}
	if _, err := r.Books(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("超出结束日期应返回 io.EOF: %v", err)
	}
}

func TestReplayFeed_MissingFile(t *testing.T) {
	if _, err := NewReplayFeed(filepath.Join(t.TempDir(), "none.jsonl"), ReplayOptions{}, nil); err == nil {
		t.Fatalf("文件不存在应报错")
	}
}
