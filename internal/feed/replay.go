package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/output/jsonl"
)

// DateLayout 命令行日期格式
const DateLayout = "2006-01-02"

// ReplayOptions 回放参数
type ReplayOptions struct {
	// Start 起始时间（含），零值表示不限
	Start time.Time
	// End 结束时间（不含），零值表示不限
	End time.Time
	// Step 每次 Books 返回的时间窗口，<=0 时每次只返回同一时间戳的记录
	Step time.Duration
}

// ParseDateRange 解析 --start-date/--end-date（UTC 日期，结束日期包含当天）
func ParseDateRange(start, end string) (from, to time.Time, err error) {
	if start != "" {
		if from, err = time.Parse(DateLayout, start); err != nil {
			return from, to, fmt.Errorf("起始日期格式错误（应为 %s）: %w", DateLayout, err)
		}
	}
	if end != "" {
		if to, err = time.Parse(DateLayout, end); err != nil {
			return from, to, fmt.Errorf("结束日期格式错误（应为 %s）: %w", DateLayout, err)
		}
		to = to.Add(24 * time.Hour)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("起始日期 %s 晚于结束日期 %s", start, end)
	}
	return from, to, nil
}

// ReplayFeed JSONL 订单簿回放行情源
// 文件按时间升序记录 jsonl.BookRecord；日期范围外的记录被跳过，耗尽后返回 io.EOF。
type ReplayFeed struct {
	opts   ReplayOptions
	logger *zap.Logger

	f       *os.File
	sc      *bufio.Scanner
	pending *jsonl.BookRecord
	done    bool

	line      int64
	malformed int64
	replayed  int64
}

// NewReplayFeed 打开回放文件
func NewReplayFeed(path string, opts ReplayOptions, logger *zap.Logger) (*ReplayFeed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开回放文件失败: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8<<20)
	return &ReplayFeed{
		opts:   opts,
		logger: logger.Named("replay"),
		f:      f,
		sc:     sc,
	}, nil
}

// next 读取下一条范围内的记录，文件结束或超出结束时间返回 nil
func (r *ReplayFeed) next() (*jsonl.BookRecord, error) {
	if r.pending != nil {
		rec := r.pending
		r.pending = nil
		return rec, nil
	}
	for !r.done && r.sc.Scan() {
		r.line++
		var rec jsonl.BookRecord
		if err := json.Unmarshal(r.sc.Bytes(), &rec); err != nil || rec.Venue == "" || rec.Symbol == "" {
			r.malformed++
			if r.malformed == 1 {
				r.logger.Warn("回放文件存在无法解析的行", zap.Int64("line", r.line), zap.Error(err))
			}
			continue
		}
		ts := time.Unix(0, rec.TsNs)
		if !r.opts.Start.IsZero() && ts.Before(r.opts.Start) {
			continue
		}
		if !r.opts.End.IsZero() && !ts.Before(r.opts.End) {
			r.done = true
			break
		}
		return &rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("读取回放文件失败: %w", err)
	}
	r.done = true
	return nil, nil
}

// Books 返回下一个时间窗口内的订单簿，回放结束返回 io.EOF
func (r *ReplayFeed) Books(ctx context.Context) ([]*model.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	first, err := r.next()
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, io.EOF
	}
	windowEnd := first.TsNs + int64(r.opts.Step)
	out := []*model.OrderBook{first.Book()}
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		inWindow := rec.TsNs == first.TsNs
		if r.opts.Step > 0 {
			inWindow = rec.TsNs < windowEnd
		}
		if !inWindow {
			r.pending = rec
			break
		}
		out = append(out, rec.Book())
	}
	r.replayed += int64(len(out))
	return out, nil
}

// Replayed 已回放的订单簿数量
func (r *ReplayFeed) Replayed() int64 { return r.replayed }

// Malformed 跳过的无效行数
func (r *ReplayFeed) Malformed() int64 { return r.malformed }

// Close 关闭文件
func (r *ReplayFeed) Close() error {
	return r.f.Close()
}
