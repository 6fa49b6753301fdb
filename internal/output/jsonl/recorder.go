package jsonl

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/strategy"
)

// 输出文件名
const (
	FileOpportunities = "opportunities.jsonl"
	FileTrades        = "trades.jsonl"
	FileStats         = "stats.jsonl"
	FileBooks         = "books.jsonl"
)

// RecorderOptions 记录器参数
type RecorderOptions struct {
	// Dir 输出目录
	Dir string
	// BufferSize 每个写入器的缓冲区大小
	BufferSize int
	// RotateBytes 单文件滚动大小，0 表示不滚动
	RotateBytes int64
	// Opportunities 是否记录套利机会
	Opportunities bool
	// Trades 是否记录成交
	Trades bool
	// Books 是否记录订单簿快照（用于回放）
	Books bool
	// BookDepth 订单簿快照档位数
	BookDepth int
	// StatsInterval 统计快照间隔，0 表示不记录
	StatsInterval time.Duration
}

// RecorderOptionsFromConfig 从配置构建记录器参数
func RecorderOptionsFromConfig(cfg *config.Config) RecorderOptions {
	return RecorderOptions{
		Dir:           cfg.Output.Dir,
		BufferSize:    cfg.Output.BufferSize,
		RotateBytes:   int64(cfg.Monitoring.LogRotationSizeMB) << 20,
		Opportunities: cfg.Output.OpportunitiesEnabled,
		Trades:        cfg.Monitoring.EnableTradeLogging,
		Books:         cfg.Output.RecordBooks,
		BookDepth:     20,
		StatsInterval: time.Duration(cfg.Monitoring.MetricsIntervalSecs) * time.Second,
	}
}

// Recorder 策略事件 JSONL 记录器，实现 strategy.Observer
type Recorder struct {
	opts   RecorderOptions
	logger *zap.Logger

	opportunities *Writer
	trades        *Writer
	stats         *Writer
	books         *Writer

	mu        sync.Mutex
	lastStats time.Time
	now       func() time.Time
}

var _ strategy.Observer = (*Recorder)(nil)

// NewRecorder 创建记录器并打开所需文件
func NewRecorder(opts RecorderOptions, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Dir == "" {
		opts.Dir = "output"
	}
	r := &Recorder{opts: opts, logger: logger.Named("jsonl"), now: time.Now}

	open := func(enabled bool, name string) (*Writer, error) {
		if !enabled {
			return nil, nil
		}
		return NewWriter(filepath.Join(opts.Dir, name), opts.BufferSize, opts.RotateBytes)
	}
	var err error
	if r.opportunities, err = open(opts.Opportunities, FileOpportunities); err != nil {
		return nil, err
	}
	if r.trades, err = open(opts.Trades, FileTrades); err != nil {
		_ = r.Close()
		return nil, err
	}
	if r.stats, err = open(opts.StatsInterval > 0, FileStats); err != nil {
		_ = r.Close()
		return nil, err
	}
	if r.books, err = open(opts.Books, FileBooks); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// OnOpportunity 记录检测到的机会
func (r *Recorder) OnOpportunity(op model.Opportunity) {
	r.write(r.opportunities, OpportunityRecord{Opportunity: op, Type: "opportunity"})
}

// OnExecution 记录执行结果
func (r *Recorder) OnExecution(rec strategy.ExecutionRecord) {
	r.write(r.trades, NewTradeRecord(rec))
}

// OnStatistics 按间隔记录统计快照
func (r *Recorder) OnStatistics(st strategy.Statistics) {
	if r.stats == nil {
		return
	}
	now := r.now()
	r.mu.Lock()
	due := r.lastStats.IsZero() || now.Sub(r.lastStats) >= r.opts.StatsInterval
	if due {
		r.lastStats = now
	}
	r.mu.Unlock()
	if due {
		r.write(r.stats, StatsRecord{Statistics: st, Type: "stats", TsNs: now.UnixNano()})
	}
}

// RecordBook 记录订单簿快照，签名与聚合器更新钩子一致
func (r *Recorder) RecordBook(b *model.OrderBook) {
	if r.books == nil || b == nil {
		return
	}
	r.write(r.books, NewBookRecord(b, r.opts.BookDepth))
}

func (r *Recorder) write(w *Writer, v any) {
	if w == nil {
		return
	}
	if err := w.Write(v); err != nil {
		r.logger.Debug("写入 JSONL 失败", zap.String("path", w.Path()), zap.Error(err))
	}
}

// Flush 刷新所有文件
func (r *Recorder) Flush() error {
	var errs []error
	for _, w := range r.writers() {
		if err := w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s 失败: %w", w.Path(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有文件
func (r *Recorder) Close() error {
	var errs []error
	for _, w := range r.writers() {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 %s 失败: %w", w.Path(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) writers() []*Writer {
	out := make([]*Writer, 0, 4)
	for _, w := range []*Writer{r.opportunities, r.trades, r.stats, r.books} {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}
