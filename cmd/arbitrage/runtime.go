package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/cache"
	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/store"
	"cross-exchange-arbitrage/internal/core/strategy"
	"cross-exchange-arbitrage/internal/exchange/stream"
	"cross-exchange-arbitrage/internal/monitoring"
	"cross-exchange-arbitrage/internal/output/jsonl"
	"cross-exchange-arbitrage/internal/stats/latency"
)

// shutdownTimeout 优雅关闭上限
const shutdownTimeout = 10 * time.Second

// feedMetricsSource 可提供连接指标的行情源
type feedMetricsSource interface {
	Metrics() map[string]stream.Metrics
}

// runtime 策略运行期的公共组件：输出、指标、状态发布与后台任务
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	agg     *store.Aggregator
	tracker *latency.Tracker

	recorder  *jsonl.Recorder
	metrics   *monitoring.Metrics
	publisher *cache.Publisher
	observers []strategy.Observer

	wg      sync.WaitGroup
	closers []func() error
}

// newRuntime 按配置创建输出、指标与状态发布，并注册聚合器更新钩子
// 参数 mode: 运行模式（dry-run / live），写入发布的状态
func newRuntime(ctx context.Context, cfg *config.Config, mode string, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		agg:     store.New(),
		tracker: latency.NewTracker(10000),
	}

	rec, err := jsonl.NewRecorder(jsonl.RecorderOptionsFromConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("创建 JSONL 输出失败: %w", err)
	}
	rt.recorder = rec
	rt.observers = append(rt.observers, rec)
	rt.closers = append(rt.closers, rec.Close)

	if cfg.Monitoring.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rt.metrics = monitoring.NewMetrics(reg)
		rt.observers = append(rt.observers, rt.metrics)

		srv, err := monitoring.NewServer(cfg.Monitoring.MetricsAddr, reg, logger)
		if err != nil {
			_ = rt.close()
			return nil, err
		}
		rt.goBackground(func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("指标服务退出", zap.Error(err))
			}
		})
	}

	if cfg.Redis.Enabled {
		client := cache.NewClient(cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			_ = rt.close()
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		ttl := time.Duration(cfg.Redis.StatusTTLSecs) * time.Second
		rt.publisher = cache.NewPublisher(client, cfg.Redis.KeyPrefix, ttl, mode, logger)
		rt.observers = append(rt.observers, rt.publisher)
		rt.goBackground(func() { rt.publisher.Run(ctx, time.Second) })
		rt.closers = append(rt.closers, client.Close)
	}

	rt.agg.AddUpdateHook(func(b *model.OrderBook) {
		rt.recorder.RecordBook(b)
		if rt.publisher != nil {
			rt.publisher.OnBook(b)
		}
	})
	return rt, nil
}

func (rt *runtime) goBackground(fn func()) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		fn()
	}()
}

// startSampler 按 monitoring.metrics_interval_secs 输出运行摘要并刷新连接与时延指标
func (rt *runtime) startSampler(ctx context.Context, loop *strategy.Loop, feed any) {
	interval := time.Duration(rt.cfg.Monitoring.MetricsIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	src, _ := feed.(feedMetricsSource)
	rt.goBackground(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			rt.sample(loop, src)
		}
	})
}

func (rt *runtime) sample(loop *strategy.Loop, src feedMetricsSource) {
	if src != nil {
		for venue, m := range src.Metrics() {
			if rt.metrics != nil {
				rt.metrics.ObserveFeed(venue, m)
			}
			rt.logger.Debug("行情连接",
				zap.String("venue", venue),
				zap.Bool("connected", m.Connected),
				zap.Int64("reconnects", m.ReconnectCount),
				zap.Float64("updates_per_sec", m.UpdatesPerSec))
		}
	}
	for _, venue := range rt.tracker.Venues() {
		st := rt.tracker.Stats(venue)
		if rt.metrics != nil {
			rt.metrics.ObserveLatency(st)
		}
		rt.logger.Info("时延统计",
			zap.String("venue", venue),
			zap.Float64("order_p50_ms", st.OrderP50Ms),
			zap.Float64("order_p99_ms", st.OrderP99Ms),
			zap.Float64("feed_p50_ms", st.FeedP50Ms),
			zap.Float64("feed_p99_ms", st.FeedP99Ms))
	}
	st := loop.Statistics()
	rt.logger.Info("策略统计",
		zap.String("state", string(st.State)),
		zap.Int64("detected", st.OpportunitiesDetected),
		zap.Int64("executed", st.OpportunitiesExecuted),
		zap.Int64("errors", st.ExecutionErrors),
		zap.Float64("total_pnl", st.TotalPnL),
		zap.Float64("success_rate", st.SuccessRate),
		zap.Float64("max_drawdown_pct", st.MaxDrawdownPct))
}

// close 关闭输出与连接
func (rt *runtime) close() error {
	var firstErr error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// shutdown 等待后台任务并关闭资源，最长 shutdownTimeout
// 参数 extra: 在关闭输出前执行的额外步骤（如紧急停机）
func (rt *runtime) shutdown(extra func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if extra != nil {
			extra(ctx)
		}
		rt.wg.Wait()
		if err := rt.close(); err != nil {
			rt.logger.Warn("关闭输出失败", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		rt.logger.Warn("关闭超时，强制退出")
	case <-done:
		rt.logger.Info("关闭完成")
	}
}
