// Package feed 提供策略循环使用的行情源：
// 实时 WebSocket 深度、种子化的合成随机游走，以及 JSONL 订单簿回放。
package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/exchange/binance"
	"cross-exchange-arbitrage/internal/exchange/bybit"
	"cross-exchange-arbitrage/internal/exchange/stream"
	"cross-exchange-arbitrage/internal/stats/latency"
)

type bookKey struct {
	venue  string
	symbol string
}

// LiveFeed 实时行情源
// 读循环推送的更新按 (交易所, 交易对) 只保留最新一本，Books 取走后清空。
type LiveFeed struct {
	logger  *zap.Logger
	tracker *latency.Tracker
	streams []*stream.Stream

	mu    sync.Mutex
	dirty map[bookKey]*model.OrderBook

	updates atomic.Int64
}

// NewLiveFeed 创建实时行情源
// 参数 tracker: 行情延迟追踪器（可为 nil）
func NewLiveFeed(tracker *latency.Tracker, logger *zap.Logger) *LiveFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveFeed{
		logger:  logger.Named("feed"),
		tracker: tracker,
		dirty:   make(map[bookKey]*model.OrderBook),
	}
}

// NewLiveFeedFromConfig 按配置为每个启用交易所创建深度连接
func NewLiveFeedFromConfig(cfg *config.Config, tracker *latency.Tracker, logger *zap.Logger) (*LiveFeed, error) {
	f := NewLiveFeed(tracker, logger)
	symbols := cfg.Strategy.Symbols()
	for _, venue := range cfg.Exchanges.Enabled {
		vc := cfg.Exchanges.Venue(venue)
		if vc == nil {
			return nil, fmt.Errorf("未知交易所: %s", venue)
		}
		var proto stream.Protocol
		switch strings.ToLower(venue) {
		case model.ExchangeBinance:
			proto = binance.NewParser(symbols, vc.DepthLevels)
		case model.ExchangeBybit:
			proto = bybit.NewParser(symbols, vc.DepthLevels)
		default:
			return nil, fmt.Errorf("交易所 %s 不支持实时行情", venue)
		}
		f.AddStream(stream.New(vc.WS, proto, symbols, f.Handle, logger))
	}
	return f, nil
}

// AddStream 注册深度连接，需在 Start 之前调用
func (f *LiveFeed) AddStream(s *stream.Stream) {
	f.streams = append(f.streams, s)
}

// Start 并发建立所有连接并在后台运行读循环
// 首次连接失败只记录日志，读循环会按退避策略重连。
func (f *LiveFeed) Start(ctx context.Context) {
	var g errgroup.Group
	for _, s := range f.streams {
		s := s
		g.Go(func() error {
			if err := s.Connect(ctx); err != nil {
				f.logger.Warn("首次连接失败，将在后台重连", zap.String("venue", s.Venue()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, s := range f.streams {
		go s.Run(ctx)
	}
}

// Handle 处理一次订单簿更新，签名与 stream.Handler 一致
func (f *LiveFeed) Handle(u stream.Update) {
	if u.Book == nil {
		return
	}
	if f.tracker != nil && u.ExchTsMs > 0 {
		f.tracker.AddFeed(u.Book.Venue, u.ExchTsMs, u.ArrivedAtNs)
	}
	f.updates.Add(1)
	f.mu.Lock()
	f.dirty[bookKey{venue: u.Book.Venue, symbol: u.Book.Symbol}] = u.Book
	f.mu.Unlock()
}

// Books 返回自上次调用以来更新过的订单簿（按交易所、交易对排序）
func (f *LiveFeed) Books(ctx context.Context) ([]*model.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	out := make([]*model.OrderBook, 0, len(f.dirty))
	for k, b := range f.dirty {
		out = append(out, b)
		delete(f.dirty, k)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// Updates 累计收到的更新数
func (f *LiveFeed) Updates() int64 { return f.updates.Load() }

// Metrics 各交易所连接指标
func (f *LiveFeed) Metrics() map[string]stream.Metrics {
	out := make(map[string]stream.Metrics, len(f.streams))
	for _, s := range f.streams {
		out[s.Venue()] = s.Metrics()
	}
	return out
}

// Close 关闭所有连接
func (f *LiveFeed) Close() error {
	var firstErr error
	for _, s := range f.streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
