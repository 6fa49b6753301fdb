// Package cache 通过 Redis 发布策略状态、最近的机会与执行记录以及各交易所买一卖一，
// 供 status 子命令和外部看板读取。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/core/strategy"
)

// ErrNoStatus Redis 中没有状态（策略未运行或已过期）
var ErrNoStatus = errors.New("未找到策略状态")

// recentLimit 最近机会与执行记录保留条数
const recentLimit = 100

// BBO 买一卖一
type BBO struct {
	Venue  string  `json:"venue"`
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	BidQty float64 `json:"bid_qty"`
	Ask    float64 `json:"ask"`
	AskQty float64 `json:"ask_qty"`
	TsNs   int64   `json:"ts_ns"`
}

// Status 发布的策略状态
type Status struct {
	// Mode 运行模式: dry-run, live
	Mode string `json:"mode"`
	// UpdatedAt 发布时间
	UpdatedAt time.Time `json:"updated_at"`
	// Strategy 策略统计
	Strategy strategy.Statistics `json:"strategy"`
	// BBO 各交易所买一卖一（读取时填充）
	BBO []BBO `json:"bbo,omitempty"`
}

// Keys Redis 键
type Keys struct {
	prefix string
}

// NewKeys 创建键集合
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "arb"
	}
	return Keys{prefix: prefix}
}

// Status 状态键
func (k Keys) Status() string { return k.prefix + ":status" }

// Opportunities 最近机会列表键
func (k Keys) Opportunities() string { return k.prefix + ":opportunities" }

// Executions 最近执行列表键
func (k Keys) Executions() string { return k.prefix + ":executions" }

// BBO 买一卖一哈希键
func (k Keys) BBO() string { return k.prefix + ":bbo" }

// NewClient 按配置创建 Redis 客户端
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Publisher 状态发布器，实现 strategy.Observer
// 回调只更新内存中的待发布数据，由 Run 按间隔批量写入 Redis。
type Publisher struct {
	client *redis.Client
	keys   Keys
	ttl    time.Duration
	mode   string
	logger *zap.Logger

	mu      sync.Mutex
	stats   *strategy.Statistics
	opps    []model.Opportunity
	execs   []strategy.ExecutionRecord
	bbo     map[string]BBO
	publish int64
}

var _ strategy.Observer = (*Publisher)(nil)

// NewPublisher 创建发布器
// 参数 ttl: 状态键过期时间，策略停止后状态自动失效
// 参数 mode: 运行模式
func NewPublisher(client *redis.Client, prefix string, ttl time.Duration, mode string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		keys:   NewKeys(prefix),
		ttl:    ttl,
		mode:   mode,
		logger: logger.Named("redis"),
		bbo:    make(map[string]BBO),
	}
}

// OnOpportunity 缓存机会
func (p *Publisher) OnOpportunity(op model.Opportunity) {
	p.mu.Lock()
	p.opps = append(p.opps, op)
	if len(p.opps) > recentLimit {
		p.opps = p.opps[len(p.opps)-recentLimit:]
	}
	p.mu.Unlock()
}

// OnExecution 缓存执行记录
func (p *Publisher) OnExecution(rec strategy.ExecutionRecord) {
	p.mu.Lock()
	p.execs = append(p.execs, rec)
	if len(p.execs) > recentLimit {
		p.execs = p.execs[len(p.execs)-recentLimit:]
	}
	p.mu.Unlock()
}

// OnStatistics 缓存最新统计
func (p *Publisher) OnStatistics(st strategy.Statistics) {
	p.mu.Lock()
	p.stats = &st
	p.mu.Unlock()
}

// OnBook 缓存买一卖一，签名与聚合器更新钩子一致
func (p *Publisher) OnBook(b *model.OrderBook) {
	if b == nil {
		return
	}
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB && !okA {
		return
	}
	p.mu.Lock()
	p.bbo[b.Venue+":"+b.Symbol] = BBO{
		Venue: b.Venue, Symbol: b.Symbol,
		Bid: bid.Price, BidQty: bid.Qty,
		Ask: ask.Price, AskQty: ask.Qty,
		TsNs: b.TimestampNs,
	}
	p.mu.Unlock()
}

// Flush 将待发布数据写入 Redis（单次 pipeline）
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	stats := p.stats
	opps, execs := p.opps, p.execs
	p.opps, p.execs = nil, nil
	bbo := p.bbo
	p.bbo = make(map[string]BBO)
	p.mu.Unlock()

	if stats == nil && len(opps) == 0 && len(execs) == 0 && len(bbo) == 0 {
		return nil
	}

	pipe := p.client.TxPipeline()
	if stats != nil {
		data, err := json.Marshal(Status{Mode: p.mode, UpdatedAt: time.Now().UTC(), Strategy: *stats})
		if err != nil {
			return fmt.Errorf("编码状态失败: %w", err)
		}
		pipe.Set(ctx, p.keys.Status(), data, p.ttl)
	}
	if err := pushRecent(ctx, pipe, p.keys.Opportunities(), opps); err != nil {
		return err
	}
	if err := pushRecent(ctx, pipe, p.keys.Executions(), execs); err != nil {
		return err
	}
	if len(bbo) > 0 {
		fields := make(map[string]any, len(bbo))
		for k, v := range bbo {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("编码买一卖一失败: %w", err)
			}
			fields[k] = data
		}
		pipe.HSet(ctx, p.keys.BBO(), fields)
		if p.ttl > 0 {
			pipe.Expire(ctx, p.keys.BBO(), p.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("发布状态到 Redis 失败: %w", err)
	}
	p.mu.Lock()
	p.publish++
	p.mu.Unlock()
	return nil
}

// pushRecent 新记录压入列表头部并截断
func pushRecent[T any](ctx context.Context, pipe redis.Pipeliner, key string, items []T) error {
	if len(items) == 0 {
		return nil
	}
	vals := make([]any, 0, len(items))
	for i := range items {
		data, err := json.Marshal(items[i])
		if err != nil {
			return fmt.Errorf("编码 %s 记录失败: %w", key, err)
		}
		vals = append(vals, data)
	}
	pipe.LPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, 0, recentLimit-1)
	return nil
}

// Run 按间隔发布，ctx 结束时做最后一次发布
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := p.Flush(flushCtx); err != nil {
				p.logger.Warn("最终状态发布失败", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("状态发布失败", zap.Error(err))
			}
		}
	}
}

// Published 成功发布次数
func (p *Publisher) Published() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publish
}

// ReadStatus 读取最近发布的状态与买一卖一
func ReadStatus(ctx context.Context, client *redis.Client, prefix string) (*Status, error) {
	keys := NewKeys(prefix)
	data, err := client.Get(ctx, keys.Status()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoStatus
	}
	if err != nil {
		return nil, fmt.Errorf("读取状态失败: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("解析状态失败: %w", err)
	}

	fields, err := client.HGetAll(ctx, keys.BBO()).Result()
	if err != nil {
		return nil, fmt.Errorf("读取买一卖一失败: %w", err)
	}
	for _, raw := range fields {
		var b BBO
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			continue
		}
		st.BBO = append(st.BBO, b)
	}
	sort.Slice(st.BBO, func(i, j int) bool {
		if st.BBO[i].Symbol != st.BBO[j].Symbol {
			return st.BBO[i].Symbol < st.BBO[j].Symbol
		}
		return st.BBO[i].Venue < st.BBO[j].Venue
	})
	return &st, nil
}

// RecentOpportunities 读取最近的机会（新记录在前）
func RecentOpportunities(ctx context.Context, client *redis.Client, prefix string, n int64) ([]model.Opportunity, error) {
	raws, err := client.LRange(ctx, NewKeys(prefix).Opportunities(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取机会列表失败: %w", err)
	}
	out := make([]model.Opportunity, 0, len(raws))
	for _, raw := range raws {
		var op model.Opportunity
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}
