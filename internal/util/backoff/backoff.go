// Package backoff 计算行情 WebSocket 断线重连的等待时间。
// 默认基础间隔 1s，上限 30s，抖动 ±20%。
package backoff

import (
	"math/rand"
	"time"
)

// maxShift 位移上限，避免长时间断线后 1<<attempt 溢出
const maxShift = 30

// Backoff 指数退避计算器
// 非并发安全，每条连接持有一个实例。
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间（抖动前）
// 参数 jitter: 抖动比例（0-1），0.2 表示 ±20%
func New(base, max time.Duration, jitter float64) *Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认退避计算器（1s / 30s / ±20%）
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 返回下一次重连前的等待时间并累加重试次数
// delay = min(base*2^attempt, max) * (1 ± jitter)
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay := b.base * time.Duration(int64(1)<<shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	if b.jitter > 0 {
		delay = time.Duration(float64(delay) * (1.0 + (rand.Float64()*2-1)*b.jitter))
	}
	b.attempt++
	return delay
}

// Reset 连接成功后重置重试次数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 已重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
