// Package stream 实现交易所公共深度 WebSocket 的通用连接管理。
// 各交易所通过 Protocol 提供订阅消息、心跳与消息解析，
// 连接、读循环、心跳、断线指数退避重连与解析错误采样日志由 Stream 统一处理。
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cross-exchange-arbitrage/internal/config"
	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/util/backoff"
	"cross-exchange-arbitrage/internal/util/timeutil"
)

// Update 一次订单簿更新
type Update struct {
	// Book 更新后的订单簿快照（调用方可持有）
	Book *model.OrderBook
	// ExchTsMs 交易所时间戳（毫秒），未知时为 0
	ExchTsMs int64
	// ArrivedAtNs 本地接收时间（纳秒）
	ArrivedAtNs int64
}

// Protocol 交易所协议
type Protocol interface {
	// Venue 交易所标识
	Venue() string
	// SubscribeMessages 生成订阅消息
	SubscribeMessages(symbols []string) ([][]byte, error)
	// Heartbeat 心跳消息类型与内容（websocket.PingMessage 或 TextMessage）
	Heartbeat() (int, []byte)
	// Parse 解析一条消息，非行情消息返回空切片
	Parse(data []byte, arrivedAtNs int64) ([]Update, error)
	// Reset 重连后清空本地订单簿状态
	Reset()
}

// Handler 订单簿更新回调，在读循环 goroutine 中同步调用
type Handler func(Update)

// Metrics 连接质量指标
type Metrics struct {
	// Connected 当前是否已连接
	Connected bool
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
}

// Stream 单交易所深度行情连接
type Stream struct {
	cfg     config.ExchangeWSConfig
	proto   Protocol
	symbols []string
	handler Handler
	logger  *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	metrics   Metrics
	metricsMu sync.RWMutex

	lastMsgTime int64
	updateCount int64
	backoff     *backoff.Backoff
	closed      int32

	parseErrSampleCount uint64
	lastParseErrLogNs   int64
}

// New 创建深度行情连接
// 参数 cfg: WebSocket 配置
// 参数 proto: 交易所协议
// 参数 symbols: 订阅交易对
// 参数 handler: 更新回调
// 参数 logger: 日志记录器
func New(cfg config.ExchangeWSConfig, proto Protocol, symbols []string, handler Handler, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		cfg:     cfg,
		proto:   proto,
		symbols: symbols,
		handler: handler,
		logger:  logger.Named(proto.Venue()).Named("ws"),
		backoff: backoff.NewDefault(),
	}
}

// Venue 交易所标识
func (s *Stream) Venue() string {
	return s.proto.Venue()
}

// Connect 建立连接并发送订阅
func (s *Stream) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "cross-exchange-arbitrage/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return model.NewError(model.KindConnection, "ws_connect", fmt.Errorf("连接 %s WebSocket 失败: %w", s.Venue(), err))
	}

	readTimeout := s.readTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&s.lastMsgTime, timeutil.NowNano())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	msgs, err := s.proto.SubscribeMessages(s.symbols)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("生成订阅请求失败: %w", err)
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, m); err != nil {
			_ = conn.Close()
			return model.NewError(model.KindConnection, "ws_subscribe", fmt.Errorf("发送订阅请求失败: %w", err))
		}
	}

	s.proto.Reset()
	s.conn = conn
	s.backoff.Reset()
	s.setConnected(true)
	s.logger.Info("WebSocket 连接成功", zap.String("url", s.cfg.URL), zap.Strings("symbols", s.symbols))
	return nil
}

// Run 运行读循环、心跳与指标统计，直到 ctx 结束或 Close
// 未连接时自动按退避策略重连。
func (s *Stream) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.closeConn()
	}()
	go s.pingLoop(ctx)
	go s.metricsLoop(ctx)
	s.readLoop(ctx)
}

func (s *Stream) readLoop(ctx context.Context) {
	readTimeout := s.readTimeout()
	for {
		if ctx.Err() != nil || atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			s.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&s.closed) == 1 {
				return
			}
			s.logger.Warn("读取消息失败", zap.Error(err))
			s.incrementReconnectCount()
			s.reconnect(ctx)
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		arrived := timeutil.NowNano()
		atomic.StoreInt64(&s.lastMsgTime, arrived)

		updates, err := s.proto.Parse(data, arrived)
		if err != nil {
			s.incrementParseErrorCount()
			s.maybeLogParseError(err, data)
			continue
		}
		for _, u := range updates {
			atomic.AddInt64(&s.updateCount, 1)
			if s.handler != nil {
				s.handler(u)
			}
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	intervalMs := s.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = int(s.readTimeout().Milliseconds() / 2)
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	msgType, payload := s.proto.Heartbeat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&s.closed) == 1 {
				return
			}
			s.connMu.Lock()
			conn := s.conn
			if conn == nil {
				s.connMu.Unlock()
				continue
			}
			var err error
			if msgType == websocket.PingMessage {
				err = conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(5*time.Second))
			} else {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				err = conn.WriteMessage(msgType, payload)
			}
			s.connMu.Unlock()
			if err != nil {
				s.logger.Warn("发送心跳失败", zap.Error(err))
			}
		}
	}
}

func (s *Stream) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&s.closed) == 1 {
				return
			}
			count := atomic.LoadInt64(&s.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			var ageMs int64
			if last := atomic.LoadInt64(&s.lastMsgTime); last > 0 {
				ageMs = (timeutil.NowNano() - last) / 1_000_000
			}

			s.metricsMu.Lock()
			s.metrics.UpdatesPerSec = qps
			s.metrics.LastMessageAgeMs = ageMs
			s.metricsMu.Unlock()
		}
	}
}

func (s *Stream) reconnect(ctx context.Context) {
	s.closeConn()

	delay := s.backoff.Next()
	s.logger.Info("准备重连", zap.Duration("delay", delay), zap.Int("attempt", s.backoff.Attempt()))

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	if err := s.Connect(ctx); err != nil {
		s.logger.Error("重连失败", zap.Error(err))
	}
}

func (s *Stream) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.setConnected(false)
}

// Close 关闭连接，Run 随后返回
func (s *Stream) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	s.closeConn()
	s.logger.Info("WebSocket 已关闭")
	return nil
}

// Metrics 获取连接指标
func (s *Stream) Metrics() Metrics {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()
	return s.metrics
}

func (s *Stream) setConnected(v bool) {
	s.metricsMu.Lock()
	s.metrics.Connected = v
	s.metricsMu.Unlock()
}

func (s *Stream) incrementReconnectCount() {
	s.metricsMu.Lock()
	s.metrics.ReconnectCount++
	s.metricsMu.Unlock()
}

func (s *Stream) incrementParseErrorCount() {
	s.metricsMu.Lock()
	s.metrics.ParseErrorCount++
	s.metricsMu.Unlock()
}

func (s *Stream) readTimeout() time.Duration {
	if s.cfg.ReadTimeoutMs > 0 {
		return time.Duration(s.cfg.ReadTimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

// maybeLogParseError 采样记录解析错误原始消息
// 每 100 次错误记录 1 条，且至少间隔 1 分钟。
func (s *Stream) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&s.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&s.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&s.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	s.logger.Warn("解析消息失败（采样）",
		zap.Error(err),
		zap.Uint64("total", count),
		zap.ByteString("data", sample))
}
