package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	// KindConfig 配置错误：启动时致命，不重试
	KindConfig ErrorKind = "config"
	// KindConnection 连接错误：瞬时错误可退避重试
	KindConnection ErrorKind = "connection"
	// KindDataParsing 行情解析错误：丢弃该消息，行情继续
	KindDataParsing ErrorKind = "data_parsing"
	// KindTrading 交易错误：订单被模拟器或交易所拒绝
	KindTrading ErrorKind = "trading"
	// KindRiskManagement 风控拒绝：不发起网络调用，不重试
	KindRiskManagement ErrorKind = "risk_management"
	// KindTimeout 超时：按连接类错误处理重试
	KindTimeout ErrorKind = "timeout"
)

var (
	// ErrShutdown 紧急停机后拒绝新订单
	ErrShutdown = errors.New("紧急停机已触发")
	// ErrSimulatedReject 模拟器按概率拒单
	ErrSimulatedReject = errors.New("模拟拒单")
	// ErrPositionLimit 超出最大仓位
	ErrPositionLimit = errors.New("超出最大仓位限制")
	// ErrBelowMinOrder 低于最小下单量
	ErrBelowMinOrder = errors.New("低于最小下单量")
	// ErrUnknownVenue 未注册的交易所
	ErrUnknownVenue = errors.New("未知交易所")
	// ErrNotConnected 连接未建立
	ErrNotConnected = errors.New("未连接")
)

// Error 带分类与上下文的领域错误
type Error struct {
	// Kind 错误分类
	Kind ErrorKind
	// Op 出错的操作，如 place_order
	Op string
	// Venue 交易所（可选）
	Venue string
	// Symbol 交易对（可选）
	Symbol string
	// OrderID 订单号（可选）
	OrderID string
	// Err 底层错误
	Err error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	var ctx []string
	if e.Venue != "" {
		ctx = append(ctx, "venue="+e.Venue)
	}
	if e.Symbol != "" {
		ctx = append(ctx, "symbol="+e.Symbol)
	}
	if e.OrderID != "" {
		ctx = append(ctx, "order_id="+e.OrderID)
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 创建领域错误
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf 按格式创建领域错误
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 提取错误分类
// context.DeadlineExceeded 归为 Timeout；无法识别时返回空字符串。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable 判断错误是否可以重试
// 风控与配置错误永不重试；超时与连接错误可重试；交易错误仅允许显式重试包装器重试。
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConfig, KindRiskManagement:
		return false
	case "":
		return !errors.Is(err, ErrShutdown) && !errors.Is(err, context.Canceled)
	default:
		return !errors.Is(err, ErrShutdown)
	}
}
