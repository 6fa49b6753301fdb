package strategy

import (
	"fmt"

	"cross-exchange-arbitrage/internal/core/model"
)

// Leg 套利腿
type Leg string

const (
	// LegBuy 买入腿
	LegBuy Leg = "buy"
	// LegSell 卖出腿
	LegSell Leg = "sell"
)

// LegError 单条腿执行失败
// 两条腿都失败时以 errors.Join 合并返回。
type LegError struct {
	// Leg 失败的腿
	Leg Leg
	// Venue 交易所
	Venue string
	// Symbol 交易对
	Symbol string
	// Err 底层错误
	Err error
}

// Error 实现 error 接口
func (e *LegError) Error() string {
	return fmt.Sprintf("%s 腿失败 [venue=%s symbol=%s]: %v", e.Leg, e.Venue, e.Symbol, e.Err)
}

// Unwrap 支持 errors.Is / errors.As
func (e *LegError) Unwrap() error {
	return e.Err
}

// Kind 底层错误分类
func (e *LegError) Kind() model.ErrorKind {
	return model.KindOf(e.Err)
}
