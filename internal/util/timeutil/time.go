// Package timeutil 提供纳秒时间戳工具。
// 订单簿、机会与成交记录统一使用 Unix 纳秒时间戳。
package timeutil

import (
	"time"
)

var (
	// baseTime 进程启动时刻（带单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 启动时刻的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前 Unix 纳秒时间戳
// 以启动时刻的墙钟加单调时钟流逝量计算，系统时间跳变不会让
// 订单簿时间戳倒退，陈旧判断与延迟统计保持单调。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// MsToNano 将交易所毫秒时间戳转换为纳秒
func MsToNano(ms int64) int64 {
	return ms * int64(time.Millisecond)
}
