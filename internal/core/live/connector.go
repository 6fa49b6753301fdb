// Package live 实现实盘执行协调器。
// 协调器位于策略与交易所连接器之间，负责风控校验、超时、重试、
// 活动订单跟踪、仓位维护、连接健康检查与紧急停机。
package live

import (
	"context"

	"cross-exchange-arbitrage/internal/core/model"
)

// Connector 交易所连接器
// 实现方负责签名 REST 调用与连接管理，所有阻塞调用均需遵守 ctx。
type Connector interface {
	// Name 交易所标识
	Name() string
	// Connect 建立连接（可重复调用）
	Connect(ctx context.Context) error
	// Disconnect 断开连接
	Disconnect() error
	// IsConnected 是否已连接
	IsConnected() bool
	// Ping 连通性检查
	Ping(ctx context.Context) error
	// PlaceOrder 下限价单
	PlaceOrder(ctx context.Context, order model.LimitOrder) (*model.OrderResponse, error)
	// CancelOrder 撤单
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// OrderStatus 查询订单
	OrderStatus(ctx context.Context, symbol, orderID string) (*model.OrderResponse, error)
	// Balances 查询账户余额
	Balances(ctx context.Context) ([]model.Balance, error)
}
