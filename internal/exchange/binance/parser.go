// Package binance 实现 Binance 现货的深度行情解析与签名 REST 连接器。
// 行情: wss://stream.binance.com:9443/stream，订阅 <symbol>@depth20@100ms
// 心跳: 协议层 ping/pong
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/exchange/stream"
	"cross-exchange-arbitrage/internal/util/fastparse"
)

// Parser Binance 深度消息解析器
type Parser struct {
	// symbols 订阅的交易对（大写），用于过滤
	symbols map[string]bool
	// levels 订阅深度档位
	levels int
}

// NewParser 创建解析器
// 参数 symbols: 订阅交易对，如 BTCUSDT
// 参数 levels: 深度档位，归一到 5/10/20
func NewParser(symbols []string, levels int) *Parser {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[strings.ToUpper(s)] = true
	}
	return &Parser{symbols: m, levels: normalizeLevels(levels)}
}

var _ stream.Protocol = (*Parser)(nil)

// normalizeLevels 有限档深度仅支持 5/10/20
func normalizeLevels(n int) int {
	switch {
	case n <= 5:
		return 5
	case n <= 10:
		return 10
	default:
		return 20
	}
}

// Venue 交易所标识
func (p *Parser) Venue() string { return model.ExchangeBinance }

// SubscribeMessages 生成 SUBSCRIBE 请求
func (p *Parser) SubscribeMessages(symbols []string) ([][]byte, error) {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		// 订阅参数要求小写 symbol
		params = append(params, fmt.Sprintf("%s@depth%d@100ms", strings.ToLower(s), p.levels))
	}
	data, err := json.Marshal(SubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	return [][]byte{data}, nil
}

// Heartbeat 协议层 ping
func (p *Parser) Heartbeat() (int, []byte) {
	return websocket.PingMessage, []byte("ping")
}

// Reset 有限档推送均为快照，无本地状态
func (p *Parser) Reset() {}

// Parse 解析组合流消息
// 推送形如 {"stream":"btcusdt@depth20@100ms","data":{...}}，订阅响应没有 stream 字段。
// 返回: 0 或 1 个订单簿快照；订阅响应与未订阅交易对返回空切片
func (p *Parser) Parse(data []byte, arrivedAtNs int64) ([]stream.Update, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", fmt.Errorf("解析 Binance 消息失败: %w", err))
	}
	if env.Stream == "" {
		return nil, nil
	}

	name, _, _ := strings.Cut(env.Stream, "@")
	symbol := strings.ToUpper(name)
	if !p.symbols[symbol] {
		return nil, nil
	}

	var depth PartialDepth
	if err := json.Unmarshal(env.Data, &depth); err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", fmt.Errorf("解析 Binance 深度失败: %w", err))
	}

	bids, err := ParseLevels(depth.Bids)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", err)
	}
	asks, err := ParseLevels(depth.Asks)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", err)
	}

	book := model.NewOrderBook(model.ExchangeBinance, symbol)
	book.ApplySnapshot(bids, asks)
	book.SetTimestamp(arrivedAtNs)
	return []stream.Update{{Book: book, ArrivedAtNs: arrivedAtNs}}, nil
}

// ParseLevels 解析 [[price, qty], ...] 字符串档位
func ParseLevels(raw [][]string) ([]model.Level, error) {
	levels := make([]model.Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			return nil, fmt.Errorf("档位字段不足: %v", l)
		}
		px, err := fastparse.ParseFloat(l[0])
		if err != nil {
			return nil, fmt.Errorf("解析价格失败: %w", err)
		}
		qty, err := fastparse.ParseFloat(l[1])
		if err != nil {
			return nil, fmt.Errorf("解析数量失败: %w", err)
		}
		levels = append(levels, model.Level{Price: px, Qty: qty})
	}
	return levels, nil
}
