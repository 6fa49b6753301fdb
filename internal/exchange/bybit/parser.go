// Package bybit 实现 Bybit v5 现货的深度行情解析与签名 REST 连接器。
// 行情: wss://stream.bybit.com/v5/public/spot，订阅 orderbook.50.<symbol>
// 心跳: 应用层 {"op":"ping"}，建议每 20 秒一次
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"cross-exchange-arbitrage/internal/core/model"
	"cross-exchange-arbitrage/internal/exchange/stream"
	"cross-exchange-arbitrage/internal/util/fastparse"
)

// maxArgsPerSubscribe 单条订阅请求最多携带的主题数
const maxArgsPerSubscribe = 10

// Parser Bybit 深度消息解析器
// 维护每个交易对的本地订单簿，snapshot 替换、delta 合并。
type Parser struct {
	levels  int
	symbols map[string]bool

	mu    sync.Mutex
	books map[string]*model.OrderBook
}

var _ stream.Protocol = (*Parser)(nil)

// NewParser 创建解析器
// 参数 symbols: 订阅交易对
// 参数 levels: 深度档位，归一到 1/50/200
func NewParser(symbols []string, levels int) *Parser {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[strings.ToUpper(s)] = true
	}
	return &Parser{
		levels:  normalizeLevels(levels),
		symbols: m,
		books:   make(map[string]*model.OrderBook),
	}
}

// normalizeLevels 现货深度仅支持 1/50/200
func normalizeLevels(n int) int {
	switch {
	case n <= 1:
		return 1
	case n <= 50:
		return 50
	default:
		return 200
	}
}

// Venue 交易所标识
func (p *Parser) Venue() string { return model.ExchangeBybit }

// SubscribeMessages 生成订阅请求，每条最多 10 个主题
func (p *Parser) SubscribeMessages(symbols []string) ([][]byte, error) {
	var out [][]byte
	for start := 0; start < len(symbols); start += maxArgsPerSubscribe {
		end := min(start+maxArgsPerSubscribe, len(symbols))
		args := make([]string, 0, end-start)
		for _, s := range symbols[start:end] {
			args = append(args, fmt.Sprintf("orderbook.%d.%s", p.levels, strings.ToUpper(s)))
		}
		data, err := json.Marshal(SubscribeRequest{Op: "subscribe", Args: args})
		if err != nil {
			return nil, fmt.Errorf("序列化订阅请求失败: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Heartbeat 应用层 ping
func (p *Parser) Heartbeat() (int, []byte) {
	return websocket.TextMessage, []byte(`{"op":"ping"}`)
}

// Reset 清空本地订单簿，等待重连后的 snapshot
func (p *Parser) Reset() {
	p.mu.Lock()
	p.books = make(map[string]*model.OrderBook)
	p.mu.Unlock()
}

// Parse 解析推送
// 返回: 更新后的订单簿快照；控制消息（pong、订阅响应）返回空切片
func (p *Parser) Parse(data []byte, arrivedAtNs int64) ([]stream.Update, error) {
	var msg OrderbookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", fmt.Errorf("解析 Bybit 消息失败: %w", err))
	}
	if msg.Op != "" {
		if msg.Success != nil && !*msg.Success {
			return nil, model.Errorf(model.KindDataParsing, "parse_depth", "Bybit 控制消息失败: op=%s msg=%s", msg.Op, msg.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") {
		return nil, nil
	}

	symbol := strings.ToUpper(msg.Data.Symbol)
	if symbol == "" {
		symbol = msg.Topic[strings.LastIndex(msg.Topic, ".")+1:]
	}
	if !p.symbols[symbol] {
		return nil, nil
	}

	bids, err := parseLevels(msg.Data.Bids)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", err)
	}
	asks, err := parseLevels(msg.Data.Asks)
	if err != nil {
		return nil, model.NewError(model.KindDataParsing, "parse_depth", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	book := p.books[symbol]
	switch {
	case msg.Type == "snapshot" || msg.Data.UpdateID == 1:
		book = model.NewOrderBook(model.ExchangeBybit, symbol)
		book.ApplySnapshot(bids, asks)
		p.books[symbol] = book
	case msg.Type == "delta":
		if book == nil {
			return nil, model.Errorf(model.KindDataParsing, "parse_depth", "Bybit %s 在快照前收到增量", symbol)
		}
		for _, l := range bids {
			book.UpdateBid(l.Price, l.Qty)
		}
		for _, l := range asks {
			book.UpdateAsk(l.Price, l.Qty)
		}
	default:
		return nil, model.Errorf(model.KindDataParsing, "parse_depth", "未知推送类型: %s", msg.Type)
	}

	tsNs := arrivedAtNs
	if msg.Ts > 0 {
		tsNs = msg.Ts * 1_000_000
	}
	book.SetTimestamp(tsNs)
	return []stream.Update{{Book: book.Clone(), ExchTsMs: msg.Ts, ArrivedAtNs: arrivedAtNs}}, nil
}

// parseLevels 解析 [[price, size], ...] 字符串档位
func parseLevels(raw [][]string) ([]model.Level, error) {
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
