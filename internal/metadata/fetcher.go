// Package metadata 负责从交易所获取现货交易规则并构建统一的交易对目录。
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fetcher 元数据获取器接口
type Fetcher interface {
	// FetchBinance 获取 Binance 现货交易对
	FetchBinance(ctx context.Context, restURL string) ([]BinanceSymbol, error)
	// FetchBybit 获取 Bybit 现货交易对
	FetchBybit(ctx context.Context, restURL string) ([]BybitInstrument, error)
}

// HTTPFetcher HTTP 元数据获取器
type HTTPFetcher struct {
	// client HTTP 客户端
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchBinance 获取 Binance 现货交易对
// 参数 restURL: REST 根地址，如 https://api.binance.com
func (f *HTTPFetcher) FetchBinance(ctx context.Context, restURL string) ([]BinanceSymbol, error) {
	var resp BinanceExchangeInfo
	if err := f.getJSON(ctx, strings.TrimRight(restURL, "/")+"/api/v3/exchangeInfo", &resp); err != nil {
		return nil, fmt.Errorf("获取 Binance exchangeInfo 失败: %w", err)
	}
	return resp.Symbols, nil
}

// FetchBybit 获取 Bybit 现货交易对
// 参数 restURL: REST 根地址，如 https://api.bybit.com
func (f *HTTPFetcher) FetchBybit(ctx context.Context, restURL string) ([]BybitInstrument, error) {
	var resp BybitInstrumentsResponse
	if err := f.getJSON(ctx, strings.TrimRight(restURL, "/")+"/v5/market/instruments-info?category=spot", &resp); err != nil {
		return nil, fmt.Errorf("获取 Bybit instruments-info 失败: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("Bybit instruments-info 返回 retCode=%d: %s", resp.RetCode, resp.RetMsg)
	}
	return resp.Result.List, nil
}

// maxMetadataBytes exchangeInfo 全量响应约数 MB，超过上限视为异常
const maxMetadataBytes = 32 << 20

// getJSON GET 请求并把响应体解码到 out
// 非 2xx 时错误信息附带响应体前 256 字节，便于排查地域限制等问题。
func (f *HTTPFetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxMetadataBytes)
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 256))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("解码响应失败: %w", err)
	}
	return nil
}
