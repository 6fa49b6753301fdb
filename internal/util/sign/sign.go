// Package sign 提供交易所 REST 私有接口的请求签名。
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACSHA256Hex 计算 HMAC-SHA256 并返回小写十六进制
// Binance 与 Bybit 的私有接口均使用该签名格式。
// 参数 secret: API Secret
// 参数 payload: 待签名字符串
func HMACSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Redact 脱敏显示密钥，仅保留前 4 位
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
