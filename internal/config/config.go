// Package config 负责加载和验证配置文件。
// 支持 YAML（.yaml/.yml）与 TOML（.toml）两种格式，
// 加载前会读取可选的 .env 文件并展开 ${VAR} 形式的环境变量引用。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app" toml:"app"`
	// Strategy 策略参数配置
	Strategy StrategyConfig `yaml:"strategy" toml:"strategy"`
	// Risk 风控参数配置
	Risk RiskConfig `yaml:"risk" toml:"risk"`
	// Execution 执行参数配置
	Execution ExecutionConfig `yaml:"execution" toml:"execution"`
	// Simulation 模拟成交配置（dry-run）
	Simulation SimulationConfig `yaml:"simulation" toml:"simulation"`
	// Monitoring 监控配置
	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
	// Exchanges 交易所配置
	Exchanges ExchangesConfig `yaml:"exchanges" toml:"exchanges"`
	// Output 输出配置
	Output OutputConfig `yaml:"output" toml:"output"`
	// Redis 状态发布配置
	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name" toml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

// StrategyConfig 策略参数配置
type StrategyConfig struct {
	// Symbol 主交易对，如 BTCUSDT
	Symbol string `yaml:"symbol" toml:"symbol"`
	// ExtraSymbols 额外监控的交易对
	ExtraSymbols []string `yaml:"extra_symbols" toml:"extra_symbols"`
	// MinSpreadBps 最小价差（基点），低于此值不产生机会
	MinSpreadBps int `yaml:"min_spread_bps" toml:"min_spread_bps"`
	// MaxPositionSize 最大仓位（基础币数量）
	MaxPositionSize float64 `yaml:"max_position_size" toml:"max_position_size"`
	// RebalanceThreshold 再平衡阈值（保留字段）
	RebalanceThreshold float64 `yaml:"rebalance_threshold" toml:"rebalance_threshold"`
	// MinProfitUSD 最小预期利润（USD），0 表示仅要求利润为正
	MinProfitUSD float64 `yaml:"min_profit_usd" toml:"min_profit_usd"`
	// MaxConcurrentPositions 单轮最多执行的机会数
	MaxConcurrentPositions int `yaml:"max_concurrent_positions" toml:"max_concurrent_positions"`
	// TickIntervalMs 策略循环间隔（毫秒）
	TickIntervalMs int `yaml:"tick_interval_ms" toml:"tick_interval_ms"`
	// TimeInForce 下单有效方式: GTC, IOC, FOK, GTX
	TimeInForce string `yaml:"time_in_force" toml:"time_in_force"`
}

// Symbols 返回去重后的全部监控交易对（主交易对在前）
func (s *StrategyConfig) Symbols() []string {
	seen := make(map[string]bool, 1+len(s.ExtraSymbols))
	out := make([]string, 0, 1+len(s.ExtraSymbols))
	for _, sym := range append([]string{s.Symbol}, s.ExtraSymbols...) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// RiskConfig 风控参数配置
type RiskConfig struct {
	// MaxDrawdown 最大回撤比例，范围 (0,1)
	MaxDrawdown float64 `yaml:"max_drawdown" toml:"max_drawdown"`
	// StopLossBps 单笔止损（基点）
	StopLossBps int `yaml:"stop_loss_bps" toml:"stop_loss_bps"`
	// PositionLimit 名义仓位上限（USD），0 表示不限制
	PositionLimit float64 `yaml:"position_limit" toml:"position_limit"`
	// DailyLossLimit 单日亏损上限（USD），0 表示不限制
	DailyLossLimit float64 `yaml:"daily_loss_limit" toml:"daily_loss_limit"`
	// VolatilityThreshold 波动率阈值（保留字段）
	VolatilityThreshold float64 `yaml:"volatility_threshold" toml:"volatility_threshold"`
}

// ExecutionConfig 执行参数配置
type ExecutionConfig struct {
	// OrderTimeoutMs 单次交易所调用超时（毫秒）
	OrderTimeoutMs int `yaml:"order_timeout_ms" toml:"order_timeout_ms"`
	// SlippageTolerance 滑点容忍度（比例）
	SlippageTolerance float64 `yaml:"slippage_tolerance" toml:"slippage_tolerance"`
	// MinOrderSize 最小下单量
	MinOrderSize float64 `yaml:"min_order_size" toml:"min_order_size"`
	// OrderSizeFraction 下单量占可交易量的比例
	OrderSizeFraction float64 `yaml:"order_size_fraction" toml:"order_size_fraction"`
	// AllowPartialFills 是否允许部分成交
	AllowPartialFills bool `yaml:"allow_partial_fills" toml:"allow_partial_fills"`
	// MaxRetryAttempts 最大重试次数
	MaxRetryAttempts int `yaml:"max_retry_attempts" toml:"max_retry_attempts"`
	// RetryDelayMs 线性退避步长（毫秒），第 n 次失败后等待 n × RetryDelayMs
	RetryDelayMs int `yaml:"retry_delay_ms" toml:"retry_delay_ms"`
}

// SimulationConfig 模拟成交配置
// 所有概率均为显式配置，测试中可固定 Seed 得到确定结果。
type SimulationConfig struct {
	// Seed 随机种子，0 表示按当前时间播种
	Seed int64 `yaml:"seed" toml:"seed"`
	// EnableFees 是否计算手续费（默认 true）
	EnableFees *bool `yaml:"enable_fees" toml:"enable_fees"`
	// MakerFee Maker 费率
	MakerFee float64 `yaml:"maker_fee" toml:"maker_fee"`
	// TakerFee Taker 费率
	TakerFee float64 `yaml:"taker_fee" toml:"taker_fee"`
	// EnableDelays 是否模拟下单延迟
	EnableDelays bool `yaml:"enable_delays" toml:"enable_delays"`
	// EnableMarketImpact 是否模拟市场冲击
	EnableMarketImpact bool `yaml:"enable_market_impact" toml:"enable_market_impact"`
	// ImpactFactor 冲击系数，价格偏移比例 = 数量 × 系数
	ImpactFactor float64 `yaml:"impact_factor" toml:"impact_factor"`
	// EnablePartialFills 是否模拟部分成交
	EnablePartialFills bool `yaml:"enable_partial_fills" toml:"enable_partial_fills"`
	// PartialFillProbability 部分成交概率
	PartialFillProbability float64 `yaml:"partial_fill_probability" toml:"partial_fill_probability"`
	// MinFillRatio 部分成交最小比例
	MinFillRatio float64 `yaml:"min_fill_ratio" toml:"min_fill_ratio"`
	// RejectProbability 拒单概率
	RejectProbability float64 `yaml:"reject_probability" toml:"reject_probability"`
	// InitialBalances 初始余额
	InitialBalances map[string]float64 `yaml:"initial_balances" toml:"initial_balances"`
	// ReplayFile 历史订单簿回放文件（JSONL）
	ReplayFile string `yaml:"replay_file" toml:"replay_file"`
	// SyntheticVolBps 合成行情每步波动（基点）
	SyntheticVolBps float64 `yaml:"synthetic_vol_bps" toml:"synthetic_vol_bps"`
	// SyntheticMidPrice 合成行情初始中间价
	SyntheticMidPrice float64 `yaml:"synthetic_mid_price" toml:"synthetic_mid_price"`
}

// FeesEnabled 是否计算手续费
func (s *SimulationConfig) FeesEnabled() bool {
	return s.EnableFees == nil || *s.EnableFees
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	// EnableMetrics 是否暴露 Prometheus 指标
	EnableMetrics bool `yaml:"enable_metrics" toml:"enable_metrics"`
	// MetricsAddr 指标 HTTP 监听地址
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
	// MetricsIntervalSecs 指标快照输出间隔（秒）
	MetricsIntervalSecs int `yaml:"metrics_interval_secs" toml:"metrics_interval_secs"`
	// EnableTradeLogging 是否输出成交日志
	EnableTradeLogging bool `yaml:"enable_trade_logging" toml:"enable_trade_logging"`
	// LogRotationSizeMB JSONL 文件轮转大小（MB），0 表示不轮转
	LogRotationSizeMB int `yaml:"log_rotation_size_mb" toml:"log_rotation_size_mb"`
	// HealthCheckIntervalSecs 健康检查间隔（秒）
	HealthCheckIntervalSecs int `yaml:"health_check_interval_secs" toml:"health_check_interval_secs"`
}

// ExchangesConfig 交易所配置
type ExchangesConfig struct {
	// Enabled 启用的交易所列表
	Enabled []string `yaml:"enabled" toml:"enabled"`
	// Primary 主交易所（Maker 侧）
	Primary string `yaml:"primary_exchange" toml:"primary_exchange"`
	// Binance Binance 配置
	Binance VenueConfig `yaml:"binance" toml:"binance"`
	// Bybit Bybit 配置
	Bybit VenueConfig `yaml:"bybit" toml:"bybit"`
}

// Venue 获取指定交易所配置
// 返回: 未知交易所返回 nil
func (e *ExchangesConfig) Venue(name string) *VenueConfig {
	switch strings.ToLower(name) {
	case "binance":
		return &e.Binance
	case "bybit":
		return &e.Bybit
	}
	return nil
}

// Secondary 返回除主交易所外的第一个启用交易所（Taker 侧）
func (e *ExchangesConfig) Secondary() string {
	for _, name := range e.Enabled {
		if !strings.EqualFold(name, e.Primary) {
			return strings.ToLower(name)
		}
	}
	return ""
}

// VenueConfig 单个交易所的连接、鉴权与费率配置
type VenueConfig struct {
	// WS WebSocket 配置
	WS ExchangeWSConfig `yaml:"ws" toml:"ws"`
	// RestURL REST API 地址
	RestURL string `yaml:"rest_url" toml:"rest_url"`
	// APIKey API Key（支持 ${VAR}）
	APIKey string `yaml:"api_key" toml:"api_key"`
	// SecretKey API Secret（支持 ${VAR}）
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	// RecvWindowMs 签名请求有效窗口（毫秒）
	RecvWindowMs int `yaml:"recv_window_ms" toml:"recv_window_ms"`
	// TimeoutMs HTTP 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms" toml:"timeout_ms"`
	// OrderRateLimit 下单限频（次/秒）
	OrderRateLimit float64 `yaml:"order_rate_limit" toml:"order_rate_limit"`
	// DepthLevels 订阅深度档位数
	DepthLevels int `yaml:"depth_levels" toml:"depth_levels"`
	// Fees 手续费
	Fees FeeDetail `yaml:"fees" toml:"fees"`
}

// HasCredentials 是否配置了 API 凭证
func (v *VenueConfig) HasCredentials() bool {
	return v.APIKey != "" && v.SecretKey != ""
}

// ExchangeWSConfig 单个交易所的 WebSocket 配置
type ExchangeWSConfig struct {
	// URL WebSocket 连接地址
	URL string `yaml:"url" toml:"url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms" toml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms" toml:"pong_timeout_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
}

// FeeDetail 手续费详情
// MakerRate 可以为负数，表示 Maker 返佣。
type FeeDetail struct {
	// MakerRate Maker 手续费率
	MakerRate float64 `yaml:"maker_rate" toml:"maker_rate"`
	// TakerRate Taker 手续费率
	TakerRate float64 `yaml:"taker_rate" toml:"taker_rate"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir" toml:"dir"`
	// OpportunitiesEnabled 是否输出套利机会文件
	OpportunitiesEnabled bool `yaml:"opportunities_enabled" toml:"opportunities_enabled"`
	// RecordBooks 是否记录订单簿快照（books.jsonl，可作为回放文件）
	RecordBooks bool `yaml:"record_books" toml:"record_books"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
}

// RedisConfig Redis 状态发布配置
type RedisConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Addr 地址，如 localhost:6379
	Addr string `yaml:"addr" toml:"addr"`
	// Password 密码（支持 ${VAR}）
	Password string `yaml:"password" toml:"password"`
	// DB 数据库编号
	DB int `yaml:"db" toml:"db"`
	// KeyPrefix 键前缀
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
	// StatusTTLSecs 状态键过期时间（秒）
	StatusTTLSecs int `yaml:"status_ttl_secs" toml:"status_ttl_secs"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径（.yaml/.yml/.toml）
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("展开环境变量失败: %w", err)
	}

	cfg, err := Parse([]byte(expanded), filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return cfg, nil
}

// Parse 按扩展名解析配置内容并设置默认值（不做验证）
// 参数 data: 配置内容
// 参数 ext: 扩展名，.toml 使用 TOML，其余使用 YAML
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("解析 TOML 配置失败: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	}

	cfg.setDefaults()
	return &cfg, nil
}

// loadDotEnv 加载配置文件同目录与当前目录下的 .env（不存在则忽略）
// 已存在的环境变量不会被覆盖。
func loadDotEnv(configPath string) {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// expandEnv 展开 ${VAR} 与 $VAR 引用
// 引用了未设置的变量时返回错误，列出全部缺失变量。
func expandEnv(s string) (string, error) {
	missing := make(map[string]bool)
	out := os.Expand(s, func(name string) string {
		v, ok := os.LookupEnv(name)
		if !ok {
			missing[name] = true
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", fmt.Errorf("环境变量未设置: %s", strings.Join(names, ", "))
	}
	return out, nil
}

// setDefaults 设置配置默认值
// 交易对、最小价差、最大仓位、最大回撤与下单超时为必填项，不提供默认值。
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "cross-exchange-arbitrage"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 策略默认值
	c.Strategy.Symbol = strings.ToUpper(strings.TrimSpace(c.Strategy.Symbol))
	if c.Strategy.RebalanceThreshold == 0 {
		c.Strategy.RebalanceThreshold = 0.1
	}
	if c.Strategy.MaxConcurrentPositions == 0 {
		c.Strategy.MaxConcurrentPositions = 3
	}
	if c.Strategy.TickIntervalMs == 0 {
		c.Strategy.TickIntervalMs = 100
	}
	if c.Strategy.TimeInForce == "" {
		c.Strategy.TimeInForce = "IOC"
	}

	// 风控默认值
	if c.Risk.StopLossBps == 0 {
		c.Risk.StopLossBps = 50
	}
	if c.Risk.PositionLimit == 0 {
		c.Risk.PositionLimit = 10000
	}
	if c.Risk.DailyLossLimit == 0 {
		c.Risk.DailyLossLimit = 1000
	}
	if c.Risk.VolatilityThreshold == 0 {
		c.Risk.VolatilityThreshold = 0.02
	}

	// 执行默认值
	if c.Execution.SlippageTolerance == 0 {
		c.Execution.SlippageTolerance = 0.001
	}
	if c.Execution.MinOrderSize == 0 {
		c.Execution.MinOrderSize = 0.001
	}
	if c.Execution.OrderSizeFraction == 0 {
		c.Execution.OrderSizeFraction = 0.1
	}
	if c.Execution.MaxRetryAttempts == 0 {
		c.Execution.MaxRetryAttempts = 3
	}
	if c.Execution.RetryDelayMs == 0 {
		c.Execution.RetryDelayMs = 1000 // 1 秒
	}

	// 模拟默认值
	if c.Simulation.MakerFee == 0 {
		c.Simulation.MakerFee = 0.001
	}
	if c.Simulation.TakerFee == 0 {
		c.Simulation.TakerFee = 0.001
	}
	if c.Simulation.ImpactFactor == 0 {
		c.Simulation.ImpactFactor = 0.0001
	}
	if c.Simulation.MinFillRatio == 0 {
		c.Simulation.MinFillRatio = 0.1
	}
	if len(c.Simulation.InitialBalances) == 0 {
		c.Simulation.InitialBalances = map[string]float64{"USDT": 100000, "BTC": 0, "ETH": 0}
	}
	if c.Simulation.SyntheticVolBps == 0 {
		c.Simulation.SyntheticVolBps = 2
	}
	if c.Simulation.SyntheticMidPrice == 0 {
		c.Simulation.SyntheticMidPrice = 50000
	}

	// 监控默认值
	if c.Monitoring.MetricsAddr == "" {
		c.Monitoring.MetricsAddr = ":9090"
	}
	if c.Monitoring.MetricsIntervalSecs == 0 {
		c.Monitoring.MetricsIntervalSecs = 60
	}
	if c.Monitoring.HealthCheckIntervalSecs == 0 {
		c.Monitoring.HealthCheckIntervalSecs = 30
	}

	// 交易所默认值
	if len(c.Exchanges.Enabled) == 0 {
		c.Exchanges.Enabled = []string{"binance", "bybit"}
	}
	for i, name := range c.Exchanges.Enabled {
		c.Exchanges.Enabled[i] = strings.ToLower(strings.TrimSpace(name))
	}
	if c.Exchanges.Primary == "" {
		c.Exchanges.Primary = "bybit"
	}
	c.Exchanges.Primary = strings.ToLower(c.Exchanges.Primary)

	setVenueDefaults(&c.Exchanges.Binance,
		"wss://stream.binance.com:9443/stream", "https://api.binance.com",
		FeeDetail{MakerRate: 0.001, TakerRate: 0.0004})
	setVenueDefaults(&c.Exchanges.Bybit,
		"wss://stream.bybit.com/v5/public/spot", "https://api.bybit.com",
		FeeDetail{MakerRate: -0.00025, TakerRate: 0.001})
	if c.Exchanges.Binance.WS.ReadTimeoutMs == 0 {
		c.Exchanges.Binance.WS.ReadTimeoutMs = 30000 // 30 秒
	}
	if c.Exchanges.Bybit.WS.PingIntervalMs == 0 {
		c.Exchanges.Bybit.WS.PingIntervalMs = 20000 // 20 秒
	}
	if c.Exchanges.Bybit.WS.PongTimeoutMs == 0 {
		c.Exchanges.Bybit.WS.PongTimeoutMs = 10000 // 10 秒
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	// Redis 默认值
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "arb"
	}
	if c.Redis.StatusTTLSecs == 0 {
		c.Redis.StatusTTLSecs = 300
	}
}

// setVenueDefaults 设置单个交易所的默认连接参数与费率
func setVenueDefaults(v *VenueConfig, wsURL, restURL string, fees FeeDetail) {
	if v.WS.URL == "" {
		v.WS.URL = wsURL
	}
	if v.RestURL == "" {
		v.RestURL = restURL
	}
	if v.RecvWindowMs == 0 {
		v.RecvWindowMs = 5000
	}
	if v.TimeoutMs == 0 {
		v.TimeoutMs = 10000 // 10 秒
	}
	if v.OrderRateLimit == 0 {
		v.OrderRateLimit = 10
	}
	if v.DepthLevels == 0 {
		v.DepthLevels = 20
	}
	if v.Fees == (FeeDetail{}) {
		v.Fees = fees
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围，一次性报告全部错误
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证策略参数
	if strings.TrimSpace(c.Strategy.Symbol) == "" {
		errs = append(errs, "strategy.symbol: 交易对不能为空")
	}
	for _, sym := range c.Strategy.Symbols() {
		if !isAlphanumeric(sym) {
			errs = append(errs, fmt.Sprintf("strategy.symbol: 交易对只能包含字母和数字 '%s'", sym))
		}
	}
	if c.Strategy.MinSpreadBps <= 0 {
		errs = append(errs, "strategy.min_spread_bps: 最小价差必须为正数")
	}
	if c.Strategy.MaxPositionSize <= 0 {
		errs = append(errs, "strategy.max_position_size: 最大仓位必须为正数")
	}
	if c.Strategy.MinProfitUSD < 0 {
		errs = append(errs, "strategy.min_profit_usd: 最小利润不能为负数")
	}
	if c.Strategy.MaxConcurrentPositions < 0 {
		errs = append(errs, "strategy.max_concurrent_positions: 不能为负数")
	}
	if c.Strategy.TickIntervalMs <= 0 {
		errs = append(errs, "strategy.tick_interval_ms: 循环间隔必须为正数")
	}

	// 验证风控参数
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		errs = append(errs, fmt.Sprintf("risk.max_drawdown: 最大回撤必须在 (0,1) 之间，当前值: %f", c.Risk.MaxDrawdown))
	}
	if c.Risk.StopLossBps < 0 {
		errs = append(errs, "risk.stop_loss_bps: 止损不能为负数")
	}
	if c.Risk.DailyLossLimit < 0 {
		errs = append(errs, "risk.daily_loss_limit: 单日亏损上限不能为负数")
	}

	// 验证执行参数
	if c.Execution.OrderTimeoutMs <= 0 {
		errs = append(errs, "execution.order_timeout_ms: 超时必须为正数")
	}
	if c.Execution.SlippageTolerance < 0 || c.Execution.SlippageTolerance > 1 {
		errs = append(errs, "execution.slippage_tolerance: 滑点容忍度必须在 0-1 之间")
	}
	if c.Execution.MinOrderSize <= 0 {
		errs = append(errs, "execution.min_order_size: 最小下单量必须为正数")
	}
	if c.Execution.MinOrderSize > c.Strategy.MaxPositionSize && c.Strategy.MaxPositionSize > 0 {
		errs = append(errs, "execution.min_order_size: 最小下单量不能超过最大仓位")
	}
	if c.Execution.OrderSizeFraction <= 0 || c.Execution.OrderSizeFraction > 1 {
		errs = append(errs, "execution.order_size_fraction: 必须在 (0,1] 之间")
	}
	if c.Execution.MaxRetryAttempts < 1 {
		errs = append(errs, "execution.max_retry_attempts: 至少为 1")
	}

	// 验证模拟参数
	for field, p := range map[string]float64{
		"simulation.partial_fill_probability": c.Simulation.PartialFillProbability,
		"simulation.reject_probability":       c.Simulation.RejectProbability,
	} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Sprintf("%s: 概率必须在 0-1 之间，当前值: %f", field, p))
		}
	}
	if c.Simulation.MinFillRatio <= 0 || c.Simulation.MinFillRatio > 1 {
		errs = append(errs, "simulation.min_fill_ratio: 必须在 (0,1] 之间")
	}
	if err := validateFeeRate(c.Simulation.MakerFee, "simulation.maker_fee"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateFeeRate(c.Simulation.TakerFee, "simulation.taker_fee"); err != nil {
		errs = append(errs, err.Error())
	}

	// 验证交易所配置
	if len(c.Exchanges.Enabled) < 2 {
		errs = append(errs, "exchanges.enabled: 至少需要启用两个交易所")
	}
	primaryEnabled := false
	for _, name := range c.Exchanges.Enabled {
		v := c.Exchanges.Venue(name)
		if v == nil {
			errs = append(errs, fmt.Sprintf("exchanges.enabled: 不支持的交易所 '%s'", name))
			continue
		}
		if name == c.Exchanges.Primary {
			primaryEnabled = true
		}
		if v.WS.URL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s.ws.url: WebSocket 地址不能为空", name))
		}
		if v.RestURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s.rest_url: REST 地址不能为空", name))
		}
		if err := validateFeeRate(v.Fees.MakerRate, "exchanges."+name+".fees.maker_rate"); err != nil {
			errs = append(errs, err.Error())
		}
		if err := validateFeeRate(v.Fees.TakerRate, "exchanges."+name+".fees.taker_rate"); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if !primaryEnabled {
		errs = append(errs, fmt.Sprintf("exchanges.primary_exchange: 主交易所 '%s' 未启用", c.Exchanges.Primary))
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateFeeRate 验证手续费率范围
// Maker 费率允许为负（返佣），绝对值不超过 1%
// 参数 rate: 费率值
// 参数 field: 字段名称，用于错误消息
// 返回: 若费率无效则返回错误
func validateFeeRate(rate float64, field string) error {
	if rate < -0.01 || rate > 0.01 {
		return fmt.Errorf("%s: 费率必须在 -0.01 到 0.01 之间，当前值: %f", field, rate)
	}
	return nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
