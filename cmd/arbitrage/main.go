// Package main 是跨交易所现货套利系统的命令行入口。
//
// 子命令:
//
//	dry-run   使用模拟执行器运行策略（合成行情、实时行情或历史回放）
//	live      使用真实交易所下单运行策略
//	validate  校验配置（可选检查交易所交易规则）
//	status    读取 Redis 中最近发布的策略状态
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cross-exchange-arbitrage/internal/config"
)

// exitCode 进程退出码
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// globalFlags 全局参数，可出现在子命令前或子命令参数中
type globalFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configPath, "config", g.configPath, "配置文件路径（.yaml/.yml/.toml）")
	fs.StringVar(&g.logLevel, "log-level", g.logLevel, "日志级别，覆盖配置中的 app.log_level")
	fs.StringVar(&g.logFile, "log-file", g.logFile, "额外写入的日志文件")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	g := &globalFlags{configPath: "config/arbitrage.yaml"}
	root := flag.NewFlagSet("arbitrage", flag.ContinueOnError)
	g.register(root)
	root.Usage = func() { usage(root) }
	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if root.NArg() == 0 {
		usage(root)
		return exitUsage
	}

	cmd, rest := root.Arg(0), root.Args()[1:]
	switch cmd {
	case "dry-run":
		return cmdDryRun(g, rest)
	case "live":
		return cmdLive(g, rest)
	case "validate":
		return cmdValidate(g, rest)
	case "status":
		return cmdStatus(g, rest)
	case "help", "-h", "--help":
		usage(root)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "未知子命令: %s\n\n", cmd)
		usage(root)
		return exitUsage
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "用法: arbitrage [全局参数] <dry-run|live|validate|status> [参数]\n\n全局参数:\n")
	fs.PrintDefaults()
}

// parseSub 解析子命令参数（同时接受全局参数）
func parseSub(g *globalFlags, name string, args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g.register(fs)
	if define != nil {
		define(fs)
	}
	return fs.Parse(args)
}

// loadConfig 加载配置，失败时输出到 stderr
func loadConfig(g *globalFlags) (*config.Config, bool) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return nil, false
	}
	if g.logLevel != "" {
		cfg.App.LogLevel = g.logLevel
	}
	return cfg, true
}

// newLogger 创建生产环境日志记录器
// 参数 level: 日志级别，无法识别时使用 info
// 参数 file: 额外的日志文件，为空时只输出到 stderr
func newLogger(level, file string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	if file != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("创建日志记录器失败: %w", err)
	}
	return logger, nil
}
