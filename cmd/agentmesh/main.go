// =============================================================================
// AgentMesh 主入口
// =============================================================================
// 多智能体任务编排引擎的命令行入口
//
// 使用方法:
//
//	agentmesh run "task text"              # 运行一次编排任务
//	agentmesh run --config config.yaml "…" # 指定配置文件
//	agentmesh version                      # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmesh/compress"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/cache"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/provider"
	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/retry"
	"github.com/BaSui01/agentmesh/state"
	"github.com/BaSui01/agentmesh/supervisor"
	"github.com/BaSui01/agentmesh/tokenizer"
	"github.com/BaSui01/agentmesh/toolconn"
	"github.com/BaSui01/agentmesh/types"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runTask(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ run 命令
// =============================================================================

func runTask(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" {
		fmt.Fprintln(os.Stderr, "Missing task text")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting AgentMesh",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	tokenizer.RegisterOpenAI()

	collector := metrics.NewCollector("agentmesh", nil, logger)

	// 工具连接管理器由宿主持有，跨运行复用
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager := buildToolManager(ctx, cfg, collector, logger)
	defer manager.Close()

	llm := provider.NewOpenAIProvider(cfg.Provider, logger)

	compressor := compress.New(compress.Config{
		TargetRatio:     cfg.Compression.TargetRatio,
		MinKeepMessages: cfg.Compression.MinKeepMessages,
		MaxPasses:       cfg.Compression.MaxPasses,
	}, logger)

	agents := make(map[string]remote.AgentDescriptor, len(cfg.Remote.Agents))
	for _, a := range cfg.Remote.Agents {
		agents[a.ID] = a
	}

	client := remote.NewClient(remote.ClientConfig{
		ConnectTimeout: cfg.Remote.ConnectTimeout,
		ReadTimeout:    cfg.Remote.ReadTimeout,
		TotalTimeout:   cfg.Remote.TotalTimeout,
		ChatPath:       cfg.Remote.ChatPath,
	}, logger)

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.Remote.MaxRetries
	policy.InitialDelay = cfg.Remote.RetryBaseDelay
	policy.RetryableErrors = []error{remote.ErrTimeout}

	specialists := supervisor.DefaultSpecialists(llm, logger)
	remoteStage := supervisor.NewRemoteStage(client, agents, policy, collector, logger)
	toolStage := supervisor.NewToolStage(manager, collector, logger)

	sup := supervisor.New(supervisor.Config{
		MaxDecisionRetries: cfg.Supervisor.MaxDecisionRetries,
		DecisionRetryDelay: cfg.Supervisor.DecisionRetryDelay,
		MaxReroutes:        cfg.Supervisor.MaxReroutes,
		AgentFailureLimit:  cfg.Supervisor.AgentFailureLimit,
		CompressMaxTokens:  cfg.Compression.MaxTokens,
		DecisionsPerSecond: cfg.Supervisor.DecisionsPerSecond,
	}, llm, compressor, specialists, agents, manager, logger,
		supervisor.WithMetrics(collector))

	runner := supervisor.NewRunner(sup, specialists, remoteStage, toolStage, logger).
		WithMaxTurns(cfg.Supervisor.MaxTurns).
		WithMetrics(collector)

	st := state.NewRunState(cfg.Supervisor.Model, cfg.Supervisor.MaxIterations)
	st.AppendUser(task)

	runner.Run(ctx, st)

	printTranscript(st)
}

// buildToolManager 构建并启动工具连接管理器；Redis 缓存可选
func buildToolManager(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *toolconn.Manager {
	opts := []toolconn.ManagerOption{toolconn.WithMetrics(collector)}

	if cfg.Redis.Enabled {
		cm, err := cache.NewManager(cache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			DefaultTTL: cfg.Redis.DefaultTTL,
		}, logger)
		if err != nil {
			logger.Warn("Redis not available, tool cache warm-up disabled", zap.Error(err))
		} else {
			opts = append(opts, toolconn.WithCache(cm))
		}
	}

	manager := toolconn.NewManager(logger, opts...)
	if err := manager.Start(ctx, toolconn.Config{
		Servers:           cfg.Tools.Servers,
		HeartbeatInterval: cfg.Tools.HeartbeatInterval,
		ReconnectBase:     cfg.Tools.ReconnectBase,
		ReconnectMax:      cfg.Tools.ReconnectMax,
		DialTimeout:       cfg.Tools.DialTimeout,
	}); err != nil {
		logger.Warn("tool manager failed to start", zap.Error(err))
	}
	return manager
}

func printTranscript(st *state.RunState) {
	for _, m := range st.Messages {
		if m.Role == types.RoleAssistant {
			fmt.Println(m.Content)
		}
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentMesh %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentMesh - Multi-Agent Task Orchestration Engine

Usage:
  agentmesh <command> [options]

Commands:
  run       Run an orchestration task
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>   Path to configuration file (YAML)

Examples:
  agentmesh run "summarize the latest build failures"
  agentmesh run --config /etc/agentmesh/config.yaml "plan the release"
  agentmesh version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}

	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
