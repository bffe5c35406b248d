// =============================================================================
// 📦 AgentMesh 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTMESH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentmesh/provider"
	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/toolconn"
)

// Config 是 AgentMesh 的完整配置结构
type Config struct {
	// Supervisor 监督器配置
	Supervisor SupervisorConfig `yaml:"supervisor" env:"SUPERVISOR"`

	// Provider 决策能力后端（OpenAI 兼容）配置
	Provider provider.Config `yaml:"provider" env:"PROVIDER"`

	// Remote 远程智能体配置
	Remote RemoteConfig `yaml:"remote" env:"REMOTE"`

	// Tools 工具服务器配置
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Compression 上下文压缩配置
	Compression CompressionConfig `yaml:"compression" env:"COMPRESSION"`

	// Redis 缓存配置（可选，用于工具描述预热）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// SupervisorConfig 监督器与宿主循环配置
type SupervisorConfig struct {
	// 模型选择器
	Model string `yaml:"model" env:"MODEL"`
	// 运行迭代上限
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// 宿主循环回合上限
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
	// 决策重试次数
	MaxDecisionRetries int `yaml:"max_decision_retries" env:"MAX_DECISION_RETRIES"`
	// 决策重试间隔
	DecisionRetryDelay time.Duration `yaml:"decision_retry_delay" env:"DECISION_RETRY_DELAY"`
	// 失败智能体重路由上限
	MaxReroutes int `yaml:"max_reroutes" env:"MAX_REROUTES"`
	// 连续失败排除阈值
	AgentFailureLimit int `yaml:"agent_failure_limit" env:"AGENT_FAILURE_LIMIT"`
	// 决策调用限速（每秒），0 不限速
	DecisionsPerSecond float64 `yaml:"decisions_per_second" env:"DECISIONS_PER_SECOND"`
}

// RemoteConfig 远程智能体客户端配置
type RemoteConfig struct {
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 整体超时
	TotalTimeout time.Duration `yaml:"total_timeout" env:"TOTAL_TIMEOUT"`
	// 调用路径
	ChatPath string `yaml:"chat_path" env:"CHAT_PATH"`
	// 超时类错误的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试退避基础延迟
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	// 已配置的远程智能体
	Agents []remote.AgentDescriptor `yaml:"agents" env:"-"`
}

// ToolsConfig 工具服务器配置
type ToolsConfig struct {
	// 命名服务器集合
	Servers map[string]toolconn.ServerSpec `yaml:"servers" env:"-"`
	// 心跳间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// 重连退避基础延迟
	ReconnectBase time.Duration `yaml:"reconnect_base" env:"RECONNECT_BASE"`
	// 重连退避上限
	ReconnectMax time.Duration `yaml:"reconnect_max" env:"RECONNECT_MAX"`
	// 连接超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// CompressionConfig 上下文压缩配置
type CompressionConfig struct {
	// token 预算
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 压缩目标比例
	TargetRatio float64 `yaml:"target_ratio" env:"TARGET_RATIO"`
	// 最少保留消息数
	MinKeepMessages int `yaml:"min_keep_messages" env:"MIN_KEEP_MESSAGES"`
	// 最大压缩轮数
	MaxPasses int `yaml:"max_passes" env:"MAX_PASSES"`
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 默认 TTL
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTMESH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Supervisor.MaxIterations <= 0 {
		errs = append(errs, "supervisor.max_iterations must be positive")
	}
	if c.Supervisor.MaxTurns <= 0 {
		errs = append(errs, "supervisor.max_turns must be positive")
	}
	if c.Compression.TargetRatio <= 0 || c.Compression.TargetRatio > 1 {
		errs = append(errs, "compression.target_ratio must be in (0, 1]")
	}
	for i, a := range c.Remote.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("remote.agents[%d] missing id", i))
		}
		if a.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("remote.agents[%d] missing base_url", i))
		}
	}
	for name, spec := range c.Tools.Servers {
		if spec.URL == "" {
			errs = append(errs, fmt.Sprintf("tools.servers[%s] missing url", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
