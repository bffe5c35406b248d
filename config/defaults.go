// =============================================================================
// 📦 AgentMesh 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentmesh/provider"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Supervisor:  DefaultSupervisorConfig(),
		Provider:    DefaultProviderConfig(),
		Remote:      DefaultRemoteConfig(),
		Tools:       DefaultToolsConfig(),
		Compression: DefaultCompressionConfig(),
		Redis:       DefaultRedisConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultSupervisorConfig 返回默认监督器配置
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Model:              "gpt-4o",
		MaxIterations:      30,
		MaxTurns:           30,
		MaxDecisionRetries: 3,
		DecisionRetryDelay: 500 * time.Millisecond,
		MaxReroutes:        3,
		AgentFailureLimit:  3,
	}
}

// DefaultProviderConfig 返回默认决策后端配置
func DefaultProviderConfig() provider.Config {
	return provider.Config{
		BaseURL:     "https://api.openai.com/v1",
		Timeout:     60 * time.Second,
		Temperature: 0.2,
	}
}

// DefaultRemoteConfig 返回默认远程智能体配置
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		TotalTimeout:   120 * time.Second,
		ChatPath:       "/v1/agents/chat",
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
	}
}

// DefaultToolsConfig 返回默认工具服务器配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     1 * time.Second,
		ReconnectMax:      60 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}

// DefaultCompressionConfig 返回默认压缩配置
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MaxTokens:       32000,
		TargetRatio:     0.6,
		MinKeepMessages: 6,
		MaxPasses:       3,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		DB:         0,
		DefaultTTL: 30 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
