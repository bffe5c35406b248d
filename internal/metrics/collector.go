// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 监督器指标
	decisionsTotal      *prometheus.CounterVec
	decisionRetries     prometheus.Counter
	decisionDuration    prometheus.Histogram
	runIterations       prometheus.Histogram
	forcedTerminations  *prometheus.CounterVec

	// 远程智能体指标
	remoteCallsTotal  *prometheus.CounterVec
	remoteRetryDelays prometheus.Histogram

	// 工具指标
	toolCallsTotal     *prometheus.CounterVec
	heartbeatFailures  prometheus.Counter
	reconnectsTotal    prometheus.Counter
	toolCacheRefreshes *prometheus.CounterVec

	// 压缩指标
	compressionRatio prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.decisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of supervisor decisions by next stage",
		},
		[]string{"next"},
	)

	c.decisionRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_retries_total",
			Help:      "Total number of retried decision calls",
		},
	)

	c.decisionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Supervisor decision call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.runIterations = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Iterations consumed per run",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 50},
		},
	)

	c.forcedTerminations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_terminations_total",
			Help:      "Runs forced to a terminal state by a budget ceiling",
		},
		[]string{"reason"},
	)

	c.remoteCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote agent calls by agent id and outcome",
		},
		[]string{"agent", "outcome"},
	)

	c.remoteRetryDelays = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_retry_delays_seconds",
			Help:      "Backoff delays applied to remote agent retries",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	c.heartbeatFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_failures_total",
			Help:      "Tool server heartbeat failures",
		},
	)

	c.reconnectsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful tool server reconnects",
		},
	)

	c.toolCacheRefreshes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_cache_refreshes_total",
			Help:      "Tool cache refreshes by outcome",
		},
		[]string{"outcome"},
	)

	c.compressionRatio = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_ratio",
			Help:      "Tokens-after / tokens-before per compression",
			Buckets:   []float64{0.2, 0.4, 0.6, 0.8, 1.0},
		},
	)

	return c
}

// RecordDecision 记录一次决策
func (c *Collector) RecordDecision(next string, duration time.Duration) {
	c.decisionsTotal.WithLabelValues(next).Inc()
	c.decisionDuration.Observe(duration.Seconds())
}

// RecordDecisionRetry 记录决策调用重试
func (c *Collector) RecordDecisionRetry() {
	c.decisionRetries.Inc()
}

// RecordForcedTermination 记录预算触顶导致的强制终止
func (c *Collector) RecordForcedTermination(reason string) {
	c.forcedTerminations.WithLabelValues(reason).Inc()
}

// ObserveRunIterations 记录一次运行消耗的迭代数
func (c *Collector) ObserveRunIterations(n int) {
	c.runIterations.Observe(float64(n))
}

// RecordRemoteCall 记录远程智能体调用
func (c *Collector) RecordRemoteCall(agent, outcome string) {
	c.remoteCallsTotal.WithLabelValues(agent, outcome).Inc()
}

// ObserveRemoteRetryDelay 记录远程重试退避延迟
func (c *Collector) ObserveRemoteRetryDelay(d time.Duration) {
	c.remoteRetryDelays.Observe(d.Seconds())
}

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(tool, outcome string) {
	c.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordHeartbeatFailure 记录心跳失败
func (c *Collector) RecordHeartbeatFailure() {
	c.heartbeatFailures.Inc()
}

// RecordReconnect 记录重连成功
func (c *Collector) RecordReconnect() {
	c.reconnectsTotal.Inc()
}

// RecordToolCacheRefresh 记录工具缓存刷新
func (c *Collector) RecordToolCacheRefresh(outcome string) {
	c.toolCacheRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveCompressionRatio 记录压缩比
func (c *Collector) ObserveCompressionRatio(before, after int) {
	if before <= 0 {
		return
	}
	c.compressionRatio.Observe(float64(after) / float64(before))
}
