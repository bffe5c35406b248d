// Package supervisor implements the routing decision engine and the
// executors it can hand the turn to. Each decision cycle produces a
// state patch plus the name of the next stage; the host loop applies
// the patch and dispatches by name.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmesh/compress"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/telemetry"
	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/state"
	"github.com/BaSui01/agentmesh/toolconn"
	"github.com/BaSui01/agentmesh/types"
)

// DecisionProvider 外部决策能力（语言模型）的窄接口。
// 输入有序消息列表，输出原始文本；结构化解析由监督器完成。
type DecisionProvider interface {
	Complete(ctx context.Context, model string, msgs []types.Message) (string, error)
}

// Config 监督器配置
type Config struct {
	// MaxDecisionRetries 决策调用/解析失败的重试次数
	MaxDecisionRetries int `yaml:"max_decision_retries" json:"max_decision_retries"`
	// DecisionRetryDelay 决策重试间隔
	DecisionRetryDelay time.Duration `yaml:"decision_retry_delay" json:"decision_retry_delay"`
	// MaxReroutes 失败智能体重路由上限，超过后强制路由到通用执行者
	MaxReroutes int `yaml:"max_reroutes" json:"max_reroutes"`
	// AgentFailureLimit 连续失败多少次后将远程智能体排除出候选集
	AgentFailureLimit int `yaml:"agent_failure_limit" json:"agent_failure_limit"`
	// CompressMaxTokens 决策前的上下文 token 预算
	CompressMaxTokens int `yaml:"compress_max_tokens" json:"compress_max_tokens"`
	// DecisionsPerSecond 决策调用限速，0 表示不限速
	DecisionsPerSecond float64 `yaml:"decisions_per_second" json:"decisions_per_second"`
}

// DefaultConfig 返回默认监督器配置
func DefaultConfig() Config {
	return Config{
		MaxDecisionRetries: 3,
		DecisionRetryDelay: 500 * time.Millisecond,
		MaxReroutes:        3,
		AgentFailureLimit:  3,
		CompressMaxTokens:  32000,
	}
}

func (c *Config) fixup() {
	if c.MaxDecisionRetries <= 0 {
		c.MaxDecisionRetries = 3
	}
	if c.DecisionRetryDelay <= 0 {
		c.DecisionRetryDelay = 500 * time.Millisecond
	}
	if c.MaxReroutes <= 0 {
		c.MaxReroutes = 3
	}
	if c.AgentFailureLimit <= 0 {
		c.AgentFailureLimit = 3
	}
	if c.CompressMaxTokens <= 0 {
		c.CompressMaxTokens = 32000
	}
}

// PlanFunc 惰性创建工作流计划。默认实现把最后一条用户消息
// 包装成单步计划；宿主可注入基于模型的多步规划。
type PlanFunc func(ctx context.Context, st *state.RunState) *state.Plan

// Supervisor 决策引擎
type Supervisor struct {
	cfg         Config
	provider    DecisionProvider
	compressor  *compress.Compressor
	specialists []Executor
	agents      map[string]remote.AgentDescriptor
	tools       *toolconn.Manager
	planFn      PlanFunc
	limiter     *rate.Limiter
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// Option Supervisor 可选项
type Option func(*Supervisor)

// WithPlanFunc 注入计划创建逻辑
func WithPlanFunc(fn PlanFunc) Option {
	return func(s *Supervisor) { s.planFn = fn }
}

// WithMetrics 启用指标采集
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New 创建监督器
func New(cfg Config, provider DecisionProvider, compressor *compress.Compressor,
	specialists []Executor, agents map[string]remote.AgentDescriptor,
	tools *toolconn.Manager, logger *zap.Logger, opts ...Option) *Supervisor {

	cfg.fixup()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		cfg:         cfg,
		provider:    provider,
		compressor:  compressor,
		specialists: specialists,
		agents:      agents,
		tools:       tools,
		planFn:      defaultPlan,
		logger:      logger.With(zap.String("component", "supervisor")),
	}
	if cfg.DecisionsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DecisionsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultPlan(_ context.Context, st *state.RunState) *state.Plan {
	desc := ""
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == types.RoleUser {
			desc = st.Messages[i].Content
			break
		}
	}
	return state.NewSingleStepPlan(desc, GeneralExecutorName)
}

// Decide 单轮决策：返回状态补丁与下一阶段名。
func (s *Supervisor) Decide(ctx context.Context, st *state.RunState) *state.Patch {
	if st.IsCompleted() {
		return &state.Patch{NextStage: state.StageTerminal, LastNode: state.StageSupervisor}
	}

	// 迭代上限：强制终止并留下可解释的记录
	if st.IterationCount >= st.MaxIterations {
		if s.metrics != nil {
			s.metrics.RecordForcedTermination("max_iterations")
		}
		msg := fmt.Sprintf("run stopped after reaching the iteration limit (%d)", st.MaxIterations)
		note := types.NewAssistantMessage(msg).WithFinal(true)
		return &state.Patch{
			NextStage:      state.StageTerminal,
			LastNode:       state.StageSupervisor,
			Completed:      true,
			AppendMessages: []types.Message{note},
			AppendInner:    []types.Message{note},
			Logs:           []string{msg},
		}
	}

	// 计划推进：上一回合完成的步骤在本周期顶部前移
	if st.Plan == nil {
		st.Plan = s.planFn(ctx, st)
	} else if st.Plan.CurrentStepCompleted {
		st.Plan.Advance()
	}

	available, excluded := s.availableExecutors(st)

	decision := s.decideWithRetries(ctx, st, available, excluded)

	return s.dispatch(st, decision)
}

// availableExecutors 组装当前可用执行者集合。连续失败达到上限的
// 远程智能体被排除，记入第二个返回值。
func (s *Supervisor) availableExecutors(st *state.RunState) (map[string]bool, map[string]bool) {
	available := make(map[string]bool)
	excluded := make(map[string]bool)

	for _, e := range s.specialists {
		available[e.Name()] = true
	}
	for id := range s.agents {
		key := "remote-agent:" + id
		if st.AgentExcluded(id) || st.AgentFailures(id) >= s.cfg.AgentFailureLimit {
			excluded[key] = true
			continue
		}
		available[key] = true
	}
	if s.tools != nil {
		for _, t := range s.tools.Tools(context.Background(), false) {
			available["tool:"+t.Name] = true
		}
	}
	return available, excluded
}

// decideWithRetries 调用决策能力并解析，失败时短暂延迟后重试；
// 重试耗尽回退到默认决策（通用执行者）而不是中止运行。
func (s *Supervisor) decideWithRetries(ctx context.Context, st *state.RunState, available, excluded map[string]bool) *RouteDecision {
	agentList := make([]remote.AgentDescriptor, 0, len(s.agents))
	for id, a := range s.agents {
		if !excluded["remote-agent:"+id] {
			agentList = append(agentList, a)
		}
	}
	var toolList []toolconn.ToolDescriptor
	if s.tools != nil {
		toolList = s.tools.Tools(context.Background(), false)
	}

	instruction := buildSystemInstruction(s.specialists, agentList, toolList)

	inner, stats := s.compressor.Compress(st.InnerMessages, st.Model, s.cfg.CompressMaxTokens)
	if stats.Compressed && s.metrics != nil {
		s.metrics.ObserveCompressionRatio(stats.TokensBefore, stats.TokensAfter)
	}

	msgs := make([]types.Message, 0, len(inner)+1)
	msgs = append(msgs, types.NewSystemMessage(instruction))
	msgs = append(msgs, inner...)

	for attempt := 0; attempt < s.cfg.MaxDecisionRetries; attempt++ {
		if attempt > 0 {
			if s.metrics != nil {
				s.metrics.RecordDecisionRetry()
			}
			select {
			case <-ctx.Done():
				return s.defaultDecision(st)
			case <-time.After(s.cfg.DecisionRetryDelay):
			}
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return s.defaultDecision(st)
			}
		}

		start := time.Now()
		raw, err := telemetry.TraceLLMCall(ctx, st.Model, func(ctx context.Context) (string, error) {
			return s.provider.Complete(ctx, st.Model, msgs)
		})
		if err != nil {
			s.logger.Warn("decision call failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		decision, err := decodeDecision(raw, available)
		if err != nil {
			// 指名已排除的智能体：再问一次，重路由超限则强制兜底
			if target, isExcluded := excludedTarget(raw, excluded); isExcluded {
				st.RecordAgentFailure(target)
				st.SupervisorRetries++
				s.logger.Warn("decision selected an excluded remote agent",
					zap.String("agent", target),
					zap.Int("reroutes", st.SupervisorRetries))
				if st.SupervisorRetries > s.cfg.MaxReroutes {
					return s.defaultDecision(st)
				}
				continue
			}
			s.logger.Warn("decision parse failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordDecision(decision.Next, time.Since(start))
		}
		return decision
	}

	s.logger.Warn("decision retries exhausted, falling back to general executor")
	return s.defaultDecision(st)
}

// excludedTarget 检查解析失败的输出是否指名了被排除的执行者
func excludedTarget(raw string, excluded map[string]bool) (string, bool) {
	d, err := decodeDecision(raw, excluded)
	if err != nil {
		return "", false
	}
	return trimAgentPrefix(d.Next), true
}

func trimAgentPrefix(id string) string {
	const p = "remote-agent:"
	if len(id) > len(p) && id[:len(p)] == p {
		return id[len(p):]
	}
	return id
}

func (s *Supervisor) defaultDecision(st *state.RunState) *RouteDecision {
	return &RouteDecision{Next: GeneralExecutorName, SubTask: s.taskFor(st, "")}
}

// taskFor 构建交给执行者的指令：计划步骤的指令文本（嵌入此前
// 步骤结果）加上决策给出的补充说明。
func (s *Supervisor) taskFor(st *state.RunState, subTask string) string {
	base := ""
	if st.Plan != nil {
		base = st.Plan.NextInstruction()
	}
	switch {
	case base == "":
		return subTask
	case subTask == "":
		return base
	default:
		return base + "\n\nSupervisor note: " + subTask
	}
}

// dispatch 把决策转换为状态补丁
func (s *Supervisor) dispatch(st *state.RunState, d *RouteDecision) *state.Patch {
	patch := &state.Patch{
		LastNode:           state.StageSupervisor,
		IncrementIteration: true,
	}

	if d.Next == Finish {
		patch.NextStage = state.StageTerminal
		patch.Completed = true
		patch.Logs = []string{"run finished"}
		// 重复的完成横幅不追加
		if d.FinalAnswer != "" && st.LastMessageContent() != d.FinalAnswer {
			final := types.NewAssistantMessage(d.FinalAnswer).WithFinal(true)
			patch.AppendMessages = []types.Message{final}
			patch.AppendInner = []types.Message{final}
		}
		return patch
	}

	task := s.taskFor(st, d.SubTask)
	patch.Task = task

	if agentID := trimAgentPrefix(d.Next); agentID != d.Next {
		patch.NextStage = state.StageRemoteAgent
		patch.RoutedAgent = agentID
		patch.Logs = []string{fmt.Sprintf("routing to remote agent %s", agentID)}
		return patch
	}
	if len(d.Next) > 5 && d.Next[:5] == "tool:" {
		patch.NextStage = state.StageTool
		patch.RoutedTool = d.Next[5:]
		patch.Logs = []string{fmt.Sprintf("routing to tool %s", d.Next[5:])}
		return patch
	}

	patch.NextStage = d.Next
	patch.Logs = []string{fmt.Sprintf("routing to executor %s", d.Next)}
	return patch
}
