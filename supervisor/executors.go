package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/telemetry"
	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/retry"
	"github.com/BaSui01/agentmesh/state"
	"github.com/BaSui01/agentmesh/toolconn"
	"github.com/BaSui01/agentmesh/types"
)

// Executor 可被监督器授予回合的工作单元。失败不中断运行：
// 所有失败路径都以补丁形式把控制权交还监督器。
type Executor interface {
	Name() string
	Description() string
	Execute(ctx context.Context, st *state.RunState, task string) *state.Patch
}

// GeneralExecutorName 兜底专家执行者的 id
const GeneralExecutorName = "general"

// Specialist 进程内专家执行者。任务文本交给语言模型，
// 回答作为助手消息追加到会话。
type Specialist struct {
	name        string
	description string
	prompt      string
	provider    DecisionProvider
	logger      *zap.Logger
}

// NewSpecialist 创建专家执行者
func NewSpecialist(name, description, prompt string, provider DecisionProvider, logger *zap.Logger) *Specialist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Specialist{
		name:        name,
		description: description,
		prompt:      prompt,
		provider:    provider,
		logger:      logger.With(zap.String("executor", name)),
	}
}

// DefaultSpecialists 内置专家集合：通用、代码、调研、报告
func DefaultSpecialists(provider DecisionProvider, logger *zap.Logger) []Executor {
	return []Executor{
		NewSpecialist(GeneralExecutorName, "general-purpose assistant for any task",
			"You are a capable general-purpose assistant. Complete the task directly and concisely.",
			provider, logger),
		NewSpecialist("code", "writes and reviews code",
			"You are an expert software engineer. Produce working, idiomatic code for the task.",
			provider, logger),
		NewSpecialist("research", "gathers and synthesizes information",
			"You are a research assistant. Gather the relevant facts and synthesize them clearly.",
			provider, logger),
		NewSpecialist("report", "produces structured reports and summaries",
			"You are a report writer. Turn the accumulated findings into a structured report.",
			provider, logger),
	}
}

func (s *Specialist) Name() string        { return s.name }
func (s *Specialist) Description() string { return s.description }

func (s *Specialist) Execute(ctx context.Context, st *state.RunState, task string) *state.Patch {
	msgs := make([]types.Message, 0, len(st.InnerMessages)+2)
	msgs = append(msgs, types.NewSystemMessage(s.prompt))
	msgs = append(msgs, st.InnerMessages...)
	if task != "" {
		msgs = append(msgs, types.NewUserMessage(task))
	}

	out, err := s.provider.Complete(ctx, st.Model, msgs)
	if err != nil {
		s.logger.Warn("specialist execution failed", zap.Error(err))
		return &state.Patch{
			NextStage: state.StageSupervisor,
			LastNode:  s.name,
			Logs:      []string{fmt.Sprintf("executor %s failed: %v", s.name, err)},
		}
	}

	recordStepOutcome(st, s.name, out, true)

	reply := types.NewAssistantMessage(out)
	return &state.Patch{
		NextStage:      state.StageSupervisor,
		LastNode:       s.name,
		AppendMessages: []types.Message{reply},
		AppendInner:    []types.Message{reply},
		Logs:           []string{fmt.Sprintf("executor %s completed", s.name)},
	}
}

// recordStepOutcome 把执行结果记入当前计划步骤
func recordStepOutcome(st *state.RunState, executor, result string, success bool) {
	if st.Plan == nil {
		return
	}
	stepID := ""
	if step, ok := st.Plan.CurrentStep(); ok {
		stepID = step.ID
	}
	st.Plan.RecordResult(executor, state.StepResult{
		ExecutorName: executor,
		Result:       result,
		Success:      success,
		Timestamp:    time.Now(),
		StepID:       stepID,
	})
	if success {
		st.Plan.MarkStepCompleted()
	}
}

// RemoteStage 远程智能体执行阶段。包装协议客户端，只对超时类
// 错误做指数退避重试；其余失败立即记账并交还监督器。
type RemoteStage struct {
	client  *remote.Client
	agents  map[string]remote.AgentDescriptor
	policy  *retry.Policy
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRemoteStage 创建远程智能体执行阶段
func NewRemoteStage(client *remote.Client, agents map[string]remote.AgentDescriptor, policy *retry.Policy, m *metrics.Collector, logger *zap.Logger) *RemoteStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
		policy.RetryableErrors = []error{remote.ErrTimeout}
	}
	return &RemoteStage{
		client:  client,
		agents:  agents,
		policy:  policy,
		metrics: m,
		logger:  logger.With(zap.String("component", "remote_stage")),
	}
}

func (r *RemoteStage) Name() string        { return state.StageRemoteAgent }
func (r *RemoteStage) Description() string { return "invokes a configured remote agent" }

func (r *RemoteStage) Execute(ctx context.Context, st *state.RunState, task string) *state.Patch {
	agentID := st.RoutedAgent
	executor := "remote-agent:" + agentID

	agent, ok := r.agents[agentID]
	if !ok {
		// 能力不存在属于永久失败，本次运行内不再重试该 id
		st.RecordAgentFailure(agentID)
		st.ExcludeAgent(agentID)
		if r.metrics != nil {
			r.metrics.RecordRemoteCall(agentID, "not_found")
		}
		return r.failure(executor, fmt.Sprintf("remote agent %q is not configured", agentID))
	}

	req := remote.CallRequest{
		AgentID:   agentID,
		SessionID: st.SessionFor(agentID),
		UserID:    agent.UserID,
		Content:   task,
	}

	v, err := telemetry.TraceRemoteCall(ctx, agentID, func(ctx context.Context) (any, error) {
		retryer := retry.NewBackoffRetryer(r.policy, r.logger)
		return retryer.DoWithResult(ctx, func() (any, error) {
			return r.client.Call(ctx, agent.BaseURL, req)
		})
	})
	if err != nil {
		st.RecordAgentFailure(agentID)
		if errors.Is(err, remote.ErrAgentNotFound) {
			st.ExcludeAgent(agentID)
		}
		if r.metrics != nil {
			outcome := "error"
			if errors.Is(err, remote.ErrTimeout) {
				outcome = "timeout"
			}
			r.metrics.RecordRemoteCall(agentID, outcome)
		}
		return r.failure(executor, fmt.Sprintf("remote agent %s failed: %v", agentID, err))
	}

	result := v.(*remote.ExecutionResult)
	if !result.Status {
		st.RecordAgentFailure(agentID)
		recordStepOutcome(st, executor, result.ErrorMsg, false)
		if r.metrics != nil {
			r.metrics.RecordRemoteCall(agentID, "failed")
		}
		return r.failure(executor, fmt.Sprintf("remote agent %s returned failure: %s", agentID, result.ErrorMsg))
	}

	st.ResetAgentFailures(agentID)
	recordStepOutcome(st, executor, result.Content, true)
	if r.metrics != nil {
		r.metrics.RecordRemoteCall(agentID, "ok")
	}

	reply := types.NewAssistantMessage(result.Content).WithFinal(result.Final)
	return &state.Patch{
		NextStage:      state.StageSupervisor,
		LastNode:       state.StageRemoteAgent,
		AppendMessages: []types.Message{reply},
		AppendInner:    []types.Message{reply},
		Logs:           []string{fmt.Sprintf("remote agent %s completed", agentID)},
	}
}

func (r *RemoteStage) failure(executor, msg string) *state.Patch {
	r.logger.Warn(msg)
	return &state.Patch{
		NextStage: state.StageSupervisor,
		LastNode:  state.StageRemoteAgent,
		Logs:      []string{msg},
	}
}

// ToolStage 工具执行阶段。任务文本若是 JSON 对象则作为参数透传，
// 否则包装为 {"input": task}。
type ToolStage struct {
	manager *toolconn.Manager
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewToolStage 创建工具执行阶段
func NewToolStage(manager *toolconn.Manager, m *metrics.Collector, logger *zap.Logger) *ToolStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolStage{
		manager: manager,
		metrics: m,
		logger:  logger.With(zap.String("component", "tool_stage")),
	}
}

func (t *ToolStage) Name() string        { return state.StageTool }
func (t *ToolStage) Description() string { return "invokes a discovered tool" }

func (t *ToolStage) Execute(ctx context.Context, st *state.RunState, task string) *state.Patch {
	toolName := st.RoutedTool

	tool, ok := t.manager.ToolByName(toolName)
	if !ok {
		if t.metrics != nil {
			t.metrics.RecordToolCall(toolName, "not_found")
		}
		return t.failure(toolName, fmt.Sprintf("tool %q is not available", toolName))
	}

	args := parseToolArgs(task)
	result, err := telemetry.TraceToolCall(ctx, toolName, func(ctx context.Context) (any, error) {
		return tool.Invoke(ctx, args)
	})
	if err != nil {
		if t.metrics != nil {
			t.metrics.RecordToolCall(toolName, "error")
		}
		recordStepOutcome(st, "tool:"+toolName, err.Error(), false)
		return t.failure(toolName, fmt.Sprintf("tool %s failed: %v", toolName, err))
	}

	content := renderToolResult(result)
	recordStepOutcome(st, "tool:"+toolName, content, true)
	if t.metrics != nil {
		t.metrics.RecordToolCall(toolName, "ok")
	}

	reply := types.NewToolMessage(uuid.NewString(), toolName, content)
	return &state.Patch{
		NextStage:      state.StageSupervisor,
		LastNode:       state.StageTool,
		AppendMessages: []types.Message{reply},
		AppendInner:    []types.Message{reply},
		Logs:           []string{fmt.Sprintf("tool %s completed", toolName)},
	}
}

func (t *ToolStage) failure(tool, msg string) *state.Patch {
	t.logger.Warn(msg)
	return &state.Patch{
		NextStage: state.StageSupervisor,
		LastNode:  state.StageTool,
		Logs:      []string{msg},
	}
}

func parseToolArgs(task string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(task), &args); err == nil && args != nil {
		return args
	}
	return map[string]any{"input": task}
}

func renderToolResult(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case nil:
		return ""
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Sprintf("%v", r)
		}
		return string(b)
	}
}
