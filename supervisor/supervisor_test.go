package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/compress"
	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/state"
	"github.com/BaSui01/agentmesh/types"
)

// scriptProvider 按脚本顺序返回输出；脚本耗尽后重复最后一条
type scriptProvider struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   int
	seen    [][]types.Message
}

func (p *scriptProvider) Complete(ctx context.Context, model string, msgs []types.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.seen = append(p.seen, msgs)
	if p.err != nil {
		return "", p.err
	}
	i := p.calls - 1
	if i >= len(p.outputs) {
		i = len(p.outputs) - 1
	}
	return p.outputs[i], nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.DecisionRetryDelay = time.Millisecond
	return cfg
}

func newSupervisor(p DecisionProvider, agents map[string]remote.AgentDescriptor, opts ...Option) *Supervisor {
	compressor := compress.New(compress.DefaultConfig(), nil)
	specialists := DefaultSpecialists(p, nil)
	return New(fastConfig(), p, compressor, specialists, agents, nil, nil, opts...)
}

func TestDecideCompletedGoesTerminal(t *testing.T) {
	p := &scriptProvider{outputs: []string{`{"next":"general"}`}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.MarkCompleted()

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, state.StageTerminal, patch.NextStage)
	assert.Zero(t, p.calls, "no decision call for a completed run")
}

func TestDecideRoutesToSpecialist(t *testing.T) {
	p := &scriptProvider{outputs: []string{`{"next":"code","sub_task":"build it"}`}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("write a parser")

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, "code", patch.NextStage)
	assert.True(t, patch.IncrementIteration)
	assert.Contains(t, patch.Task, "build it")
	// 计划被惰性创建
	require.NotNil(t, st.Plan)
	assert.Contains(t, patch.Task, "write a parser")
}

func TestDecideRoutesToRemoteAgent(t *testing.T) {
	agents := map[string]remote.AgentDescriptor{
		"planner": {ID: "planner", DisplayName: "Planner", BaseURL: "http://planner"},
	}
	p := &scriptProvider{outputs: []string{`{"next":"remote-agent:planner","sub_task":"plan"}`}}
	s := newSupervisor(p, agents)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("plan the release")

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, state.StageRemoteAgent, patch.NextStage)
	assert.Equal(t, "planner", patch.RoutedAgent)
}

func TestDispatchToolRouting(t *testing.T) {
	p := &scriptProvider{}
	s := newSupervisor(p, nil)
	st := state.NewRunState("gpt-4o", 10)

	patch := s.dispatch(st, &RouteDecision{Next: "tool:search/web_search", SubTask: `{"q":"golang"}`})
	assert.Equal(t, state.StageTool, patch.NextStage)
	assert.Equal(t, "search/web_search", patch.RoutedTool)
}

func TestDecideFinishAppendsAnswer(t *testing.T) {
	p := &scriptProvider{outputs: []string{`{"next":"FINISH","final_answer":"the answer"}`}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("question")

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, state.StageTerminal, patch.NextStage)
	assert.True(t, patch.Completed)
	require.Len(t, patch.AppendMessages, 1)
	assert.Equal(t, "the answer", patch.AppendMessages[0].Content)
	assert.True(t, patch.AppendMessages[0].Final)
}

func TestDecideFinishSkipsDuplicateBanner(t *testing.T) {
	p := &scriptProvider{outputs: []string{`{"next":"FINISH","final_answer":"the answer"}`}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("question")
	st.Messages = append(st.Messages, types.NewAssistantMessage("the answer"))

	patch := s.Decide(context.Background(), st)
	assert.True(t, patch.Completed)
	assert.Empty(t, patch.AppendMessages, "duplicate completion banner must not be appended")
}

func TestDecideProviderFailureFallsBackToGeneral(t *testing.T) {
	p := &scriptProvider{err: errors.New("backend down")}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("do something")

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, GeneralExecutorName, patch.NextStage)
	assert.Equal(t, fastConfig().MaxDecisionRetries, p.calls)
}

func TestDecideUnparseableFallsBackToGeneral(t *testing.T) {
	p := &scriptProvider{outputs: []string{"not json", "still not json", "nope"}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("task")

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, GeneralExecutorName, patch.NextStage)
}

func TestDecideIterationCeilingForcesCompletion(t *testing.T) {
	p := &scriptProvider{outputs: []string{`{"next":"general"}`}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 5)
	st.AppendUser("task")
	st.IterationCount = 5

	patch := s.Decide(context.Background(), st)
	assert.Equal(t, state.StageTerminal, patch.NextStage)
	assert.True(t, patch.Completed)
	require.Len(t, patch.Logs, 1)
	assert.Contains(t, patch.Logs[0], "iteration limit")
	// 终止原因留在会话记录里
	require.Len(t, patch.AppendMessages, 1)
	assert.Zero(t, p.calls)
}

func TestExcludedAgentNotDispatched(t *testing.T) {
	agents := map[string]remote.AgentDescriptor{
		"planner": {ID: "planner", BaseURL: "http://planner"},
	}
	p := &scriptProvider{outputs: []string{`{"next":"remote-agent:planner"}`}}
	s := newSupervisor(p, agents)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("task")
	for i := 0; i < fastConfig().AgentFailureLimit; i++ {
		st.RecordAgentFailure("planner")
	}

	patch := s.Decide(context.Background(), st)
	// 被排除的智能体从不被派遣；耗尽重路由后落到通用执行者
	assert.Equal(t, GeneralExecutorName, patch.NextStage)
	assert.Greater(t, st.SupervisorRetries, 0)
}

func TestAvailableExecutorsExcludesFailedAgents(t *testing.T) {
	agents := map[string]remote.AgentDescriptor{
		"good": {ID: "good", BaseURL: "http://good"},
		"bad":  {ID: "bad", BaseURL: "http://bad"},
	}
	p := &scriptProvider{}
	s := newSupervisor(p, agents)

	st := state.NewRunState("gpt-4o", 10)
	for i := 0; i < fastConfig().AgentFailureLimit; i++ {
		st.RecordAgentFailure("bad")
	}

	available, excluded := s.availableExecutors(st)
	assert.True(t, available["remote-agent:good"])
	assert.False(t, available["remote-agent:bad"])
	assert.True(t, excluded["remote-agent:bad"])
}

func TestAvailableExecutorsExcludesPermanentlyFailedAgents(t *testing.T) {
	agents := map[string]remote.AgentDescriptor{
		"good":  {ID: "good", BaseURL: "http://good"},
		"ghost": {ID: "ghost", BaseURL: "http://ghost"},
	}
	p := &scriptProvider{}
	s := newSupervisor(p, agents)

	// 单次能力不存在失败即永久排除，无需达到连续失败上限
	st := state.NewRunState("gpt-4o", 10)
	st.RecordAgentFailure("ghost")
	st.ExcludeAgent("ghost")

	available, excluded := s.availableExecutors(st)
	assert.True(t, available["remote-agent:good"])
	assert.False(t, available["remote-agent:ghost"])
	assert.True(t, excluded["remote-agent:ghost"])

	// 永久排除不受成功计数清零影响
	st.ResetAgentFailures("ghost")
	available, excluded = s.availableExecutors(st)
	assert.False(t, available["remote-agent:ghost"])
	assert.True(t, excluded["remote-agent:ghost"])
}

func TestDecideAdvancesCompletedStep(t *testing.T) {
	p := &scriptProvider{outputs: []string{`{"next":"general"}`}}
	s := newSupervisor(p, nil)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("task")
	st.Plan = state.NewMultiStepPlan([]state.PlanStep{
		{ID: "step-1", Description: "first"},
		{ID: "step-2", Description: "second"},
	})
	st.Plan.MarkStepCompleted()

	s.Decide(context.Background(), st)
	assert.Equal(t, 1, st.Plan.StepIndex())
	assert.False(t, st.Plan.CurrentStepCompleted)
}

func TestSystemInstructionEnumeratesExecutors(t *testing.T) {
	agents := map[string]remote.AgentDescriptor{
		"planner": {ID: "planner", DisplayName: "Planner", Description: "plans work", BaseURL: "http://planner"},
	}
	p := &scriptProvider{outputs: []string{`{"next":"general"}`}}
	s := newSupervisor(p, agents)

	st := state.NewRunState("gpt-4o", 10)
	st.AppendUser("task")
	s.Decide(context.Background(), st)

	require.NotEmpty(t, p.seen)
	require.NotEmpty(t, p.seen[0])
	system := p.seen[0][0]
	assert.Equal(t, types.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "general")
	assert.Contains(t, system.Content, "remote-agent:planner")
	assert.Contains(t, system.Content, "FINISH")
}
