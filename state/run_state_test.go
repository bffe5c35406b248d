package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/types"
)

func TestNewRunStateDefaults(t *testing.T) {
	st := NewRunState("gpt-4o", 0)

	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, "gpt-4o", st.Model)
	assert.Equal(t, 30, st.MaxIterations)
	assert.False(t, st.IsCompleted())
}

func TestAppendUser(t *testing.T) {
	st := NewRunState("gpt-4o", 10)
	st.AppendUser("hello")

	require.Len(t, st.Messages, 1)
	require.Len(t, st.InnerMessages, 1)
	assert.Equal(t, types.RoleUser, st.Messages[0].Role)
	assert.Equal(t, "hello", st.Messages[0].Content)
}

func TestCompletedLatches(t *testing.T) {
	st := NewRunState("gpt-4o", 10)

	st.MarkCompleted()
	assert.True(t, st.IsCompleted())

	// 再次置位不改变任何状态；没有复位入口
	st.MarkCompleted()
	assert.True(t, st.IsCompleted())
}

func TestAppendLogAndFinish(t *testing.T) {
	st := NewRunState("gpt-4o", 10)

	id := st.AppendLog("working")
	require.Len(t, st.Logs, 1)
	assert.False(t, st.Logs[0].Done)
	assert.Equal(t, id, st.Logs[0].CorrelationID)

	st.FinishLog(id)
	assert.True(t, st.Logs[0].Done)

	// 未知 id 不触碰已有日志
	st.FinishLog("missing")
	require.Len(t, st.Logs, 1)
}

func TestSessionForReusesID(t *testing.T) {
	st := NewRunState("gpt-4o", 10)

	first := st.SessionFor("planner")
	second := st.SessionFor("planner")
	other := st.SessionFor("coder")

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

func TestAgentFailureCounting(t *testing.T) {
	st := NewRunState("gpt-4o", 10)

	assert.Equal(t, 0, st.AgentFailures("planner"))
	assert.Equal(t, 1, st.RecordAgentFailure("planner"))
	assert.Equal(t, 2, st.RecordAgentFailure("planner"))
	assert.Equal(t, 2, st.AgentFailures("planner"))

	st.ResetAgentFailures("planner")
	assert.Equal(t, 0, st.AgentFailures("planner"))
}

func TestAgentExclusionIsPermanent(t *testing.T) {
	st := NewRunState("gpt-4o", 10)

	assert.False(t, st.AgentExcluded("ghost"))
	st.ExcludeAgent("ghost")
	assert.True(t, st.AgentExcluded("ghost"))

	// 失败计数清零不会撤销排除
	st.RecordAgentFailure("ghost")
	st.ResetAgentFailures("ghost")
	assert.True(t, st.AgentExcluded("ghost"))
}

func TestLastMessageContent(t *testing.T) {
	st := NewRunState("gpt-4o", 10)
	assert.Empty(t, st.LastMessageContent())

	st.AppendUser("first")
	st.Messages = append(st.Messages, types.NewAssistantMessage("answer"))
	assert.Equal(t, "answer", st.LastMessageContent())
}

func TestPatchApply(t *testing.T) {
	st := NewRunState("gpt-4o", 10)
	st.RoutedAgent = "stale"
	st.PendingTask = "stale task"

	reply := types.NewAssistantMessage("done")
	p := &Patch{
		NextStage:          StageSupervisor,
		AppendMessages:     []types.Message{reply},
		AppendInner:        []types.Message{reply},
		Logs:               []string{"executor finished"},
		LastNode:           "general",
		IncrementIteration: true,
	}
	p.Apply(st)

	assert.Len(t, st.Messages, 1)
	assert.Len(t, st.InnerMessages, 1)
	assert.Equal(t, 1, st.IterationCount)
	assert.Equal(t, "general", st.LastNode)
	require.Len(t, st.Logs, 1)
	assert.True(t, st.Logs[0].Done)

	// 路由字段按回合重置：补丁未设置则清空
	assert.Empty(t, st.RoutedAgent)
	assert.Empty(t, st.PendingTask)
}

func TestPatchApplyNil(t *testing.T) {
	st := NewRunState("gpt-4o", 10)
	var p *Patch
	p.Apply(st)
	assert.Equal(t, 0, st.IterationCount)
}

func TestPatchCompletedNeverResets(t *testing.T) {
	st := NewRunState("gpt-4o", 10)

	(&Patch{Completed: true}).Apply(st)
	require.True(t, st.IsCompleted())

	// 后续补丁未设置 Completed 也不会复位
	(&Patch{NextStage: StageSupervisor}).Apply(st)
	assert.True(t, st.IsCompleted())
}
