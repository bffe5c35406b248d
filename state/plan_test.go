package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStepPlan() *Plan {
	return NewMultiStepPlan([]PlanStep{
		{ID: "step-1", Description: "collect data", ExecutorType: "research"},
		{ID: "step-2", Description: "write summary", ExecutorType: "report",
			ExpectedOutputs: []string{"summary document"}},
	})
}

func TestSingleStepPlan(t *testing.T) {
	p := NewSingleStepPlan("answer the question", "general")

	assert.Equal(t, SingleStep, p.Type)
	require.Len(t, p.Steps, 1)
	assert.False(t, p.Finished())

	p.MarkStepCompleted()
	p.Advance()
	assert.True(t, p.Finished())
}

func TestAdvanceRequiresCompletion(t *testing.T) {
	p := twoStepPlan()

	// 未完成时推进是空操作
	p.Advance()
	assert.Equal(t, 0, p.StepIndex())

	p.MarkStepCompleted()
	p.Advance()
	assert.Equal(t, 1, p.StepIndex())
	assert.False(t, p.CurrentStepCompleted)
}

func TestStepIndexNeverDecreases(t *testing.T) {
	p := twoStepPlan()
	seen := p.StepIndex()

	for i := 0; i < 5; i++ {
		p.MarkStepCompleted()
		p.Advance()
		assert.GreaterOrEqual(t, p.StepIndex(), seen)
		seen = p.StepIndex()
	}
	assert.True(t, p.Finished())
}

func TestRecordResultAppendOnly(t *testing.T) {
	p := twoStepPlan()

	p.RecordResult("research", StepResult{ExecutorName: "research", Result: "first", Success: true, Timestamp: time.Now()})
	p.RecordResult("research", StepResult{ExecutorName: "research", Result: "second", Success: true, Timestamp: time.Now()})

	// 键冲突加序号后缀，原值不被覆盖
	require.Len(t, p.ExecutionResults, 2)
	assert.Equal(t, "first", p.ExecutionResults["research"].Result)
	assert.Equal(t, "second", p.ExecutionResults["research#2"].Result)

	results := p.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Result)
	assert.Equal(t, "second", results[1].Result)
}

func TestCurrentStepOutOfRange(t *testing.T) {
	p := twoStepPlan()
	for i := 0; i < 2; i++ {
		p.MarkStepCompleted()
		p.Advance()
	}

	_, ok := p.CurrentStep()
	assert.False(t, ok)
	assert.Empty(t, p.NextInstruction())
}

func TestNextInstructionEmbedsPriorResults(t *testing.T) {
	p := twoStepPlan()

	p.RecordResult("remote-agent:a", StepResult{
		ExecutorName: "remote-agent:a", Result: "R1", Success: true,
		Timestamp: time.Now(), StepID: "step-1",
	})
	p.MarkStepCompleted()
	p.Advance()

	instr := p.NextInstruction()
	assert.Contains(t, instr, "write summary")
	assert.Contains(t, instr, "R1")
	assert.Contains(t, instr, "remote-agent:a")
	assert.Contains(t, instr, "summary document")
}

func TestNextInstructionMarksFailures(t *testing.T) {
	p := twoStepPlan()
	p.RecordResult("tool:search", StepResult{
		ExecutorName: "tool:search", Result: "timeout", Success: false,
		Timestamp: time.Now(), StepID: "step-1",
	})
	p.MarkStepCompleted()
	p.Advance()

	assert.Contains(t, p.NextInstruction(), "failed")
}
