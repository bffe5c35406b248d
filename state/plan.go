package state

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowType 计划类型
type WorkflowType string

const (
	// SingleStep 单步计划：同一状态机坍缩为 in_progress(0) → finished
	SingleStep WorkflowType = "single_step"
	// MultiStep 多步计划
	MultiStep WorkflowType = "multi_step"
)

// PlanStep 计划中的一个步骤
type PlanStep struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	ExecutorType    string   `json:"executor_type"`
	Dependencies    []string `json:"dependencies,omitempty"`
	ExpectedOutputs []string `json:"expected_outputs,omitempty"`
}

// StepResult 单个步骤的执行结果。只追加，从不覆盖。
type StepResult struct {
	ExecutorName string    `json:"executor_name"`
	Result       string    `json:"result"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
	StepID       string    `json:"step_id"`
}

// Plan 工作流计划
// 状态机：not_started → in_progress(i) → step_completed(i) → in_progress(i+1)
// → … → finished。步骤索引不变式：运行期间从不减小。
type Plan struct {
	Type  WorkflowType `json:"workflow_type"`
	Steps []PlanStep   `json:"steps"`

	// CurrentStepCompleted 由刚完成的执行器置位，
	// 监督器在下一个决策周期开头推进索引并清零。
	CurrentStepCompleted bool `json:"current_step_completed"`

	currentStepIndex int

	// ExecutionResults 步骤/执行器键 → 结果，只追加
	ExecutionResults map[string]StepResult `json:"execution_results"`
	resultOrder      []string
}

// NewSingleStepPlan 创建单步计划
func NewSingleStepPlan(description, executorType string) *Plan {
	return &Plan{
		Type: SingleStep,
		Steps: []PlanStep{{
			ID:           "step-1",
			Description:  description,
			ExecutorType: executorType,
		}},
		ExecutionResults: make(map[string]StepResult),
	}
}

// NewMultiStepPlan 创建多步计划
func NewMultiStepPlan(steps []PlanStep) *Plan {
	return &Plan{
		Type:             MultiStep,
		Steps:            steps,
		ExecutionResults: make(map[string]StepResult),
	}
}

// StepIndex 返回当前步骤索引
func (p *Plan) StepIndex() int {
	return p.currentStepIndex
}

// CurrentStep 返回当前步骤
func (p *Plan) CurrentStep() (*PlanStep, bool) {
	if p.currentStepIndex >= len(p.Steps) {
		return nil, false
	}
	return &p.Steps[p.currentStepIndex], true
}

// Finished 所有步骤是否都已完成
func (p *Plan) Finished() bool {
	return p.currentStepIndex >= len(p.Steps)
}

// MarkStepCompleted 由执行器置位当前步骤完成标志
func (p *Plan) MarkStepCompleted() {
	p.CurrentStepCompleted = true
}

// Advance 在决策周期开头调用：当前步骤已完成则推进索引并清零标志。
// 索引只会增加。
func (p *Plan) Advance() {
	if p.CurrentStepCompleted {
		p.currentStepIndex++
		p.CurrentStepCompleted = false
	}
}

// RecordResult 追加一条执行结果。键已存在时加序号后缀，从不覆盖。
func (p *Plan) RecordResult(key string, r StepResult) {
	if p.ExecutionResults == nil {
		p.ExecutionResults = make(map[string]StepResult)
	}
	k := key
	for i := 2; ; i++ {
		if _, exists := p.ExecutionResults[k]; !exists {
			break
		}
		k = fmt.Sprintf("%s#%d", key, i)
	}
	p.ExecutionResults[k] = r
	p.resultOrder = append(p.resultOrder, k)
}

// Results 按完成顺序返回全部结果
func (p *Plan) Results() []StepResult {
	out := make([]StepResult, 0, len(p.resultOrder))
	for _, k := range p.resultOrder {
		out = append(out, p.ExecutionResults[k])
	}
	return out
}

// NextInstruction 为当前步骤构建指令文本，嵌入此前各步骤的累计结果。
func (p *Plan) NextInstruction() string {
	step, ok := p.CurrentStep()
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString(step.Description)

	prior := p.Results()
	if len(prior) > 0 {
		b.WriteString("\n\nResults from earlier steps:\n")
		for _, r := range prior {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", r.StepID, r.ExecutorName, status, r.Result)
		}
	}
	if len(step.ExpectedOutputs) > 0 {
		fmt.Fprintf(&b, "\nExpected outputs: %s", strings.Join(step.ExpectedOutputs, ", "))
	}
	return b.String()
}
