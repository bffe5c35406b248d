package state

import "github.com/BaSui01/agentmesh/types"

// 阶段名常量。宿主循环据此分发。
const (
	// StageSupervisor 决策阶段
	StageSupervisor = "supervisor"
	// StageRemoteAgent 远程智能体执行阶段
	StageRemoteAgent = "remote_agent"
	// StageTool 工具执行阶段
	StageTool = "tool"
	// StageTerminal 终止标记
	StageTerminal = "terminal"
)

// Patch 每个阶段的带标签返回值：{状态补丁, 下一阶段名}。
// 宿主循环先应用补丁，再按名字分发 —— 一个朴素的解释器循环，
// 没有隐藏的控制流。
type Patch struct {
	// NextStage 下一个持有回合的阶段名
	NextStage string

	// AppendMessages / AppendInner 追加到对应会话记录
	AppendMessages []types.Message
	AppendInner    []types.Message

	// Logs 追加的进度日志
	Logs []string

	// Completed 只允许置位，从不复位
	Completed bool

	// LastNode 记录本阶段名
	LastNode string

	// IncrementIteration 本周期是否递增迭代计数
	IncrementIteration bool

	// RoutedAgent / RoutedTool / Task 路由字段
	RoutedAgent string
	RoutedTool  string
	Task        string
}

// Apply 将补丁合并进运行状态
func (p *Patch) Apply(s *RunState) {
	if p == nil {
		return
	}
	s.Messages = append(s.Messages, p.AppendMessages...)
	s.InnerMessages = append(s.InnerMessages, p.AppendInner...)
	for _, msg := range p.Logs {
		id := s.AppendLog(msg)
		s.FinishLog(id)
	}
	if p.Completed {
		s.MarkCompleted()
	}
	if p.LastNode != "" {
		s.LastNode = p.LastNode
	}
	if p.IncrementIteration {
		s.IterationCount++
	}
	s.RoutedAgent = p.RoutedAgent
	s.RoutedTool = p.RoutedTool
	s.PendingTask = p.Task
}
