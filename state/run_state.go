// Package state holds the single mutable record carried through a run:
// conversation history, progress logs, iteration counters and the workflow
// plan. The record is owned exclusively by whichever stage currently holds
// the turn; there is no internal locking.
package state

import (
	"github.com/google/uuid"

	"github.com/BaSui01/agentmesh/types"
)

// LogEntry 运行进度事件（用于 UI / 可观测性）
// 日志只追加，唯一允许的修改是 Done 标志翻转。
type LogEntry struct {
	Message       string `json:"message"`
	Done          bool   `json:"done"`
	CorrelationID string `json:"correlation_id"`
}

// RunState 一次会话运行的唯一可变记录
type RunState struct {
	// RunID 运行标识
	RunID string

	// Model 本次运行使用的模型选择器（外部配置，不硬编码）
	Model string

	// Messages 对外可见的会话记录
	Messages []types.Message

	// InnerMessages 监督器推理用的工作副本
	InnerMessages []types.Message

	// Logs 进度事件序列
	Logs []LogEntry

	// IterationCount 单调递增的迭代计数器
	IterationCount int

	// MaxIterations 迭代上限
	MaxIterations int

	// LastNode 最后持有回合的阶段名（工具调用后据此恢复）
	LastNode string

	// Plan 工作流计划（首次决策时惰性创建）
	Plan *Plan

	// FailedAgents 远程智能体 id → 连续失败次数
	FailedAgents map[string]int

	// ExcludedAgents 本次运行内永久排除的远程智能体 id。
	// 不变式：一旦加入，本次运行内不再移出（能力不存在类失败）。
	ExcludedAgents map[string]bool

	// Sessions 远程智能体 id → 会话 id（首次调用时惰性创建，之后复用）
	Sessions map[string]string

	// SupervisorRetries 监督器本地重路由计数器
	SupervisorRetries int

	// RoutedAgent / RoutedTool / PendingTask 当前回合的路由字段
	RoutedAgent string
	RoutedTool  string
	PendingTask string

	// completed 终止标志。不变式：一旦为 true，本次运行内不再复位。
	completed bool
}

// NewRunState 创建运行状态
func NewRunState(model string, maxIterations int) *RunState {
	if maxIterations <= 0 {
		maxIterations = 30
	}
	return &RunState{
		RunID:          uuid.NewString(),
		Model:          model,
		MaxIterations:  maxIterations,
		FailedAgents:   make(map[string]int),
		ExcludedAgents: make(map[string]bool),
		Sessions:       make(map[string]string),
	}
}

// AppendUser 追加用户输入到两份会话记录
func (s *RunState) AppendUser(content string) {
	msg := types.NewUserMessage(content)
	s.Messages = append(s.Messages, msg)
	s.InnerMessages = append(s.InnerMessages, msg)
}

// AppendLog 追加一条进度日志，返回关联 id
func (s *RunState) AppendLog(message string) string {
	id := uuid.NewString()
	s.Logs = append(s.Logs, LogEntry{Message: message, CorrelationID: id})
	return id
}

// FinishLog 翻转指定日志的 Done 标志（日志序列本身不可变）
func (s *RunState) FinishLog(correlationID string) {
	for i := range s.Logs {
		if s.Logs[i].CorrelationID == correlationID {
			s.Logs[i].Done = true
			return
		}
	}
}

// MarkCompleted 置终止标志。置位后不可复位。
func (s *RunState) MarkCompleted() {
	s.completed = true
}

// IsCompleted 返回终止标志
func (s *RunState) IsCompleted() bool {
	return s.completed
}

// SessionFor 返回指定远程智能体的会话 id，首次访问时惰性创建
func (s *RunState) SessionFor(agentID string) string {
	if s.Sessions == nil {
		s.Sessions = make(map[string]string)
	}
	if sid, ok := s.Sessions[agentID]; ok {
		return sid
	}
	sid := uuid.NewString()
	s.Sessions[agentID] = sid
	return sid
}

// RecordAgentFailure 记录一次远程智能体失败，返回连续失败次数
func (s *RunState) RecordAgentFailure(agentID string) int {
	if s.FailedAgents == nil {
		s.FailedAgents = make(map[string]int)
	}
	s.FailedAgents[agentID]++
	return s.FailedAgents[agentID]
}

// ResetAgentFailures 成功调用后清零连续失败计数
func (s *RunState) ResetAgentFailures(agentID string) {
	if s.FailedAgents != nil {
		delete(s.FailedAgents, agentID)
	}
}

// AgentFailures 返回连续失败次数
func (s *RunState) AgentFailures(agentID string) int {
	return s.FailedAgents[agentID]
}

// ExcludeAgent 将远程智能体永久排除出本次运行的候选集。
// 用于能力不存在类失败，这类 id 不应再被重试。
func (s *RunState) ExcludeAgent(agentID string) {
	if s.ExcludedAgents == nil {
		s.ExcludedAgents = make(map[string]bool)
	}
	s.ExcludedAgents[agentID] = true
}

// AgentExcluded 判断远程智能体是否已被永久排除
func (s *RunState) AgentExcluded(agentID string) bool {
	return s.ExcludedAgents[agentID]
}

// LastMessageContent 返回对外记录最后一条消息的内容（用于去重判断）
func (s *RunState) LastMessageContent() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Content
}
