// Package remote implements the remote-agent wire protocol client: a
// stateless-per-call HTTP client that invokes a named remote agent and
// handles both a single buffered JSON response and a streamed
// (Server-Sent-Events-like) response against the same call site.
package remote

import "encoding/json"

// AgentDescriptor 远程智能体描述
type AgentDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Description string `json:"description" yaml:"description"`
	BaseURL     string `json:"base_url" yaml:"base_url"`
	UserID      string `json:"user_id" yaml:"user_id"`
	SessionID   string `json:"session_id,omitempty" yaml:"-"`
}

// CallRequest 一次调用的参数
type CallRequest struct {
	AgentID   string
	SessionID string
	UserID    string
	Content   string
}

// ExecutionResult 远程调用的统一结果
type ExecutionResult struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Final    bool   `json:"final"`
	Status   bool   `json:"status"`
	TaskID   string `json:"taskId,omitempty"`
	ErrorMsg string `json:"errorMsg,omitempty"`
}

// wireMessage 请求体中的消息
type wireMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wireRequest 请求体
type wireRequest struct {
	AgentID   string        `json:"agentId"`
	SessionID string        `json:"sessionId"`
	UserID    string        `json:"userId"`
	Messages  []wireMessage `json:"messages"`
}

// resultFrame 响应帧。final 与 finished 是同义键，指针区分"缺失"与"false"。
type resultFrame struct {
	Type     string          `json:"type"`
	Content  string          `json:"content"`
	Final    *bool           `json:"final"`
	Finished *bool           `json:"finished"`
	Status   *bool           `json:"status"`
	TaskID   string          `json:"taskId"`
	ErrorMsg string          `json:"errorMsg"`
	Raw      json.RawMessage `json:"-"`
}

// finalFlag 取 final/finished 中出现的那个；都缺失时用 def
// （缓冲响应默认 true，流式帧默认 false）。
func (f *resultFrame) finalFlag(def bool) bool {
	if f.Final != nil {
		return *f.Final
	}
	if f.Finished != nil {
		return *f.Finished
	}
	return def
}

// statusFlag 缺失时按"无错误即成功"处理
func (f *resultFrame) statusFlag() bool {
	if f.Status != nil {
		return *f.Status
	}
	return f.ErrorMsg == ""
}

// toResult 转为统一结果
func (f *resultFrame) toResult(finalDefault bool) *ExecutionResult {
	return &ExecutionResult{
		Type:     f.Type,
		Content:  f.Content,
		Final:    f.finalFlag(finalDefault),
		Status:   f.statusFlag(),
		TaskID:   f.TaskID,
		ErrorMsg: f.ErrorMsg,
	}
}
