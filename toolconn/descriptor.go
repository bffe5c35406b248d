// Package toolconn implements the tool-server connection manager: discovery
// of tool servers from declarative configuration, a shared capability cache,
// and connection health via a background heartbeat with automatic reconnect.
//
// The manager's lifetime is host-managed: construct one instance at process
// start and pass it by reference to all runs. There is no package-level
// global.
package toolconn

import "context"

// ToolSpec 工具服务器声明的工具能力（线上形状）
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolDescriptor 可调用的工具描述。跨运行共享。
type ToolDescriptor struct {
	// Name 全局工具名（含服务器前缀，如 "search/web_search"）
	Name string `json:"name"`

	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`

	// Server 提供该工具的服务器名
	Server string `json:"server"`

	invoke func(ctx context.Context, args map[string]any) (any, error)
}

// Invoke 调用工具
func (t *ToolDescriptor) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.invoke(ctx, args)
}

// Summary 单行工具摘要，用于构建路由提示词
func (t *ToolDescriptor) Summary() string {
	return t.Name + ": " + t.Description + " " + marshalSchema(t.InputSchema)
}
