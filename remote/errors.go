package remote

import "errors"

var (
	// ErrTimeout 传输层超时（连接/读取/总超时）。可重试。
	ErrTimeout = errors.New("remote: call timed out")

	// ErrAgentNotFound 远程智能体不存在。运行期内视为永久失败。
	ErrAgentNotFound = errors.New("remote: agent not found")

	// ErrInvalidResponse 响应无法解析为预期形状
	ErrInvalidResponse = errors.New("remote: invalid response")

	// ErrRemoteUnavailable 远端返回硬失败（非 200）
	ErrRemoteUnavailable = errors.New("remote: agent unavailable")
)
