package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/tlsutil"
)

// DefaultChatPath 远程智能体聊天端点路径
const DefaultChatPath = "/v1/agents/chat"

// ClientConfig 客户端配置。三类超时独立注入。
type ClientConfig struct {
	ConnectTimeout time.Duration     `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    time.Duration     `yaml:"read_timeout" json:"read_timeout"`
	TotalTimeout   time.Duration     `yaml:"total_timeout" json:"total_timeout"`
	ChatPath       string            `yaml:"chat_path" json:"chat_path"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
}

// DefaultClientConfig 合理默认值
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		TotalTimeout:   120 * time.Second,
		ChatPath:       DefaultChatPath,
	}
}

// Client 远程智能体协议客户端。每次调用无状态；
// 重试策略由调用方（远程执行阶段）施加，客户端本身不重试。
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建客户端
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChatPath == "" {
		config.ChatPath = DefaultChatPath
	}
	return &Client{
		config:     config,
		httpClient: tlsutil.SecureHTTPClient(config.ConnectTimeout, config.ReadTimeout, config.TotalTimeout),
		logger:     logger.With(zap.String("component", "remote_client")),
	}
}

// Call 调用命名的远程智能体。
// 按响应 Content-Type 选择解析器：text/event-stream 走流式，其余走缓冲。
func (c *Client) Call(ctx context.Context, baseURL string, req CallRequest) (*ExecutionResult, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: empty base url", ErrAgentNotFound)
	}

	body, err := json.Marshal(wireRequest{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Messages:  []wireMessage{{Type: "text", Content: req.Content}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + c.config.ChatPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: agent %s: status 404, body: %s", ErrAgentNotFound, req.AgentID, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrRemoteUnavailable, resp.StatusCode, string(respBody))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return c.readStream(req.AgentID, resp.Body)
	}
	return c.readBuffered(resp.Body)
}

// readBuffered 单个 JSON 对象响应。final/finished 都缺失时默认 true。
func (c *Client) readBuffered(body io.Reader) (*ExecutionResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var frame resultFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return frame.toResult(true), nil
}

// readStream 逐行解析 data: 帧。
//   - [DONE] 结束流，无负载
//   - 空行和以 ":" 开头的注释行忽略
//   - 非 data: 前缀但本身是 JSON 对象的行也接受（宽松模式）
//   - 单帧 JSON 损坏只跳过该帧，不终止整个流
//
// 内容跨帧累积；某帧置 final 时立即返回：该帧自带内容则覆盖累积文本，
// 否则用累积文本。流结束仍无 final 帧时合成结果，仅当收到过非空文本
// 才算成功。
func (c *Client) readStream(agentID string, body io.Reader) (*ExecutionResult, error) {
	var accumulated strings.Builder
	var lastTaskID, lastType string

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			if isTimeoutErr(err) {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return nil, fmt.Errorf("failed to read stream: %w", err)
		}

		payload, ok := framePayload(line)
		if ok {
			if payload == "[DONE]" {
				break
			}

			var frame resultFrame
			if jsonErr := json.Unmarshal([]byte(payload), &frame); jsonErr != nil {
				// 单个坏帧不致命
				c.logger.Debug("skipping malformed stream frame",
					zap.String("agent_id", agentID), zap.Error(jsonErr))
			} else {
				if frame.Content != "" {
					accumulated.WriteString(frame.Content)
				}
				if frame.TaskID != "" {
					lastTaskID = frame.TaskID
				}
				if frame.Type != "" {
					lastType = frame.Type
				}

				if frame.finalFlag(false) {
					result := frame.toResult(false)
					result.Final = true
					if result.Content == "" {
						result.Content = accumulated.String()
					}
					if result.TaskID == "" {
						result.TaskID = lastTaskID
					}
					return result, nil
				}
			}
		}

		if err == io.EOF {
			break
		}
	}

	// 流结束但没有任何帧置 final：用累积内容合成结果
	content := accumulated.String()
	result := &ExecutionResult{
		Type:    lastType,
		Content: content,
		Final:   true,
		Status:  content != "",
		TaskID:  lastTaskID,
	}
	if content == "" {
		// 应用层"未收到内容"，与传输层超时是两种不同的结局
		result.ErrorMsg = "no content received from stream"
	}
	return result, nil
}

// framePayload 从一行中提取帧负载
func framePayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if strings.HasPrefix(line, "data:") {
		return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
	}
	// 宽松模式：裸 JSON 对象行
	if strings.HasPrefix(line, "{") {
		return line, true
	}
	return "", false
}

// isTimeoutErr 识别传输层超时类错误
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// http.Client 总超时
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}
