// Package provider implements the external decision-making capability
// behind the supervisor's narrow interface, as an OpenAI-compatible
// chat-completion client.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/tlsutil"
	"github.com/BaSui01/agentmesh/types"
)

// Config OpenAI 兼容后端配置
type Config struct {
	// BaseURL 如 https://api.openai.com/v1
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIKey 鉴权密钥
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Timeout 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Temperature 采样温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
}

// OpenAIProvider OpenAI 兼容的聊天补全客户端
type OpenAIProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider 创建客户端
func NewOpenAIProvider(cfg Config, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(10*time.Second, cfg.Timeout, cfg.Timeout),
		logger: logger.With(zap.String("component", "provider")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete 发送会话并返回原始回答文本
func (p *OpenAIProvider) Complete(ctx context.Context, model string, msgs []types.Message) (string, error) {
	body := chatRequest{
		Model:       model,
		Temperature: p.cfg.Temperature,
		Messages:    make([]chatMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == types.RoleTool {
			// 工具结果以用户消息形式回灌，保持 OpenAI 角色集合兼容
			role = string(types.RoleUser)
		}
		body.Messages = append(body.Messages, chatMessage{Role: role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		code := types.ErrInternal
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			code = types.ErrTimeout
		}
		return "", types.NewError(code, "completion request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", types.NewError(types.ErrProtocol, fmt.Sprintf("completion returned status %d: %s", resp.StatusCode, string(data))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewError(types.ErrProtocol, "failed to decode completion response").WithCause(err)
	}
	if out.Error != nil {
		return "", types.NewError(types.ErrProtocol, "completion error: "+out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", types.NewError(types.ErrProtocol, "completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
