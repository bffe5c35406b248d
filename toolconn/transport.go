package toolconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Transport 工具服务器连接。核心对线协议不做更多假设：
// 一个命名服务器给出一组命名工具（带 JSON-schema 风格的输入描述）
// 和一个 invoke 操作。
type Transport interface {
	// Connect 建立连接
	Connect(ctx context.Context) error
	// ListTools 发现工具列表
	ListTools(ctx context.Context) ([]ToolSpec, error)
	// CallTool 调用命名工具
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	// Ping 心跳探测
	Ping(ctx context.Context) error
	// Close 关闭连接
	Close() error
}

// ServerSpec 单个工具服务器的连接描述（声明式配置）
type ServerSpec struct {
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// wsFrame 请求/响应帧
type wsFrame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params map[string]any  `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsTransport WebSocket 工具服务器连接
type wsTransport struct {
	spec   ServerSpec
	logger *zap.Logger

	conn *websocket.Conn

	nextID    int64
	pending   map[int64]chan *wsFrame
	pendingMu sync.Mutex

	mu        sync.Mutex
	connected bool
	done      chan struct{}
}

// NewWSTransport 创建 WebSocket 连接
func NewWSTransport(spec ServerSpec, logger *zap.Logger) Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &wsTransport{
		spec:    spec,
		logger:  logger,
		pending: make(map[int64]chan *wsFrame),
	}
}

// Connect 建立连接并启动读循环
func (t *wsTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return fmt.Errorf("already connected")
	}

	header := http.Header{}
	for k, v := range t.spec.Headers {
		header.Set(k, v)
	}

	conn, _, err := websocket.Dial(ctx, t.spec.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.spec.URL, err)
	}

	t.conn = conn
	t.connected = true
	t.done = make(chan struct{})

	go t.readLoop()

	t.logger.Info("connected to tool server", zap.String("url", t.spec.URL))
	return nil
}

// readLoop 分发响应帧到等待的请求
func (t *wsTransport) readLoop() {
	defer close(t.done)
	for {
		_, data, err := t.conn.Read(context.Background())
		if err != nil {
			t.failPending(err)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Warn("malformed frame from tool server", zap.Error(err))
			continue
		}
		if frame.ID == 0 {
			continue // 通知帧，当前不处理
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[frame.ID]
		t.pendingMu.Unlock()
		if ok {
			ch <- &frame
		}
	}
}

// failPending 连接断开时让所有等待中的请求立刻失败
func (t *wsTransport) failPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.logger.Debug("tool server connection lost", zap.Error(err))
}

// request 发送请求并等待响应
func (t *wsTransport) request(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("not connected")
	}
	conn := t.conn
	t.mu.Unlock()

	id := atomic.AddInt64(&t.nextID, 1)
	respChan := make(chan *wsFrame, 1)

	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, err := json.Marshal(wsFrame{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-respChan:
		if !ok {
			return nil, fmt.Errorf("connection closed while waiting for %s", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("tool server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (t *wsTransport) ListTools(ctx context.Context) ([]ToolSpec, error) {
	result, err := t.request(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var tools []ToolSpec
	if err := json.Unmarshal(result, &tools); err != nil {
		return nil, fmt.Errorf("failed to parse tools: %w", err)
	}
	return tools, nil
}

func (t *wsTransport) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := t.request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to parse tool result: %w", err)
	}
	return out, nil
}

func (t *wsTransport) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := t.request(ctx, "ping", nil)
	return err
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false

	err := t.conn.Close(websocket.StatusNormalClosure, "client closing")
	select {
	case <-t.done:
	case <-time.After(2 * time.Second):
	}
	return err
}
