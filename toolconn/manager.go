package toolconn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/agentmesh/internal/cache"
	"github.com/BaSui01/agentmesh/internal/metrics"
)

// Config 连接管理器配置
type Config struct {
	// Servers 命名服务器集合，键为服务器名（用作工具名前缀）
	Servers map[string]ServerSpec `yaml:"servers" json:"servers"`
	// HeartbeatInterval 心跳探测间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// ReconnectBase 重连退避基础延迟
	ReconnectBase time.Duration `yaml:"reconnect_base" json:"reconnect_base"`
	// ReconnectMax 重连退避延迟上限
	ReconnectMax time.Duration `yaml:"reconnect_max" json:"reconnect_max"`
	// DialTimeout 单次连接超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     1 * time.Second,
		ReconnectMax:      60 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}

func (c *Config) fixup() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 1 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// hash 配置指纹，用于 Start 幂等与缓存键
func (c Config) hash() string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		spec := c.Servers[name]
		fmt.Fprintf(h, "%s|%s|", name, spec.URL)
		keys := make([]string, 0, len(spec.Headers))
		for k := range spec.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%s;", k, spec.Headers[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DialFunc 建立到单个服务器的连接。可注入替换，测试时使用假连接。
type DialFunc func(spec ServerSpec, logger *zap.Logger) Transport

// Manager 工具服务器连接管理器。生命周期由宿主持有：
// 宿主负责 Start 和 Close，同一个实例可在多次运行之间复用。
type Manager struct {
	logger  *zap.Logger
	dial    DialFunc
	cache   *cache.Manager
	metrics *metrics.Collector

	mu         sync.RWMutex
	cfg        Config
	cfgHash    string
	started    bool
	transports map[string]Transport
	tools      map[string]ToolDescriptor

	// reconnecting 每服务器最多一个在途重连
	reconnecting map[string]bool

	sf singleflight.Group

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

// ManagerOption Manager 可选项
type ManagerOption func(*Manager)

// WithDialFunc 替换连接建立方式
func WithDialFunc(dial DialFunc) ManagerOption {
	return func(m *Manager) { m.dial = dial }
}

// WithCache 启用 Redis 预热缓存（可选；发现失败时回退到缓存副本）
func WithCache(c *cache.Manager) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// WithMetrics 启用指标采集
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// NewManager 创建连接管理器
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:       logger.With(zap.String("component", "toolconn")),
		dial:         NewWSTransport,
		transports:   make(map[string]Transport),
		tools:        make(map[string]ToolDescriptor),
		reconnecting: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start 按配置建立连接并做一次发现。幂等：同一配置重复调用
// 直接返回；配置变更时先拆除旧连接再按新配置重建。
// 发现失败不是错误：对应服务器的工具集为空，等待心跳重连恢复。
func (m *Manager) Start(ctx context.Context, cfg Config) error {
	cfg.fixup()
	h := cfg.hash()

	m.mu.Lock()
	if m.started && m.cfgHash == h {
		m.mu.Unlock()
		return nil
	}
	if m.started {
		m.teardownLocked()
	}
	m.cfg = cfg
	m.cfgHash = h
	m.started = true
	stop := make(chan struct{})
	m.stopHeartbeat = stop
	m.mu.Unlock()

	for name, spec := range cfg.Servers {
		m.connectServer(ctx, name, spec)
	}

	m.mu.RLock()
	connected := len(m.transports)
	toolCount := len(m.tools)
	m.mu.RUnlock()

	if toolCount == 0 && m.cache != nil {
		m.restoreFromCache(ctx, h)
	} else if m.cache != nil {
		m.persistToCache(ctx, h)
	}

	m.wg.Add(1)
	go m.heartbeatLoop(cfg.HeartbeatInterval, stop)

	m.logger.Info("tool connection manager started",
		zap.Int("servers", len(cfg.Servers)),
		zap.Int("connected", connected),
		zap.Int("tools", toolCount))
	return nil
}

// connectServer 连接单个服务器并发现其工具；失败只记日志
func (m *Manager) connectServer(ctx context.Context, name string, spec ServerSpec) {
	t := m.dial(spec, m.logger)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	if err := t.Connect(dialCtx); err != nil {
		m.logger.Warn("failed to connect to tool server",
			zap.String("server", name), zap.Error(err))
		return
	}

	specs, err := t.ListTools(dialCtx)
	if err != nil {
		m.logger.Warn("tool discovery failed",
			zap.String("server", name), zap.Error(err))
		if m.metrics != nil {
			m.metrics.RecordToolCacheRefresh("error")
		}
		_ = t.Close()
		return
	}

	m.mu.Lock()
	m.transports[name] = t
	m.mergeServerToolsLocked(name, t, specs)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordToolCacheRefresh("ok")
	}
	m.logger.Info("discovered tools",
		zap.String("server", name), zap.Int("count", len(specs)))
}

// mergeServerToolsLocked 用发现结果替换该服务器名下的工具。
// 调用方持有 m.mu 写锁。
func (m *Manager) mergeServerToolsLocked(server string, t Transport, specs []ToolSpec) {
	for full, d := range m.tools {
		if d.Server == server {
			delete(m.tools, full)
		}
	}
	for _, spec := range specs {
		spec := spec
		full := server + "/" + spec.Name
		m.tools[full] = ToolDescriptor{
			Name:        full,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
			Server:      server,
			invoke: func(ctx context.Context, args map[string]any) (any, error) {
				return t.CallTool(ctx, spec.Name, args)
			},
		}
	}
}

// Tools 返回当前工具集快照。force=true 或缓存为空时对所有已连
// 服务器重新发现；发现失败时保留原有（陈旧）副本。并发的刷新会
// 合并成一次（singleflight）。
func (m *Manager) Tools(ctx context.Context, force bool) []ToolDescriptor {
	m.mu.RLock()
	empty := len(m.tools) == 0
	m.mu.RUnlock()

	if force || empty {
		_, _, _ = m.sf.Do("refresh", func() (any, error) {
			m.refresh(ctx)
			return nil, nil
		})
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(m.tools))
	for _, d := range m.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// refresh 对所有已连服务器重新发现工具
func (m *Manager) refresh(ctx context.Context) {
	m.mu.RLock()
	transports := make(map[string]Transport, len(m.transports))
	for name, t := range m.transports {
		transports[name] = t
	}
	m.mu.RUnlock()

	for name, t := range transports {
		specs, err := t.ListTools(ctx)
		if err != nil {
			m.logger.Warn("tool refresh failed, keeping cached tools",
				zap.String("server", name), zap.Error(err))
			if m.metrics != nil {
				m.metrics.RecordToolCacheRefresh("error")
			}
			continue
		}
		m.mu.Lock()
		m.mergeServerToolsLocked(name, t, specs)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordToolCacheRefresh("ok")
		}
	}

	if m.cache != nil {
		m.mu.RLock()
		h := m.cfgHash
		m.mu.RUnlock()
		m.persistToCache(ctx, h)
	}
}

// ToolByName 按全名查找工具
func (m *Manager) ToolByName(name string) (ToolDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.tools[name]
	return d, ok
}

// ToolsByPattern 按 glob 模式匹配工具名，如 "search/*"
func (m *Manager) ToolsByPattern(pattern string) []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ToolDescriptor
	for name, d := range m.tools {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SearchTools 在名称和描述中做大小写不敏感的子串搜索
func (m *Manager) SearchTools(query string) []ToolDescriptor {
	query = strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ToolDescriptor
	for _, d := range m.tools {
		if strings.Contains(strings.ToLower(d.Name), query) ||
			strings.Contains(strings.ToLower(d.Description), query) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// heartbeatLoop 周期性探测各服务器，失败触发重连。
// stop 与间隔在 Start 时捕获，不回读可变字段，保证与 Close 无竞争。
func (m *Manager) heartbeatLoop(interval time.Duration, stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkServers(stop)
		}
	}
}

func (m *Manager) checkServers(stop chan struct{}) {
	m.mu.RLock()
	transports := make(map[string]Transport, len(m.transports))
	for name, t := range m.transports {
		transports[name] = t
	}
	// 首次连接就失败的服务器不在 transports 中，同样走重连路径
	var missing []string
	for name := range m.cfg.Servers {
		if _, ok := m.transports[name]; !ok && !m.reconnecting[name] {
			missing = append(missing, name)
		}
	}
	m.mu.RUnlock()

	for name, t := range transports {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.Ping(ctx)
		cancel()
		if err == nil {
			continue
		}

		m.logger.Warn("heartbeat failed",
			zap.String("server", name), zap.Error(err))
		if m.metrics != nil {
			m.metrics.RecordHeartbeatFailure()
		}
		m.triggerReconnect(name, stop)
	}

	for _, name := range missing {
		m.logger.Warn("tool server not connected, scheduling reconnect",
			zap.String("server", name))
		m.triggerReconnect(name, stop)
	}
}

// triggerReconnect 启动后台重连，每服务器同时最多一个
func (m *Manager) triggerReconnect(name string, stop chan struct{}) {
	m.mu.Lock()
	if m.reconnecting[name] {
		m.mu.Unlock()
		return
	}
	m.reconnecting[name] = true
	spec, ok := m.cfg.Servers[name]
	if old, present := m.transports[name]; present {
		_ = old.Close()
		delete(m.transports, name)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	m.wg.Add(1)
	go m.reconnectLoop(name, spec, stop)
}

// reconnectLoop 指数退避重连，直到成功或管理器关闭。
// 新连接上完成一次完整发现后才替换工具集。
func (m *Manager) reconnectLoop(name string, spec ServerSpec, stop chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting[name] = false
		m.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		delay := m.computeBackoff(attempt)
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		t := m.dial(spec, m.logger)
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		err := t.Connect(ctx)
		if err == nil {
			var specs []ToolSpec
			specs, err = t.ListTools(ctx)
			if err == nil {
				cancel()
				m.mu.Lock()
				// 管理器已关闭或按新配置重建时丢弃这次重连结果
				if !m.started || m.stopHeartbeat != stop {
					m.mu.Unlock()
					_ = t.Close()
					return
				}
				m.transports[name] = t
				m.mergeServerToolsLocked(name, t, specs)
				m.mu.Unlock()
				if m.metrics != nil {
					m.metrics.RecordReconnect()
				}
				m.logger.Info("reconnected to tool server",
					zap.String("server", name),
					zap.Int("attempt", attempt+1),
					zap.Int("tools", len(specs)))
				return
			}
			_ = t.Close()
		}
		cancel()

		m.logger.Debug("reconnect attempt failed",
			zap.String("server", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("next_delay", m.computeBackoff(attempt+1)),
			zap.Error(err))
	}
}

// computeBackoff 第 attempt 次重连前的等待：base*2^attempt 封顶
// 之后再加 [0, delay) 的随机抖动。
func (m *Manager) computeBackoff(attempt int) time.Duration {
	m.mu.RLock()
	base, max := m.cfg.ReconnectBase, m.cfg.ReconnectMax
	m.mu.RUnlock()

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) + 1))
	return delay + jitter
}

type cachedTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Server      string         `json:"server"`
}

func (m *Manager) cacheKey(hash string) string {
	return "agentmesh:tools:" + hash
}

// persistToCache 将当前工具集写入 Redis 供下次启动预热
func (m *Manager) persistToCache(ctx context.Context, hash string) {
	m.mu.RLock()
	entries := make([]cachedTool, 0, len(m.tools))
	for _, d := range m.tools {
		entries = append(entries, cachedTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
			Server:      d.Server,
		})
	}
	m.mu.RUnlock()

	if err := m.cache.SetJSON(ctx, m.cacheKey(hash), entries, 0); err != nil {
		m.logger.Debug("failed to persist tool cache", zap.Error(err))
	}
}

// restoreFromCache 发现全部失败时用缓存副本填充工具集。
// 恢复出的工具在对应服务器重连成功之前不可调用。
func (m *Manager) restoreFromCache(ctx context.Context, hash string) {
	var entries []cachedTool
	if err := m.cache.GetJSON(ctx, m.cacheKey(hash), &entries); err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e := e
		if _, exists := m.tools[e.Name]; exists {
			continue
		}
		m.tools[e.Name] = ToolDescriptor{
			Name:        e.Name,
			Description: e.Description,
			InputSchema: e.InputSchema,
			Server:      e.Server,
			invoke: func(ctx context.Context, args map[string]any) (any, error) {
				return nil, fmt.Errorf("tool server %q not connected", e.Server)
			},
		}
	}
	m.logger.Info("restored tool descriptors from cache",
		zap.Int("count", len(entries)))
}

// teardownLocked 拆除全部连接与后台循环。调用方持有写锁。
func (m *Manager) teardownLocked() {
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
	for name, t := range m.transports {
		if err := t.Close(); err != nil {
			m.logger.Debug("error closing tool server connection",
				zap.String("server", name), zap.Error(err))
		}
	}
	m.transports = make(map[string]Transport)
	m.tools = make(map[string]ToolDescriptor)
	m.reconnecting = make(map[string]bool)
	m.started = false
}

// Close 关闭全部连接。幂等。
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.teardownLocked()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("tool connection manager closed")
	return nil
}

// marshalSchema 用于日志与提示词构建时展示输入模式
func marshalSchema(schema map[string]any) string {
	if len(schema) == 0 {
		return "{}"
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return "{}"
	}
	return string(b)
}
