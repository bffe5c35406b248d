package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()

	srv := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = srv.Addr()

	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSetAndGet(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestGetMissing(t *testing.T) {
	m := testManager(t)

	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestJSONRoundTrip(t *testing.T) {
	type entry struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}

	m := testManager(t)
	ctx := context.Background()

	in := []entry{{Name: "web_search", Size: 2}, {Name: "read_file", Size: 1}}
	require.NoError(t, m.SetJSON(ctx, "tools", in, time.Minute))

	var out []entry
	require.NoError(t, m.GetJSON(ctx, "tools", &out))
	assert.Equal(t, in, out)
}

func TestGetJSONMissing(t *testing.T) {
	m := testManager(t)

	var out map[string]string
	err := m.GetJSON(context.Background(), "absent", &out)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDelete(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, m.Delete(ctx, "a", "b"))

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestPingAndClose(t *testing.T) {
	m := testManager(t)

	require.NoError(t, m.Ping(context.Background()))
	require.NoError(t, m.Close())
	// 重复关闭不应报错
	assert.NoError(t, m.Close())
}

func TestConnectFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = 0

	_, err := NewManager(cfg, zap.NewNop())
	assert.Error(t, err)
}
