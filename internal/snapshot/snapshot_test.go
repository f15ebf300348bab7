package snapshot

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/meshlite/internal/store/etcd"
	"github.com/hewenyu/meshlite/pkg/model"
)

func testEntries() []model.ServiceEntry {
	return []model.ServiceEntry{
		{
			ID:                 uuid.New(),
			Name:               "alpha",
			Tags:               []string{"x"},
			Address:            "10.0.0.1:8000",
			Metadata:           map[string]string{"zone": "a"},
			RegisterIntervalMs: 1000,
		},
		{
			ID:                 uuid.New(),
			Name:               "beta",
			Tags:               []string{},
			Address:            "http://beta.internal:9000",
			RegisterIntervalMs: model.DefaultRegisterIntervalMs,
		},
	}
}

// mapKV 内存中的KV实现
type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *mapKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func (m *mapKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func assertRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	entries := testEntries()
	require.NoError(t, s.Save(ctx, entries))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)

	require.NoError(t, s.Save(ctx, nil))
	loaded, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestNoop(t *testing.T) {
	var s Store = Noop{}
	require.NoError(t, s.Save(context.Background(), testEntries()))
	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	loaded, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded, "空快照")

	assertRoundTrip(t, m)
	assert.Equal(t, 2, m.Saves())
}

func TestSnapshotMetadataIsObject(t *testing.T) {
	entries := testEntries()
	data, err := encode(entries[:1])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"metadata":{"zone":"a"}`)

	// 接口上的表示是[k,v]列表
	wire := entries[0].ToObject().String()
	assert.Contains(t, wire, `"metadata":[["zone","a"]]`)
}

func TestEtcdWithFakeKV(t *testing.T) {
	kv := &mapKV{}
	s := NewEtcd(kv, "")
	assertRoundTrip(t, s)

	require.NoError(t, s.Save(context.Background(), testEntries()))
	_, ok := kv.data[DefaultEtcdKey]
	assert.True(t, ok, "应使用默认键")

	// 注册表清空后删除键而不是写入空列表
	require.NoError(t, s.Save(context.Background(), nil))
	_, ok = kv.data[DefaultEtcdKey]
	assert.False(t, ok, "空快照应删除键")

	kv.data[DefaultEtcdKey] = []byte("{broken")
	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestEtcdBackend(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("跳过测试，ETCD_ENDPOINTS 未设置")
	}

	client, err := etcd.NewClient(etcd.Config{
		Endpoints:      strings.Split(endpoints, ","),
		DialTimeout:    5 * time.Second,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	key := "/meshlite-test/snapshot/" + uuid.NewString()
	defer client.Delete(context.Background(), key)

	assertRoundTrip(t, NewEtcd(client, key))
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(RedisConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = redisOptions(RedisConfig{Addr: "redis://:secret@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = redisOptions(RedisConfig{Addr: "redis://cache:6380/notanumber"})
	assert.Error(t, err)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("跳过测试，REDIS_ADDR 未设置")
	}

	s, err := NewRedis(RedisConfig{Addr: addr, Key: "_meshlite_test_" + uuid.NewString()})
	require.NoError(t, err)
	defer func() {
		s.client.Del(context.Background(), s.key)
		_ = s.Close()
	}()
	require.NoError(t, s.Ping(context.Background()))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded, "键不存在时返回空")

	assertRoundTrip(t, s)
}
