package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 这些测试需要一个正在运行的etcd实例
// 可以通过docker运行: docker run -d --name etcd-test -p 2379:2379 bitnami/etcd:3.5 --allow-none-authentication

func getEtcdClient(t *testing.T) *Client {
	t.Helper()
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("跳过测试，ETCD_ENDPOINTS 未设置")
	}

	client, err := NewClient(Config{
		Endpoints:      strings.Split(endpoints, ","),
		DialTimeout:    5 * time.Second,
		RequestTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestEtcdClient(t *testing.T) {
	client := getEtcdClient(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	testKey := "/meshlite-test/key1"
	testValue := []byte("test-value-1")

	// 删除可能存在的测试键
	_ = client.Delete(ctx, testKey)

	require.NoError(t, client.Put(ctx, testKey, testValue))

	value, err := client.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, testValue, value)

	require.NoError(t, client.Delete(ctx, testKey))

	// 确认键已被删除
	value, err = client.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, value)
}
