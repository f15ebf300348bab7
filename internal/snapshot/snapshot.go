// Package snapshot 保存注册中心成员表的快照，注册中心重启后用于恢复。
// 快照是尽力而为的，注册中心在Noop实现下同样正确工作
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hewenyu/meshlite/pkg/model"
)

// Store 快照存储
type Store interface {
	Save(ctx context.Context, entries []model.ServiceEntry) error
	Load(ctx context.Context) ([]model.ServiceEntry, error)
}

// Noop 不保存任何内容
type Noop struct{}

// Save 实现Store
func (Noop) Save(context.Context, []model.ServiceEntry) error { return nil }

// Load 实现Store
func (Noop) Load(context.Context) ([]model.ServiceEntry, error) { return nil, nil }

// Memory 在内存中保存快照，用于测试和单进程场景
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemory 创建内存快照
func NewMemory() *Memory {
	return &Memory{}
}

// Save 实现Store
func (m *Memory) Save(_ context.Context, entries []model.ServiceEntry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.saves++
	m.mu.Unlock()
	return nil
}

// Load 实现Store
func (m *Memory) Load(_ context.Context) ([]model.ServiceEntry, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	return decode(data)
}

// Saves 已保存的次数
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// encode 快照格式为ServiceEntry的JSON数组。
// 与接口上的[k,v]列表不同，metadata在快照中是JSON对象
func encode(entries []model.ServiceEntry) ([]byte, error) {
	if entries == nil {
		entries = []model.ServiceEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("序列化快照失败: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]model.ServiceEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var entries []model.ServiceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析快照失败: %w", err)
	}
	return entries, nil
}
