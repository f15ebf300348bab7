package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hewenyu/meshlite/pkg/model"
)

// PeerCache 是本地缓存的服务列表，按加入顺序保存
type PeerCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]model.ServiceEntry
	order       []uuid.UUID
	lastRefresh time.Time
	dirty       bool
	// generation 每次修改缓存时递增，用于识别过期的完整列表
	generation uint64
}

// NewPeerCache 创建空缓存，空缓存视为脏数据
func NewPeerCache() *PeerCache {
	return &PeerCache{
		entries: make(map[uuid.UUID]model.ServiceEntry),
		dirty:   true,
	}
}

// Replace 用注册中心返回的完整列表替换缓存，返回新增和移除的条目
func (c *PeerCache) Replace(entries []model.ServiceEntry) (added, removed []model.ServiceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaceLocked(entries)
}

// ReplaceIf 仅当缓存自generation之后没有被修改时才替换。
// 列表是在generation时发出的请求的结果，期间应用过的事件比它更新
func (c *PeerCache) ReplaceIf(generation uint64, entries []model.ServiceEntry) (added, removed []model.ServiceEntry, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		c.dirty = true
		return nil, nil, false
	}
	added, removed = c.replaceLocked(entries)
	return added, removed, true
}

// Generation 当前的修改代数
func (c *PeerCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *PeerCache) replaceLocked(entries []model.ServiceEntry) (added, removed []model.ServiceEntry) {
	next := make(map[uuid.UUID]model.ServiceEntry, len(entries))
	order := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if _, dup := next[e.ID]; dup {
			continue
		}
		next[e.ID] = e
		order = append(order, e.ID)
		if _, ok := c.entries[e.ID]; !ok {
			added = append(added, e)
		}
	}
	for _, id := range c.order {
		if _, ok := next[id]; !ok {
			removed = append(removed, c.entries[id])
		}
	}

	c.entries = next
	c.order = order
	c.lastRefresh = time.Now()
	c.dirty = false
	c.generation++
	return added, removed
}

// Add 加入或更新条目，返回是否为新条目
func (c *PeerCache) Add(e model.ServiceEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.entries[e.ID]
	c.entries[e.ID] = e
	c.generation++
	if !exists {
		c.order = append(c.order, e.ID)
	}
	return !exists
}

// Remove 移除条目
func (c *PeerCache) Remove(id uuid.UUID) (model.ServiceEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return model.ServiceEntry{}, false
	}
	delete(c.entries, id)
	c.generation++
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return e, true
}

// Get 按ID查询
func (c *PeerCache) Get(id uuid.UUID) (model.ServiceEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// Filter 按加入顺序返回满足条件的条目
func (c *PeerCache) Filter(match func(model.ServiceEntry) bool) []model.ServiceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.ServiceEntry, 0)
	for _, id := range c.order {
		e := c.entries[id]
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	return out
}

// All 返回所有条目
func (c *PeerCache) All() []model.ServiceEntry {
	return c.Filter(nil)
}

// Len 条目数量
func (c *PeerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// MarkDirty 标记缓存需要刷新
func (c *PeerCache) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Dirty 缓存是否需要刷新
func (c *PeerCache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Age 距上次完整刷新的时间，从未刷新时返回最大值
func (c *PeerCache) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRefresh.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(c.lastRefresh)
}

func byName(name string) func(model.ServiceEntry) bool {
	return func(e model.ServiceEntry) bool { return e.Name == name }
}

func byTag(tag string) func(model.ServiceEntry) bool {
	return func(e model.ServiceEntry) bool { return e.HasTag(tag) }
}
