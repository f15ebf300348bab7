// Package registry 实现注册中心：保存服务成员表，提供 get/add/remove，
// 周期性检查成员存活并向所有成员推送变更
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	"github.com/hewenyu/meshlite/internal/loop"
	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/internal/snapshot"
	"github.com/hewenyu/meshlite/pkg/logger"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/requester"
	"github.com/hewenyu/meshlite/pkg/service"
)

const (
	// DefaultName 注册中心的服务名称
	DefaultName = "SVC-REGISTER"
	// DefaultPort 注册中心的默认端口
	DefaultPort = 2999
	// DefaultTickInterval 存活检查周期
	DefaultTickInterval = time.Second
	// DefaultGracePeriod 新成员在首次响应前可以容忍失败的时间
	DefaultGracePeriod = 10 * time.Second
	// DefaultPingTimeout 单次存活检查和变更通知的超时时间
	DefaultPingTimeout = 2 * time.Second
	// NoGracePeriod 关闭宽限期，新成员第一次检查失败即被驱逐
	NoGracePeriod time.Duration = -1
)

var (
	// ErrAlreadyRegistered ID已经注册
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrNotFound ID未注册
	ErrNotFound = errors.New("not found")
)

// Config 注册中心配置
type Config struct {
	Service      service.Config
	TickInterval time.Duration
	GracePeriod  time.Duration
	PingTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Service.Name == "" {
		c.Service.Name = DefaultName
	}
	c.Service.Register = false
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	switch {
	case c.GracePeriod == 0:
		c.GracePeriod = DefaultGracePeriod
	case c.GracePeriod < 0:
		c.GracePeriod = 0
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	return c
}

// member 成员表中的一行
type member struct {
	entry      model.ServiceEntry
	addedAt    time.Time
	lastCheck  time.Time
	lastSeen   time.Time
	responded  bool // 是否响应过存活检查
	cacheDirty bool // 变更通知失败，下次检查时要求其刷新缓存
	checking   bool
}

func (m *member) interval() time.Duration {
	if m.entry.RegisterIntervalMs == 0 {
		return time.Duration(model.DefaultRegisterIntervalMs) * time.Millisecond
	}
	return time.Duration(m.entry.RegisterIntervalMs) * time.Millisecond
}

// Registry 注册中心，成员表由一把锁保护
type Registry struct {
	cfg       Config
	logger    logger.Logger
	sink      metrics.MetricSink
	store     snapshot.Store
	requester *requester.Requester
	svc       *service.Service
	checker   *loop.Loop

	mu      sync.Mutex
	members map[uuid.UUID]*member
	order   []uuid.UUID
	dirty   bool

	// 锁顺序: mu 在 outboxMu 之前
	outboxMu      sync.Mutex
	outboxes      map[uuid.UUID]*outbox
	notifications sync.WaitGroup
}

// Option 配置Registry
type Option func(*Registry)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetricSink 设置指标输出
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithSnapshotStore 设置快照存储，默认不保存
func WithSnapshotStore(s snapshot.Store) Option {
	return func(r *Registry) {
		if s != nil {
			r.store = s
		}
	}
}

// New 创建注册中心
func New(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logger.NewNop(),
		store:    snapshot.Noop{},
		members:  make(map[uuid.UUID]*member),
		outboxes: make(map[uuid.UUID]*outbox),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sink = imetrics.OrDefault(r.sink)
	r.logger = r.logger.Named("registry")

	r.requester = requester.New(
		requester.WithTimeout(r.cfg.PingTimeout),
		requester.WithLogger(r.logger),
		requester.WithMetricSink(r.sink),
	)
	r.svc = service.New(r.cfg.Service, r.endpoints(),
		service.WithLogger(r.logger),
		service.WithMetricSink(r.sink),
	)
	r.checker = loop.New("registry-liveness", r.cfg.TickInterval, r.tick, r.logger, r.sink)
	return r
}

// Start 从快照恢复成员表，开始提供服务并启动存活检查
func (r *Registry) Start(ctx context.Context) error {
	entries, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("加载快照失败，使用空成员表", zap.Error(err))
	} else if len(entries) > 0 {
		r.seed(entries)
	}

	if err := r.svc.Start(ctx); err != nil {
		return fmt.Errorf("启动注册中心失败: %w", err)
	}

	r.checker.Start(context.Background())
	r.logger.Info("注册中心已启动",
		zap.String("address", r.svc.Address()),
		zap.Int("members", len(entries)),
	)
	return nil
}

// Stop 先停止存活检查并关闭监听，不再接受成员变更，
// 然后等待未完成的通知并保存最终快照
func (r *Registry) Stop(ctx context.Context) error {
	r.checker.Stop()
	err := r.svc.Dispose(ctx)
	r.notifications.Wait()
	r.saveSnapshot(ctx)
	return err
}

// seed 用快照中的条目初始化成员表，这些成员从宽限期开始
func (r *Registry) seed(entries []model.ServiceEntry) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		if _, exists := r.members[e.ID]; exists {
			continue
		}
		r.members[e.ID] = &member{entry: e, addedAt: now}
		r.order = append(r.order, e.ID)
	}
	r.sink.SetGauge(imetrics.MetricRegistryMembers, float32(len(r.order)))
}

// Address 注册中心的地址
func (r *Registry) Address() string {
	return r.svc.Address()
}

// Port 注册中心实际监听的端口
func (r *Registry) Port() int {
	return r.svc.Port()
}

// Services 返回按注册顺序排列的所有成员
func (r *Registry) Services() []model.ServiceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entriesLocked()
}

func (r *Registry) entriesLocked() []model.ServiceEntry {
	out := make([]model.ServiceEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].entry)
	}
	return out
}

// Add 注册新成员并通知所有成员（包括新成员），返回注册后的成员列表
func (r *Registry) Add(entry model.ServiceEntry) ([]model.ServiceEntry, error) {
	now := time.Now()

	r.mu.Lock()
	if _, exists := r.members[entry.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, entry.ID)
	}
	r.members[entry.ID] = &member{entry: entry, addedAt: now, lastCheck: now}
	r.order = append(r.order, entry.ID)
	r.dirty = true
	services := r.entriesLocked()
	r.notifyLocked(model.EventAdded, entry, services)
	r.mu.Unlock()

	r.sink.IncrCounter(imetrics.MetricRegistryAddCount, 1)
	r.sink.SetGauge(imetrics.MetricRegistryMembers, float32(len(services)))
	r.logger.Info("服务已注册", zap.String("service", entry.String()))
	return services, nil
}

// Remove 注销成员并通知其余成员
func (r *Registry) Remove(id uuid.UUID) error {
	r.mu.Lock()
	entry, remaining, ok := r.deleteLocked(id)
	if ok {
		r.notifyLocked(model.EventRemoved, entry, remaining)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.sink.IncrCounter(imetrics.MetricRegistryRemoveCount, 1)
	r.logger.Info("服务已注销", zap.String("service", entry.String()))
	return nil
}

// deleteLocked 从成员表中删除，返回被删除的条目和剩余成员
func (r *Registry) deleteLocked(id uuid.UUID) (model.ServiceEntry, []model.ServiceEntry, bool) {
	m, ok := r.members[id]
	if !ok {
		return model.ServiceEntry{}, nil, false
	}
	delete(r.members, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.dirty = true
	r.sink.SetGauge(imetrics.MetricRegistryMembers, float32(len(r.order)))
	return m.entry, r.entriesLocked(), true
}

// markCacheDirty 通知失败的成员在下次存活检查时会被要求刷新缓存
func (r *Registry) markCacheDirty(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		m.cacheDirty = true
	}
}
