package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/schema"
	"github.com/hewenyu/meshlite/pkg/service"
)

// pingTarget 一次存活检查的对象
type pingTarget struct {
	entry      model.ServiceEntry
	cacheDirty bool
}

// tick 检查所有到期的成员，等待检查全部结束后保存快照
func (r *Registry) tick(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	due := make([]pingTarget, 0)
	for _, id := range r.order {
		m := r.members[id]
		if m.checking || now.Sub(m.lastCheck) < m.interval() {
			continue
		}
		m.checking = true
		due = append(due, pingTarget{entry: m.entry, cacheDirty: m.cacheDirty})
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, target := range due {
		wg.Add(1)
		go func(target pingTarget) {
			defer wg.Done()
			r.ping(ctx, target)
		}(target)
	}
	wg.Wait()

	r.saveSnapshot(ctx)
}

var registerPingDirty = schema.New().Put("isCacheDirty", true).
	Validate(schema.Schema{"isCacheDirty": schema.Boolean()}).Unwrap()

// ping 检查单个成员。失败时已响应过或宽限期已过的成员被驱逐
func (r *Registry) ping(ctx context.Context, target pingTarget) {
	endpoint, payload := service.EndpointPing, schema.Empty()
	if target.cacheDirty {
		endpoint, payload = service.EndpointRegisterPing, registerPingDirty
	}

	start := time.Now()
	res := r.requester.Do(ctx, target.entry.Address, endpoint, payload)
	imetrics.MeasureSince(r.sink, imetrics.MetricRegistryPingLatency, start,
		imetrics.L(imetrics.LabelService, target.entry.Name))
	now := time.Now()

	r.mu.Lock()
	m, ok := r.members[target.entry.ID]
	if !ok {
		// 检查期间已被注销
		r.mu.Unlock()
		return
	}
	m.checking = false
	if ctx.Err() != nil {
		// 注册中心正在停止，不把取消当作失败
		r.mu.Unlock()
		return
	}
	m.lastCheck = now

	if res.IsOk() {
		m.responded = true
		m.lastSeen = now
		if target.cacheDirty {
			m.cacheDirty = false
		}
		r.mu.Unlock()
		return
	}

	if !m.responded && now.Sub(m.addedAt) < r.cfg.GracePeriod {
		r.mu.Unlock()
		r.logger.Debug("宽限期内的成员未响应",
			zap.String("service", target.entry.String()),
			zap.String("error", res.Err()),
		)
		return
	}

	entry, remaining, _ := r.deleteLocked(target.entry.ID)
	r.notifyLocked(model.EventRemoved, entry, remaining)
	r.mu.Unlock()

	r.sink.IncrCounterWithLabels(imetrics.MetricRegistryEvictCount, 1,
		[]metrics.Label{imetrics.L(imetrics.LabelService, entry.Name)})
	r.logger.Info("服务停止响应，已移除",
		zap.String("service", entry.String()),
		zap.String("error", res.Err()),
	)
}

// saveSnapshot 成员表有变化时保存快照，失败时下次重试
func (r *Registry) saveSnapshot(ctx context.Context) {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	entries := r.entriesLocked()
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.Save(ctx, entries); err != nil {
		r.logger.Warn("保存快照失败", zap.Error(err))
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}
