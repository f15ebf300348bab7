package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// refresh 从注册中心拉取完整的服务列表。同一时间只有一次刷新
func (s *Service) refresh(ctx context.Context) error {
	if !s.cfg.Register {
		return nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.sink.IncrCounter(imetrics.MetricPeerCacheRefreshCount, 1)
	generation := s.cache.Generation()
	res := s.requester.Do(ctx, s.cfg.RegistryURL, "get", schema.Empty())
	if res.IsError() {
		s.cache.MarkDirty()
		s.logger.Warn("刷新服务缓存失败", zap.String("error", res.Err()))
		return fmt.Errorf("刷新服务缓存失败: %s", res.Err())
	}

	entries, err := model.EntriesFromList(res.Unwrap().GetList("services"))
	if err != nil {
		s.cache.MarkDirty()
		s.logger.Warn("解析服务列表失败", zap.Error(err))
		return fmt.Errorf("解析服务列表失败: %w", err)
	}

	added, removed, ok := s.cache.ReplaceIf(generation, entries)
	if !ok {
		// 请求期间收到了svc_event，列表可能已过期，留待下一轮刷新
		s.logger.Debug("刷新期间缓存已变化，丢弃本次列表")
		return nil
	}
	s.cacheChanged(added, removed)
	return nil
}

// refreshTick 周期任务：缓存为脏或超过刷新间隔时刷新
func (s *Service) refreshTick(ctx context.Context) {
	if s.cache.Dirty() || s.cache.Age() >= s.cfg.RefreshInterval {
		_ = s.refresh(ctx)
	}
}

func (s *Service) replaceCache(entries []model.ServiceEntry) {
	s.cacheChanged(s.cache.Replace(entries))
}

func (s *Service) cacheChanged(added, removed []model.ServiceEntry) {
	s.sink.SetGauge(imetrics.MetricPeerCacheSize, float32(s.cache.Len()))

	for _, e := range added {
		s.fireOpen(e)
	}
	for _, e := range removed {
		s.fireClose(e)
	}
}

// applyEvent 按到达顺序应用注册中心推送的变更
func (s *Service) applyEvent(event model.ServiceEvent) {
	switch event.Event {
	case model.EventAdded:
		if s.cache.Add(event.Service) {
			s.fireOpen(event.Service)
		}
	case model.EventRemoved:
		if e, ok := s.cache.Remove(event.Service.ID); ok {
			s.fireClose(e)
		}
	}
	s.sink.SetGauge(imetrics.MetricPeerCacheSize, float32(s.cache.Len()))
}

func (s *Service) fireOpen(e model.ServiceEntry) {
	if s.excludeSelf && e.ID == s.cfg.ID {
		return
	}
	s.logger.Debug("服务上线", zap.String("service", e.String()))
	if s.onOpen != nil {
		s.onOpen(e)
	}
}

func (s *Service) fireClose(e model.ServiceEntry) {
	if s.excludeSelf && e.ID == s.cfg.ID {
		return
	}
	s.logger.Debug("服务下线", zap.String("service", e.String()))
	if s.onClose != nil {
		s.onClose(e)
	}
}

// lookup 查询本地缓存。缓存过期时先刷新，没有结果时刷新后重试一次
func (s *Service) lookup(ctx context.Context, match func(model.ServiceEntry) bool) []model.ServiceEntry {
	if s.cfg.Register && s.cache.Age() > s.cfg.CacheMaxAge {
		_ = s.refresh(ctx)
	}

	found := s.filter(match)
	if len(found) == 0 && s.cfg.Register {
		if err := s.refresh(ctx); err == nil {
			found = s.filter(match)
		}
	}
	return found
}

func (s *Service) filter(match func(model.ServiceEntry) bool) []model.ServiceEntry {
	return s.cache.Filter(func(e model.ServiceEntry) bool {
		if s.excludeSelf && e.ID == s.cfg.ID {
			return false
		}
		return match == nil || match(e)
	})
}

// Services 返回缓存中的所有服务
func (s *Service) Services() []model.ServiceEntry {
	return s.filter(nil)
}

// ServiceByID 按ID查询服务
func (s *Service) ServiceByID(ctx context.Context, id uuid.UUID) (model.ServiceEntry, bool) {
	found := s.lookup(ctx, func(e model.ServiceEntry) bool { return e.ID == id })
	if len(found) == 0 {
		return model.ServiceEntry{}, false
	}
	return found[0], true
}

// ServiceByName 返回第一个名称匹配的服务
func (s *Service) ServiceByName(ctx context.Context, name string) (model.ServiceEntry, bool) {
	found := s.lookup(ctx, byName(name))
	if len(found) == 0 {
		return model.ServiceEntry{}, false
	}
	return found[0], true
}

// ServiceByTag 返回第一个带有该标签的服务
func (s *Service) ServiceByTag(ctx context.Context, tag string) (model.ServiceEntry, bool) {
	found := s.lookup(ctx, byTag(tag))
	if len(found) == 0 {
		return model.ServiceEntry{}, false
	}
	return found[0], true
}

// ServicesByName 返回所有名称匹配的服务
func (s *Service) ServicesByName(ctx context.Context, name string) []model.ServiceEntry {
	return s.lookup(ctx, byName(name))
}

// ServicesByTag 返回所有带有该标签的服务
func (s *Service) ServicesByTag(ctx context.Context, tag string) []model.ServiceEntry {
	return s.lookup(ctx, byTag(tag))
}
