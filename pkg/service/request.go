package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/requester"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// RequestTo 向指定服务实例发送请求
func (s *Service) RequestTo(ctx context.Context, entry model.ServiceEntry, endpoint string, p schema.Payload) *requester.Call {
	return s.requester.Send(ctx, entry.Address, endpoint, p.With(BroadcastField, false))
}

// RequestByUUID 按ID查找服务并发送请求
func (s *Service) RequestByUUID(ctx context.Context, id uuid.UUID, endpoint string, p schema.Payload) (*requester.Call, error) {
	entry, ok := s.ServiceByID(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNoSuchService, id)
	}
	return s.RequestTo(ctx, entry, endpoint, p), nil
}

// RequestByName 向第一个名称匹配的服务发送请求
func (s *Service) RequestByName(ctx context.Context, name, endpoint string, p schema.Payload) (*requester.Call, error) {
	entry, ok := s.ServiceByName(ctx, name)
	if !ok {
		return nil, fmt.Errorf("%w: name %s", ErrNoSuchService, name)
	}
	return s.RequestTo(ctx, entry, endpoint, p), nil
}

// RequestByTag 向第一个带有该标签的服务发送请求
func (s *Service) RequestByTag(ctx context.Context, tag, endpoint string, p schema.Payload) (*requester.Call, error) {
	entry, ok := s.ServiceByTag(ctx, tag)
	if !ok {
		return nil, fmt.Errorf("%w: tag %s", ErrNoSuchService, tag)
	}
	return s.RequestTo(ctx, entry, endpoint, p), nil
}

// BroadcastByName 向所有名称匹配的服务发送请求，不等待结果
func (s *Service) BroadcastByName(ctx context.Context, name, endpoint string, p schema.Payload) []*requester.Call {
	return s.broadcast(ctx, s.ServicesByName(ctx, name), endpoint, p)
}

// BroadcastByTag 向所有带有该标签的服务发送请求，不等待结果
func (s *Service) BroadcastByTag(ctx context.Context, tag, endpoint string, p schema.Payload) []*requester.Call {
	return s.broadcast(ctx, s.ServicesByTag(ctx, tag), endpoint, p)
}

func (s *Service) broadcast(ctx context.Context, targets []model.ServiceEntry, endpoint string, p schema.Payload) []*requester.Call {
	p = p.With(BroadcastField, true)
	calls := make([]*requester.Call, 0, len(targets))
	for _, entry := range targets {
		calls = append(calls, s.requester.Send(ctx, entry.Address, endpoint, p))
	}
	return calls
}
