package service

import (
	"github.com/hashicorp/go-metrics"

	"github.com/hewenyu/meshlite/pkg/logger"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/requester"
)

// Option 配置Service
type Option func(*Service)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricSink 设置指标输出
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithRequester 使用自定义的Requester
func WithRequester(r *requester.Requester) Option {
	return func(s *Service) {
		s.requester = r
	}
}

// WithOnServiceOpen 其他服务出现在本地缓存中时回调
func WithOnServiceOpen(fn func(model.ServiceEntry)) Option {
	return func(s *Service) {
		s.onOpen = fn
	}
}

// WithOnServiceClose 其他服务从本地缓存中移除时回调
func WithOnServiceClose(fn func(model.ServiceEntry)) Option {
	return func(s *Service) {
		s.onClose = fn
	}
}

// WithSelfExclusion 查询和回调中排除本实例
func WithSelfExclusion() Option {
	return func(s *Service) {
		s.excludeSelf = true
	}
}
