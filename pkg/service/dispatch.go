package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/requester"
	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// dispatch 处理所有GET请求，结果总是以HTTP 200返回
func (s *Service) dispatch(c echo.Context) error {
	name := strings.Trim(c.Request().URL.Path, "/")
	res := s.Handle(c.Request().Context(), name, c.QueryParam(requester.PayloadParam))
	return c.JSON(http.StatusOK, res)
}

// Handle 按名称调用endpoint。raw为JSON负载，为空时视为空对象
func (s *Service) Handle(ctx context.Context, name, raw string) result.Result[*schema.Object] {
	start := time.Now()
	labels := []metrics.Label{imetrics.L(imetrics.LabelEndpoint, name)}
	s.sink.IncrCounterWithLabels(imetrics.MetricDispatchCount, 1, labels)
	defer imetrics.MeasureSince(s.sink, imetrics.MetricDispatchLatency, start, labels...)

	res := s.handle(ctx, name, raw)
	if res.IsError() {
		s.sink.IncrCounterWithLabels(imetrics.MetricDispatchErrorCount, 1, labels)
		s.logger.Debug("endpoint返回错误",
			zap.String("endpoint", name),
			zap.String("error", res.Err()),
		)
	}
	return res
}

func (s *Service) handle(ctx context.Context, name, raw string) result.Result[*schema.Object] {
	ep, ok := s.endpoints[name]
	if !ok {
		return result.Errorf[*schema.Object]("unknown endpoint %s", name)
	}

	p := schema.Decode([]byte(raw), withBroadcast(ep.Schema))
	if p.IsError() {
		return result.Error[*schema.Object](p.Err())
	}

	return invoke(ctx, ep.Handler, p.Unwrap())
}

// invoke 调用处理函数，panic转换为错误结果
func invoke(ctx context.Context, h Handler, p schema.Payload) (res result.Result[*schema.Object]) {
	defer func() {
		if r := recover(); r != nil {
			res = result.Errorf[*schema.Object]("endpoint failed: %v", r)
		}
	}()

	if h == nil {
		return result.Ok(schema.New())
	}
	res = h(ctx, p)
	if res.IsOk() && res.Unwrap() == nil {
		return result.Ok(schema.New())
	}
	return res
}

// withBroadcast 每个endpoint都接受传输层附加的broadcast标记
func withBroadcast(s schema.Schema) schema.Schema {
	if _, ok := s[BroadcastField]; ok {
		return s
	}
	return s.With(BroadcastField, schema.Default(schema.Boolean(), false))
}
