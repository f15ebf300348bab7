package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/logger"
	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// DefaultTimeout 单次请求的默认超时时间
const DefaultTimeout = 3 * time.Second

// PayloadParam 承载JSON负载的查询参数名
const PayloadParam = "json"

// maxResponseSize 响应体大小上限
const maxResponseSize = 16 << 20

// Requester 向其他服务的endpoint发送请求
type Requester struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     logger.Logger
	sink       metrics.MetricSink
}

// Option 配置Requester
type Option func(*Requester)

// WithTimeout 设置单次请求超时，非正数时使用默认值
func WithTimeout(d time.Duration) Option {
	return func(r *Requester) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHTTPClient 使用自定义的http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(r *Requester) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Requester) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetricSink 设置指标输出
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(r *Requester) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// New 创建Requester
func New(opts ...Option) *Requester {
	r := &Requester{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     logger.NewNop(),
		sink:       imetrics.OrDefault(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout 返回单次请求超时
func (r *Requester) Timeout() time.Duration {
	return r.timeout
}

// Send 异步发送请求，立即返回Call
func (r *Requester) Send(ctx context.Context, address, endpoint string, p schema.Payload) *Call {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	call := newCall(address, endpoint, cancel)

	go func() {
		defer cancel()
		call.resolve(r.do(ctx, address, endpoint, p))
	}()

	return call
}

// Do 同步发送请求并等待结果
func (r *Requester) Do(ctx context.Context, address, endpoint string, p schema.Payload) result.Result[*schema.Object] {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.do(ctx, address, endpoint, p)
}

func (r *Requester) do(ctx context.Context, address, endpoint string, p schema.Payload) result.Result[*schema.Object] {
	start := time.Now()
	labels := []metrics.Label{imetrics.L(imetrics.LabelEndpoint, endpoint)}
	r.sink.IncrCounterWithLabels(imetrics.MetricRequestCount, 1, labels)

	res := r.roundTrip(ctx, address, endpoint, p)
	imetrics.MeasureSince(r.sink, imetrics.MetricRequestLatency, start, labels...)

	if res.IsError() {
		r.sink.IncrCounterWithLabels(imetrics.MetricRequestErrorCount, 1, labels)
		r.logger.Debug("请求失败",
			zap.String("address", address),
			zap.String("endpoint", endpoint),
			zap.String("error", res.Err()),
		)
	}
	return res
}

func (r *Requester) roundTrip(ctx context.Context, address, endpoint string, p schema.Payload) result.Result[*schema.Object] {
	target, err := BuildURL(address, endpoint, p)
	if err != nil {
		return result.Errorf[*schema.Object]("request failed: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return result.Errorf[*schema.Object]("request failed: %v", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return failure(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return failure(ctx, err)
	}

	var res result.Result[*schema.Object]
	if err := json.Unmarshal(body, &res); err != nil {
		return result.Errorf[*schema.Object]("malformed response: %v", err)
	}
	if res.IsOk() && res.Unwrap() == nil {
		return result.Ok(schema.New())
	}
	return res
}

// failure 区分超时、取消和其他传输错误
func failure(ctx context.Context, err error) result.Result[*schema.Object] {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return result.Error[*schema.Object]("timeout")
	case errors.Is(ctx.Err(), context.Canceled):
		return result.Error[*schema.Object]("cancelled")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return result.Error[*schema.Object]("timeout")
	}
	return result.Errorf[*schema.Object]("request failed: %v", err)
}

// BuildURL 拼接请求地址。address可以是host:port或完整的基础URL，
// 空endpoint对应根路径
func BuildURL(address, endpoint string, p schema.Payload) (string, error) {
	if address == "" {
		return "", errors.New("地址不能为空")
	}
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("序列化负载失败: %w", err)
	}

	query := url.Values{}
	query.Set(PayloadParam, string(data))
	return fmt.Sprintf("%s/%s?%s", base, strings.TrimLeft(endpoint, "/"), query.Encode()), nil
}
