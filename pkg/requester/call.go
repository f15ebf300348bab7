package requester

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// Call 是一次请求的一次性结果，只会被解析一次
type Call struct {
	Address  string
	Endpoint string

	done      chan struct{}
	once      sync.Once
	res       result.Result[*schema.Object]
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func newCall(address, endpoint string, cancel context.CancelFunc) *Call {
	return &Call{
		Address:  address,
		Endpoint: endpoint,
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

// Resolved 返回一个已经完成的Call，用于无需网络即可得出结果的情况
func Resolved(res result.Result[*schema.Object]) *Call {
	c := newCall("", "", func() {})
	c.resolve(res)
	return c
}

// resolve 设置结果，只有第一次调用生效
func (c *Call) resolve(res result.Result[*schema.Object]) bool {
	resolved := false
	c.once.Do(func() {
		c.res = res
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done 返回在结果就绪时关闭的channel
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result 返回结果，未完成时阻塞
func (c *Call) Result() result.Result[*schema.Object] {
	<-c.done
	return c.res
}

// Wait 等待结果或ctx结束，ctx结束时不会取消请求
func (c *Call) Wait(ctx context.Context) (result.Result[*schema.Object], error) {
	select {
	case <-c.done:
		return c.res, nil
	case <-ctx.Done():
		return result.Result[*schema.Object]{}, ctx.Err()
	}
}

// Cancel 取消尚未完成的请求，结果为Error("cancelled")
func (c *Call) Cancel() {
	if c.resolve(result.Error[*schema.Object]("cancelled")) {
		c.cancelled.Store(true)
	}
	c.cancel()
}

// Cancelled 请求是否在完成前被取消
func (c *Call) Cancelled() bool {
	return c.cancelled.Load()
}
