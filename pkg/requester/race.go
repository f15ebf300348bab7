package requester

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// FirstSuccess 等待一组请求，第一个成功结果触发onSuccess且只触发一次，
// 随后取消其余请求。全部失败时onFailure收到按calls顺序排列的所有结果。
// 函数立即返回，回调在后台协程中执行，两个回调都可以为nil
func FirstSuccess(calls []*Call, onSuccess func(*schema.Object), onFailure func([]result.Result[*schema.Object])) {
	if len(calls) == 0 {
		if onFailure != nil {
			go onFailure(nil)
		}
		return
	}

	var (
		won     atomic.Bool
		pending = int32(len(calls))
		mu      sync.Mutex
		results = make([]result.Result[*schema.Object], len(calls))
	)

	for i, call := range calls {
		go func(i int, call *Call) {
			res := call.Result()

			if res.IsOk() && won.CompareAndSwap(false, true) {
				for j, other := range calls {
					if j != i {
						other.Cancel()
					}
				}
				if onSuccess != nil {
					onSuccess(res.Unwrap())
				}
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()

			if atomic.AddInt32(&pending, -1) == 0 && !won.Load() && onFailure != nil {
				mu.Lock()
				all := make([]result.Result[*schema.Object], len(results))
				copy(all, results)
				mu.Unlock()
				onFailure(all)
			}
		}(i, call)
	}
}

// Race 阻塞等待第一个成功结果。全部失败时返回合并后的错误，
// ctx结束时取消所有请求
func Race(ctx context.Context, calls []*Call) result.Result[*schema.Object] {
	out := make(chan result.Result[*schema.Object], 1)

	FirstSuccess(calls,
		func(obj *schema.Object) {
			out <- result.Ok(obj)
		},
		func(results []result.Result[*schema.Object]) {
			out <- result.Error[*schema.Object](combineErrors(results))
		},
	)

	select {
	case res := <-out:
		return res
	case <-ctx.Done():
		for _, call := range calls {
			call.Cancel()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result.Error[*schema.Object]("timeout")
		}
		return result.Error[*schema.Object]("cancelled")
	}
}

func combineErrors(results []result.Result[*schema.Object]) string {
	if len(results) == 0 {
		return "all requests failed: no requests"
	}
	msgs := make([]string, 0, len(results))
	for _, res := range results {
		if res.IsError() {
			msgs = append(msgs, res.Err())
		}
	}
	return "all requests failed: " + strings.Join(msgs, "; ")
}
