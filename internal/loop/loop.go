package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/logger"
)

// Loop 以固定间隔执行任务：执行一轮，睡眠剩余时间。
// 一轮耗时超过间隔时下一轮立即开始并记录告警，轮次之间不会重叠
type Loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   logger.Logger
	sink     metrics.MetricSink

	overruns atomic.Int64
	ticks    atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New 创建周期任务，logger和sink可以为nil
func New(name string, interval time.Duration, fn func(ctx context.Context), log logger.Logger, sink metrics.MetricSink) *Loop {
	if log == nil {
		log = logger.NewNop()
	}
	return &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   log,
		sink:     imetrics.OrDefault(sink),
		done:     make(chan struct{}),
	}
}

// Start 在独立的协程中启动循环，重复调用无效
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop 停止循环并等待当前一轮结束
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	<-l.done
}

// Overruns 返回超出间隔的轮次数
func (l *Loop) Overruns() int64 {
	return l.overruns.Load()
}

// Ticks 返回已完成的轮次数
func (l *Loop) Ticks() int64 {
	return l.ticks.Load()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		l.fn(ctx)
		l.ticks.Add(1)

		wait := l.interval - time.Since(start)
		if wait <= 0 {
			l.overruns.Add(1)
			l.sink.IncrCounterWithLabels(imetrics.MetricLoopOverrunCount, 1,
				[]metrics.Label{imetrics.L(imetrics.LabelLoop, l.name)})
			l.logger.Warn("周期任务耗时超过间隔，立即开始下一轮",
				zap.String("loop", l.name),
				zap.Duration("interval", l.interval),
				zap.Duration("elapsed", time.Since(start)),
			)
			wait = 0
		}
		timer.Reset(wait)
	}
}
