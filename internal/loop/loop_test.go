package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsAtInterval(t *testing.T) {
	var calls atomic.Int32
	l := New("test", 20*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	}, nil, metrics.NewInmemSink(time.Second, time.Minute))

	l.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	l.Stop()

	stopped := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "停止后不应再执行")
	assert.Zero(t, l.Overruns())
}

func TestLoopRecordsOverrunWithoutOverlap(t *testing.T) {
	var running, maxRunning atomic.Int32
	l := New("slow", 5*time.Millisecond, func(ctx context.Context) {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(15 * time.Millisecond)
		running.Add(-1)
	}, nil, metrics.NewInmemSink(time.Second, time.Minute))

	l.Start(context.Background())
	require.Eventually(t, func() bool { return l.Overruns() >= 2 }, 2*time.Second, 5*time.Millisecond)
	l.Stop()

	assert.Equal(t, int32(1), maxRunning.Load(), "轮次之间不应重叠")
	assert.GreaterOrEqual(t, l.Ticks(), l.Overruns())
}

func TestLoopStopWithoutStart(t *testing.T) {
	l := New("idle", time.Second, func(ctx context.Context) {}, nil, nil)
	assert.NotPanics(t, l.Stop)
}
