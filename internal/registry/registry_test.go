package registry

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/meshlite/internal/snapshot"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/requester"
	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
	"github.com/hewenyu/meshlite/pkg/service"
)

func testSink() metrics.MetricSink {
	return metrics.NewInmemSink(time.Second, time.Minute)
}

func startRegistry(t *testing.T, cfg Config, opts ...Option) *Registry {
	t.Helper()
	opts = append(opts, WithMetricSink(testSink()))
	r := New(cfg, opts...)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

func startMember(t *testing.T, r *Registry, name string, tags []string, opts ...service.Option) *service.Service {
	t.Helper()
	opts = append(opts, service.WithMetricSink(testSink()))
	s := service.New(service.Config{
		Name:            name,
		Tags:            tags,
		Register:        true,
		RegistryURL:     r.Address(),
		RefreshInterval: time.Hour,
	}, nil, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Dispose(context.Background()) })
	return s
}

// deadAddress 返回一个没有监听者的地址
func deadAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func deadEntry(t *testing.T, name string) model.ServiceEntry {
	return model.ServiceEntry{
		ID:                 uuid.New(),
		Name:               name,
		Tags:               []string{},
		Address:            deadAddress(t),
		RegisterIntervalMs: 1,
	}
}

func memberState(r *Registry, id uuid.UUID) (member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return member{}, false
	}
	return *m, true
}

func ids(entries []model.ServiceEntry) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestAddGetRemoveOverTheWire(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: time.Hour, PingTimeout: 200 * time.Millisecond})
	req := requester.New(requester.WithTimeout(time.Second), requester.WithMetricSink(testSink()))
	ctx := context.Background()

	entry := deadEntry(t, "alpha")
	p := entry.ToObject().Validate(model.EntrySchema).Unwrap()

	res := req.Do(ctx, r.Address(), "add", p)
	require.True(t, res.IsOk(), "%v", res)
	services, err := model.EntriesFromList(res.Unwrap().GetList("services"))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{entry.ID}, ids(services))

	res = req.Do(ctx, r.Address(), "get", schema.Empty())
	require.True(t, res.IsOk(), "%v", res)
	services, err = model.EntriesFromList(res.Unwrap().GetList("services"))
	require.NoError(t, err)
	require.Len(t, services, 1, "add之后get应恰好包含一次")
	assert.Equal(t, entry.Address, services[0].Address)

	res = req.Do(ctx, r.Address(), "add", p)
	require.True(t, res.IsError())
	assert.Equal(t, "already registered", res.Err())
	assert.Len(t, r.Services(), 1, "重复add不应产生重复条目")

	res = req.Do(ctx, r.Address(), "remove", p)
	require.True(t, res.IsOk(), "%v", res)
	assert.Empty(t, r.Services())

	res = req.Do(ctx, r.Address(), "remove", p)
	require.True(t, res.IsError())
	assert.Equal(t, "not found", res.Err())

	res = req.Do(ctx, r.Address(), "add", schema.New().Put("name", "x").Validate(schema.Schema{"name": schema.String()}).Unwrap())
	require.True(t, res.IsError())
	assert.Equal(t, "missing field address", res.Err())
}

func TestAddAndRemoveSentinels(t *testing.T) {
	r := New(Config{}, WithMetricSink(testSink()))
	entry := deadEntry(t, "beta")

	_, err := r.Add(entry)
	require.NoError(t, err)
	_, err = r.Add(entry)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	require.NoError(t, r.Remove(entry.ID))
	assert.ErrorIs(t, r.Remove(entry.ID), ErrNotFound)

	r.notifications.Wait()
}

func TestEndToEndRequestByTag(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: time.Hour})
	a := startMember(t, r, "A", []string{"x"}, service.WithSelfExclusion())
	b := startMember(t, r, "B", []string{"x"})
	ctx := context.Background()

	assert.ElementsMatch(t, []uuid.UUID{a.ID(), b.ID()}, ids(r.Services()))

	call, err := a.RequestByTag(ctx, "x", service.EndpointPing, schema.Empty())
	require.NoError(t, err)
	res := call.Result()
	require.True(t, res.IsOk(), "%v", res)
	assert.Equal(t, "ok", res.Unwrap().GetString("status"))

	// 排除自身时只能解析到B
	target, ok := a.ServiceByTag(ctx, "x")
	require.True(t, ok)
	assert.Equal(t, b.ID(), target.ID)

	call, err = b.RequestByTag(ctx, "x", service.EndpointPing, schema.Empty())
	require.NoError(t, err)
	res = call.Result()
	require.True(t, res.IsOk(), "%v", res)
	assert.Equal(t, "ok", res.Unwrap().GetString("status"))

	_, err = a.RequestByTag(ctx, "y", service.EndpointPing, schema.Empty())
	assert.ErrorIs(t, err, service.ErrNoSuchService)
}

func TestEndToEndAddedEventReachesExistingMembers(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: time.Hour})

	opened := make(chan model.ServiceEntry, 8)
	a := startMember(t, r, "A", nil, service.WithSelfExclusion(),
		service.WithOnServiceOpen(func(e model.ServiceEntry) { opened <- e }))
	b := startMember(t, r, "B", nil)

	select {
	case e := <-opened:
		assert.Equal(t, b.ID(), e.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("A应收到B上线的通知")
	}
	_, ok := a.Cache().Get(b.ID())
	assert.True(t, ok)

	require.NoError(t, b.Dispose(context.Background()))
	require.Eventually(t, func() bool {
		_, ok := a.Cache().Get(b.ID())
		return !ok
	}, 3*time.Second, 10*time.Millisecond, "B注销后A应收到REMOVED")
}

func okEndpoint() service.Endpoint {
	return service.Endpoint{
		Handler: func(ctx context.Context, p schema.Payload) result.Result[*schema.Object] {
			return result.Ok(schema.New())
		},
	}
}

func TestLivenessEvictsUnresponsiveMember(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: 50 * time.Millisecond, GracePeriod: time.Hour, PingTimeout: 200 * time.Millisecond})

	closed := make(chan model.ServiceEntry, 4)
	startMember(t, r, "observer", nil,
		service.WithOnServiceClose(func(e model.ServiceEntry) { closed <- e }))

	// victim 不会主动注销
	victim := service.New(service.Config{Name: "victim", RegisterInterval: 50 * time.Millisecond}, service.Endpoints{
		service.EndpointSvcEvent:     okEndpoint(),
		service.EndpointRegisterPing: okEndpoint(),
	}, service.WithMetricSink(testSink()))
	require.NoError(t, victim.Start(context.Background()))
	entry := victim.Entry()

	_, err := r.Add(entry)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m, ok := memberState(r, entry.ID)
		return ok && m.responded
	}, 3*time.Second, 10*time.Millisecond, "存活的成员应响应检查")

	require.NoError(t, victim.Dispose(context.Background()))
	require.Eventually(t, func() bool {
		_, ok := memberState(r, entry.ID)
		return !ok
	}, 3*time.Second, 10*time.Millisecond, "停止响应的成员应被驱逐")

	select {
	case e := <-closed:
		assert.Equal(t, entry.ID, e.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("其他成员应收到REMOVED")
	}
}

func TestGracePeriod(t *testing.T) {
	ctx := context.Background()

	lenient := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: time.Hour, PingTimeout: 100 * time.Millisecond})
	ghost := deadEntry(t, "ghost")
	_, err := lenient.Add(ghost)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	lenient.tick(ctx)
	m, ok := memberState(lenient, ghost.ID)
	require.True(t, ok, "宽限期内未响应的成员应保留")
	assert.False(t, m.responded)

	strict := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: 20 * time.Millisecond, PingTimeout: 100 * time.Millisecond})
	_, err = strict.Add(ghost)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	strict.tick(ctx)
	_, ok = memberState(strict, ghost.ID)
	assert.False(t, ok, "宽限期过后应被驱逐")
}

func TestFailedNotificationRequestsCacheRefresh(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: time.Hour, PingTimeout: 500 * time.Millisecond})

	var dirtyPings atomic.Int32
	rec := service.New(service.Config{Name: "rec", RegisterInterval: time.Millisecond}, service.Endpoints{
		service.EndpointSvcEvent: {
			Handler: func(ctx context.Context, p schema.Payload) result.Result[*schema.Object] {
				return result.Error[*schema.Object]("busy")
			},
		},
		service.EndpointRegisterPing: {
			Schema: schema.Schema{"isCacheDirty": schema.Boolean()},
			Handler: func(ctx context.Context, p schema.Payload) result.Result[*schema.Object] {
				if p.GetBool("isCacheDirty") {
					dirtyPings.Add(1)
				}
				return result.Ok(schema.New())
			},
		},
	}, service.WithMetricSink(testSink()))
	require.NoError(t, rec.Start(context.Background()))
	defer rec.Dispose(context.Background())

	_, err := r.Add(rec.Entry())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m, _ := memberState(r, rec.ID())
		return m.cacheDirty
	}, 3*time.Second, 10*time.Millisecond, "通知失败应标记成员缓存为脏")

	r.tick(context.Background())
	assert.Equal(t, int32(1), dirtyPings.Load(), "下次检查应要求刷新缓存")
	m, ok := memberState(r, rec.ID())
	require.True(t, ok)
	assert.False(t, m.cacheDirty)
	assert.True(t, m.responded)
}

func TestSnapshotSeedsTable(t *testing.T) {
	store := snapshot.NewMemory()
	cfg := Config{TickInterval: time.Hour, GracePeriod: time.Hour, PingTimeout: 100 * time.Millisecond}

	first := New(cfg, WithSnapshotStore(store), WithMetricSink(testSink()))
	require.NoError(t, first.Start(context.Background()))

	entry := deadEntry(t, "persisted")
	_, err := first.Add(entry)
	require.NoError(t, err)
	first.tick(context.Background())
	assert.GreaterOrEqual(t, store.Saves(), 1, "变化后应保存快照")
	require.NoError(t, first.Stop(context.Background()))

	second := startRegistry(t, cfg, WithSnapshotStore(store))
	assert.Equal(t, []uuid.UUID{entry.ID}, ids(second.Services()))
	m, ok := memberState(second, entry.ID)
	require.True(t, ok)
	assert.False(t, m.responded, "恢复的成员从宽限期开始")
}

func TestCancelledTickKeepsMembers(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: NoGracePeriod, PingTimeout: 100 * time.Millisecond})

	entry := deadEntry(t, "stopping")
	_, err := r.Add(entry)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.tick(ctx)

	m, ok := memberState(r, entry.ID)
	require.True(t, ok, "停止时被取消的检查不应驱逐成员")
	assert.False(t, m.checking)
}

func TestGracePeriodDefaultsWhenUnset(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, PingTimeout: 100 * time.Millisecond})
	assert.Equal(t, DefaultGracePeriod, r.cfg.GracePeriod)

	slow := deadEntry(t, "slow-start")
	_, err := r.Add(slow)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.tick(context.Background())
	_, ok := memberState(r, slow.ID)
	assert.True(t, ok, "未配置宽限期时使用默认值，尚未响应的成员应保留")

	assert.Equal(t, time.Duration(0), New(Config{GracePeriod: NoGracePeriod}).cfg.GracePeriod)
}

func TestEventsReachRecipientInMutationOrder(t *testing.T) {
	r := startRegistry(t, Config{TickInterval: time.Hour, GracePeriod: time.Hour, PingTimeout: 200 * time.Millisecond})

	var mu sync.Mutex
	var got []string
	rec := service.New(service.Config{Name: "recorder"}, service.Endpoints{
		service.EndpointSvcEvent: {
			Schema: model.EventSchema,
			Handler: func(ctx context.Context, p schema.Payload) result.Result[*schema.Object] {
				mu.Lock()
				got = append(got, p.GetString("event")+" "+p.GetObject("service").GetString("id"))
				mu.Unlock()
				return result.Ok(schema.New())
			},
		},
	}, service.WithMetricSink(testSink()))
	require.NoError(t, rec.Start(context.Background()))
	defer rec.Dispose(context.Background())

	_, err := r.Add(rec.Entry())
	require.NoError(t, err)

	want := []string{"ADDED " + rec.ID().String()}
	for i := 0; i < 10; i++ {
		e := deadEntry(t, "flapping")
		_, err := r.Add(e)
		require.NoError(t, err)
		require.NoError(t, r.Remove(e.ID))
		want = append(want, "ADDED "+e.ID.String(), "REMOVED "+e.ID.String())
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got, "同一接收者收到的通知应与成员表修改顺序一致")
}

func TestStopClosesListenerBeforeFinalSnapshot(t *testing.T) {
	store := snapshot.NewMemory()
	r := New(Config{TickInterval: time.Hour, GracePeriod: time.Hour, PingTimeout: 100 * time.Millisecond},
		WithSnapshotStore(store), WithMetricSink(testSink()))
	require.NoError(t, r.Start(context.Background()))
	addr := r.Address()

	entry := deadEntry(t, "late-joiner")
	add := requester.New(requester.WithTimeout(time.Second))
	res := add.Do(context.Background(), addr, "add", entry.ToObject().Validate(model.EntrySchema).Unwrap())
	require.True(t, res.IsOk(), "%v", res)

	require.NoError(t, r.Stop(context.Background()))

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{entry.ID}, ids(saved), "停止前的变更应进入最终快照")

	res = add.Do(context.Background(), addr, "get", schema.Empty())
	assert.True(t, res.IsError(), "停止后不再接受请求")
}
