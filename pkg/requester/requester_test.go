package requester

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
)

func testPayload(t *testing.T, info string) schema.Payload {
	t.Helper()
	res := schema.New().Put("info", info).Validate(schema.Schema{"info": schema.String()})
	require.True(t, res.IsOk())
	return res.Unwrap()
}

func newTestRequester(timeout time.Duration) *Requester {
	return New(WithTimeout(timeout), WithMetricSink(metrics.NewInmemSink(time.Second, time.Minute)))
}

// echoServer 把收到的路径和负载原样放进ok结果
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := r.URL.Query().Get(PayloadParam)
		fmt.Fprintf(w, `{"ok":{"path":%q,"payload":%s}}`, r.URL.Path, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixedServer(t *testing.T, delay time.Duration, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoSuccess(t *testing.T) {
	srv := echoServer(t)
	r := newTestRequester(time.Second)

	res := r.Do(context.Background(), srv.URL, "echo", testPayload(t, "hello"))
	require.True(t, res.IsOk(), "请求应成功: %v", res)

	obj := res.Unwrap()
	assert.Equal(t, "/echo", obj.GetString("path"))
	assert.Equal(t, "hello", obj.GetObject("payload").GetString("info"))
}

func TestDoRootEndpointAndHostPort(t *testing.T) {
	srv := echoServer(t)
	r := newTestRequester(time.Second)

	hostPort := strings.TrimPrefix(srv.URL, "http://")
	res := r.Do(context.Background(), hostPort, "", testPayload(t, "x"))
	require.True(t, res.IsOk(), "%v", res)
	assert.Equal(t, "/", res.Unwrap().GetString("path"))
}

func TestDoErrorResult(t *testing.T) {
	srv := fixedServer(t, 0, `{"error":"unknown endpoint nope"}`)
	res := newTestRequester(time.Second).Do(context.Background(), srv.URL, "nope", testPayload(t, "x"))
	require.True(t, res.IsError())
	assert.Equal(t, "unknown endpoint nope", res.Err())
}

func TestDoMalformedResponse(t *testing.T) {
	srv := fixedServer(t, 0, `<html>not json</html>`)
	res := newTestRequester(time.Second).Do(context.Background(), srv.URL, "x", testPayload(t, "x"))
	require.True(t, res.IsError())
	assert.True(t, strings.HasPrefix(res.Err(), "malformed response"), res.Err())
}

func TestDoTimeout(t *testing.T) {
	srv := fixedServer(t, 500*time.Millisecond, `{"ok":{}}`)
	res := newTestRequester(50*time.Millisecond).Do(context.Background(), srv.URL, "slow", testPayload(t, "x"))
	require.True(t, res.IsError())
	assert.Equal(t, "timeout", res.Err())
}

func TestDoConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	res := newTestRequester(time.Second).Do(context.Background(), addr, "x", testPayload(t, "x"))
	require.True(t, res.IsError())
	assert.True(t, strings.HasPrefix(res.Err(), "request failed"), res.Err())
}

func TestSendAndCancel(t *testing.T) {
	srv := fixedServer(t, time.Second, `{"ok":{}}`)
	r := newTestRequester(5 * time.Second)

	call := r.Send(context.Background(), srv.URL, "slow", testPayload(t, "x"))
	select {
	case <-call.Done():
		t.Fatal("请求不应立即完成")
	default:
	}

	call.Cancel()
	res := call.Result()
	require.True(t, res.IsError())
	assert.Equal(t, "cancelled", res.Err())
	assert.True(t, call.Cancelled())

	// 已完成的请求不会被再次解析
	call.Cancel()
	assert.Equal(t, "cancelled", call.Result().Err())
}

func TestCallWaitHonoursContext(t *testing.T) {
	srv := fixedServer(t, time.Second, `{"ok":{}}`)
	call := newTestRequester(5*time.Second).Send(context.Background(), srv.URL, "slow", testPayload(t, "x"))
	defer call.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildURL(t *testing.T) {
	p := testPayload(t, "a b")

	got, err := BuildURL("http://10.0.0.1:8080/", "info", p)
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", u.Host)
	assert.Equal(t, "/info", u.Path)
	assert.JSONEq(t, `{"info":"a b"}`, u.Query().Get(PayloadParam))

	got, err = BuildURL("localhost:9000", "", p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "http://localhost:9000/?json="), got)

	_, err = BuildURL("", "x", p)
	assert.Error(t, err)
}

func TestFirstSuccessInvokesOnceAndCancelsRest(t *testing.T) {
	fast := fixedServer(t, 0, `{"ok":{"who":"fast"}}`)
	slow1 := fixedServer(t, 2*time.Second, `{"ok":{"who":"slow"}}`)
	slow2 := fixedServer(t, 2*time.Second, `{"ok":{"who":"slow"}}`)
	r := newTestRequester(5 * time.Second)

	calls := []*Call{
		r.Send(context.Background(), slow1.URL, "", testPayload(t, "x")),
		r.Send(context.Background(), fast.URL, "", testPayload(t, "x")),
		r.Send(context.Background(), slow2.URL, "", testPayload(t, "x")),
	}

	var successes, failures atomic.Int32
	winner := make(chan string, 3)
	FirstSuccess(calls, func(obj *schema.Object) {
		successes.Add(1)
		winner <- obj.GetString("who")
	}, func([]result.Result[*schema.Object]) {
		failures.Add(1)
	})

	select {
	case who := <-winner:
		assert.Equal(t, "fast", who)
	case <-time.After(time.Second):
		t.Fatal("应收到成功回调")
	}

	for _, i := range []int{0, 2} {
		res := calls[i].Result()
		assert.Equal(t, "cancelled", res.Err())
		assert.True(t, calls[i].Cancelled())
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), successes.Load())
	assert.Zero(t, failures.Load())
}

func TestFirstSuccessAllFail(t *testing.T) {
	a := fixedServer(t, 0, `{"error":"a failed"}`)
	b := fixedServer(t, 10*time.Millisecond, `{"error":"b failed"}`)
	r := newTestRequester(time.Second)

	calls := []*Call{
		r.Send(context.Background(), a.URL, "", testPayload(t, "x")),
		r.Send(context.Background(), b.URL, "", testPayload(t, "x")),
	}

	got := make(chan []result.Result[*schema.Object], 1)
	FirstSuccess(calls, func(*schema.Object) {
		t.Error("不应有成功回调")
	}, func(results []result.Result[*schema.Object]) {
		got <- results
	})

	select {
	case results := <-got:
		require.Len(t, results, 2)
		assert.Equal(t, "a failed", results[0].Err())
		assert.Equal(t, "b failed", results[1].Err())
	case <-time.After(time.Second):
		t.Fatal("应收到失败回调")
	}
}

func TestRace(t *testing.T) {
	ok := fixedServer(t, 20*time.Millisecond, `{"ok":{"n":1}}`)
	bad := fixedServer(t, 0, `{"error":"boom"}`)
	r := newTestRequester(time.Second)

	res := Race(context.Background(), []*Call{
		r.Send(context.Background(), bad.URL, "", testPayload(t, "x")),
		r.Send(context.Background(), ok.URL, "", testPayload(t, "x")),
	})
	require.True(t, res.IsOk(), "%v", res)
	assert.Equal(t, int64(1), res.Unwrap().GetInt("n"))

	res = Race(context.Background(), []*Call{
		r.Send(context.Background(), bad.URL, "", testPayload(t, "x")),
		r.Send(context.Background(), bad.URL, "", testPayload(t, "x")),
	})
	require.True(t, res.IsError())
	assert.Equal(t, "all requests failed: boom; boom", res.Err())

	res = Race(context.Background(), nil)
	assert.Equal(t, "all requests failed: no requests", res.Err())
}

func TestResolvedCall(t *testing.T) {
	call := Resolved(result.Error[*schema.Object]("no such service"))
	<-call.Done()
	assert.Equal(t, "no such service", call.Result().Err())
	call.Cancel()
	assert.False(t, call.Cancelled())
}
