package admin

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
	promobs "github.com/fluxorio/syncpool/pkg/observability/prometheus"
)

func startTestServer(t *testing.T) (*Server, *fasthttp.Client, *promobs.Metrics) {
	t.Helper()

	reg := promobs.NewRegistry()
	metrics := promobs.NewMetrics(reg)
	s := NewServer(Config{}, reg, zap.NewNop().Sugar())

	ln := fasthttputil.NewInmemoryListener()
	go func() {
		_ = s.Serve(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
		_ = ln.Close()
	})

	client := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return ln.Dial()
		},
	}
	return s, client, metrics
}

func get(t *testing.T, client *fasthttp.Client, path string) (int, string, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://admin" + path)
	if err := client.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp.StatusCode(), string(resp.Header.ContentType()), string(resp.Body())
}

func TestServer_Healthz(t *testing.T) {
	_, client, _ := startTestServer(t)

	status, _, body := get(t, client, "/healthz")
	if status != fasthttp.StatusOK || body != "ok\n" {
		t.Errorf("GET /healthz = %d %q", status, body)
	}

	if status, _, _ := get(t, client, "/nope"); status != fasthttp.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", status)
	}
}

func TestServer_MetricsExposesPool(t *testing.T) {
	_, client, metrics := startTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := concurrency.NewWorkerPool(ctx, 2, concurrency.WithName("admin-pool"), concurrency.WithObserver(metrics))
	if err := metrics.TrackPool(pool); err != nil {
		t.Fatalf("TrackPool() error = %v", err)
	}

	done := make(chan struct{})
	pool.Execute(concurrency.JobFunc(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job")
	}

	status, contentType, body := get(t, client, "/metrics")
	if status != fasthttp.StatusOK {
		t.Fatalf("GET /metrics = %d", status)
	}
	if !strings.HasPrefix(contentType, "text/plain") {
		t.Errorf("Content-Type = %q", contentType)
	}
	for _, want := range []string{
		`syncpool_pool_jobs_queued_total{pool="admin-pool"} 1`,
		`syncpool_pool_queue_length{pool="admin-pool"}`,
		`syncpool_pool_workers{pool="admin-pool",state=`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServer_Stats(t *testing.T) {
	s, client, _ := startTestServer(t)

	buf := concurrency.NewBoundedBuffer(4)
	_ = buf.Put(context.Background(), 7)
	s.Register("buffer", func() interface{} {
		return map[string]int{"len": buf.Len(), "slots": buf.Slots()}
	})

	status, contentType, body := get(t, client, "/stats")
	if status != fasthttp.StatusOK {
		t.Fatalf("GET /stats = %d", status)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}

	var got struct {
		Buffer struct {
			Len   int `json:"len"`
			Slots int `json:"slots"`
		} `json:"buffer"`
		Uptime *int64 `json:"uptime_seconds"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, body)
	}
	if got.Buffer.Len != 1 || got.Buffer.Slots != 3 {
		t.Errorf("buffer stats = %+v, want len 1 slots 3", got.Buffer)
	}
	if got.Uptime == nil {
		t.Error("uptime_seconds missing")
	}
}

func TestServer_RejectsPost(t *testing.T) {
	_, client, _ := startTestServer(t)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI("http://admin/stats")

	if err := client.DoTimeout(req, resp, 2*time.Second); err != nil {
		t.Fatalf("POST /stats: %v", err)
	}
	if resp.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Errorf("POST /stats = %d, want 405", resp.StatusCode())
	}
}
