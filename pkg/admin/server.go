// Package admin serves operational endpoints over fasthttp:
//
//	GET /metrics  Prometheus exposition
//	GET /stats    JSON snapshot from every registered StatsFunc
//	GET /healthz  liveness
package admin

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/syncpool/pkg/core"
	"github.com/fluxorio/syncpool/pkg/core/failfast"
	promobs "github.com/fluxorio/syncpool/pkg/observability/prometheus"
)

// StatsFunc returns a JSON-encodable snapshot of one component.
type StatsFunc func() interface{}

// Config configures the admin server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	addr    string
	server  *fasthttp.Server
	metrics fasthttp.RequestHandler
	logger  core.Logger
	started time.Time

	mu    sync.RWMutex
	stats map[string]StatsFunc
}

// NewServer creates an admin server exposing the metrics gathered by g.
func NewServer(config Config, g prometheus.Gatherer, logger core.Logger) *Server {
	failfast.NotNil(g, "metrics gatherer")
	if config.Addr == "" {
		config.Addr = "127.0.0.1:9090"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = core.Named("admin")
	}

	s := &Server{
		addr:    config.Addr,
		metrics: fasthttpadaptor.NewFastHTTPHandler(promobs.Handler(g)),
		logger:  logger,
		started: time.Now(),
		stats:   make(map[string]StatsFunc),
	}
	s.server = &fasthttp.Server{
		Handler:               s.Handler,
		Name:                  "syncpool-admin",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		NoDefaultServerHeader: true,
		ReduceMemoryUsage:     true,
	}
	return s
}

// Register adds a stats section. Registering a name twice replaces it.
func (s *Server) Register(name string, fn StatsFunc) {
	failfast.NotNil(fn, "stats func")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name] = fn
}

// Handler routes admin requests.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	switch string(ctx.Path()) {
	case "/metrics":
		s.metrics(ctx)
	case "/stats":
		s.handleStats(ctx)
	case "/healthz":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok\n")
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	s.mu.RLock()
	names := make([]string, 0, len(s.stats))
	for name := range s.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]interface{}, len(names)+1)
	for _, name := range names {
		out[name] = s.stats[name]()
	}
	s.mu.RUnlock()
	out["uptime_seconds"] = int64(time.Since(s.started).Seconds())

	data, err := core.JSONEncode(out)
	if err != nil {
		s.logger.Errorf("encode stats: %v", err)
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

// Start listens on the configured address. It blocks until Stop.
func (s *Server) Start() error {
	s.logger.Infof("admin server listening on %s", s.addr)
	if err := s.server.ListenAndServe(s.addr); err != nil {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Serve serves on ln. It blocks until Stop.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}
