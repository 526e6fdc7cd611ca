package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fluxorio/syncpool/pkg/admin"
	"github.com/fluxorio/syncpool/pkg/config"
	"github.com/fluxorio/syncpool/pkg/core/concurrency"
	promobs "github.com/fluxorio/syncpool/pkg/observability/prometheus"
	"github.com/fluxorio/syncpool/pkg/observability/tracing"
	"github.com/fluxorio/syncpool/pkg/timebus"
	"github.com/fluxorio/syncpool/pkg/timeserver"
)

const shutdownTimeout = 5 * time.Second

// app is the running service assembled from an AppConfig.
type app struct {
	cfg    *config.AppConfig
	logger *zap.SugaredLogger

	poolCtx    context.Context
	poolCancel context.CancelFunc
	pool       *concurrency.FixedWorkerPool
	metrics    *promobs.Metrics

	timeLn     net.Listener
	timeServer *timeserver.Server

	natsServer *natssrv.Server
	nc         *nats.Conn
	responder  *timebus.Responder

	adminLn     net.Listener
	adminServer *admin.Server

	shutdownTracing tracing.ShutdownFn

	closeOnce sync.Once
	closeErr  error
}

// newApp builds every enabled component and binds its listeners, so address
// errors surface before run is called.
func newApp(cfg *config.AppConfig, logger *zap.SugaredLogger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	_, a.shutdownTracing, err = tracing.Setup(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		PrettyPrint: cfg.Tracing.PrettyPrint,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	reg := promobs.NewRegistry()
	a.metrics = promobs.NewMetrics(reg)

	a.poolCtx, a.poolCancel = context.WithCancel(context.Background())
	a.pool = concurrency.NewWorkerPool(a.poolCtx, cfg.Pool.Workers,
		concurrency.WithName(cfg.Pool.Name),
		concurrency.WithLogger(logger.Named("pool")),
		concurrency.WithObserver(a.metrics),
	)
	if err = a.metrics.TrackPool(a.pool); err != nil {
		return nil, fmt.Errorf("track pool: %w", err)
	}

	if cfg.TimeServer.Enabled {
		if a.timeLn, err = net.Listen("tcp", cfg.TimeServer.Addr); err != nil {
			return nil, fmt.Errorf("listen time server: %w", err)
		}
		a.timeServer = timeserver.NewServer(timeserver.Config{
			Addr:         cfg.TimeServer.Addr,
			ReadTimeout:  cfg.TimeServer.ReadTimeout,
			WriteTimeout: cfg.TimeServer.WriteTimeout,
			MaxLineBytes: cfg.TimeServer.MaxLineBytes,
			Recorder:     a.metrics,
		}, logger.Named("timeserver"))
	}

	if cfg.NATS.Enabled {
		if err = a.connectNATS(); err != nil {
			return nil, err
		}
		a.responder = timebus.NewResponder(a.nc, a.pool, timebus.Config{
			Prefix:     cfg.NATS.SubjectPrefix,
			QueueGroup: cfg.NATS.QueueGroup,
			Recorder:   a.metrics,
		}, logger.Named("timebus"))
	}

	if cfg.Admin.Enabled {
		if a.adminLn, err = net.Listen("tcp", cfg.Admin.Addr); err != nil {
			return nil, fmt.Errorf("listen admin: %w", err)
		}
		a.adminServer = admin.NewServer(admin.Config{Addr: cfg.Admin.Addr}, reg, logger.Named("admin"))
		a.registerStats()
	}

	return a, nil
}

func (a *app) connectNATS() error {
	url := a.cfg.NATS.URL
	if a.cfg.NATS.Embedded {
		s, err := timebus.RunEmbeddedServer(timebus.EmbeddedConfig{})
		if err != nil {
			return err
		}
		a.natsServer = s
		url = s.ClientURL()
		a.logger.Infof("embedded nats listening on %s", url)
	}

	nc, err := nats.Connect(url,
		nats.Name("syncpool"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", url, err)
	}
	a.nc = nc
	return nil
}

func (a *app) registerStats() {
	a.adminServer.Register("pool", func() interface{} {
		states := a.pool.States()
		byState := make(map[string]int, 3)
		for _, s := range states {
			byState[s.String()]++
		}
		return map[string]interface{}{
			"name":       a.pool.Name(),
			"workers":    a.pool.Workers(),
			"queue_size": a.pool.QueueSize(),
			"states":     byState,
		}
	})
	if a.timeServer != nil {
		a.adminServer.Register("time_server", func() interface{} { return a.timeServer.Stats() })
	}
	if a.responder != nil {
		a.adminServer.Register("time_bus", func() interface{} { return a.responder.Stats() })
	}
}

// run starts every component and blocks until ctx is done or a server fails.
func (a *app) run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if a.timeServer != nil {
		go func() { errCh <- a.timeServer.Serve(a.timeLn) }()
	}
	if a.adminServer != nil {
		a.logger.Infof("admin server listening on %s", a.adminLn.Addr())
		go func() { errCh <- a.adminServer.Serve(a.adminLn) }()
	}
	if a.responder != nil {
		if err := a.responder.Start(); err != nil {
			a.close()
			return err
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Infof("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Errorf("server failed: %v", runErr)
		}
	}

	return errors.Join(runErr, a.close())
}

// close stops components in reverse dependency order: intake first, then
// the pool, then telemetry. The responder is stopped while the pool still
// runs so requests it already queued get answered. Only the first call does any work.
func (a *app) close() error {
	a.closeOnce.Do(func() { a.closeErr = a.shutdown() })
	return a.closeErr
}

func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.timeServer != nil {
		errs = append(errs, a.timeServer.Stop())
	}
	if a.timeLn != nil {
		_ = a.timeLn.Close()
	}
	if a.responder != nil {
		errs = append(errs, a.responder.Stop(ctx))
	}
	if a.adminServer != nil {
		errs = append(errs, a.adminServer.Stop(ctx))
	}
	if a.adminLn != nil {
		_ = a.adminLn.Close()
	}

	if a.pool != nil {
		a.pool.Shutdown()
		a.poolCancel()
		if err := a.pool.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.nc != nil {
		_ = a.nc.Drain()
		a.nc.Close()
	}
	if a.natsServer != nil {
		a.natsServer.Shutdown()
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}
