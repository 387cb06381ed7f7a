package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/api"
	"github.com/phrazzld/matrix-outbox/internal/api/middleware"
	"github.com/phrazzld/matrix-outbox/internal/config"
	"github.com/phrazzld/matrix-outbox/internal/platform/matrix"
	"github.com/phrazzld/matrix-outbox/internal/platform/netprobe"
	"github.com/phrazzld/matrix-outbox/internal/platform/sqlite"
	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
	"github.com/phrazzld/matrix-outbox/internal/service"
	"github.com/phrazzld/matrix-outbox/internal/service/auth"
	"github.com/phrazzld/matrix-outbox/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// appOptions assembles the daemon. Stop hooks run in reverse order of
// construction: the HTTP server stops accepting work first, then the queue
// drains, then the gate and the stores close.
func appOptions(cfg *config.Config, log *slog.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: log.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Provide(
			provideRegistry,
			provideQueueMetrics,
			provideHTTPMetrics,
			provideEchoStore,
			provideSnapshotStore,
			provideGate,
			provideLedger,
			provideMatrixClient,
			task.NewCancelRequests,
			provideTaskFactory,
			provideProcessor,
			provideSendService,
			provideJWTService,
			provideRouter,
		),
		fx.Invoke(startMetricsServer, startHTTPServer),
	)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideQueueMetrics(reg *prometheus.Registry) (*sendqueue.Metrics, error) {
	return sendqueue.NewMetrics(reg)
}

func provideHTTPMetrics(reg *prometheus.Registry) (*middleware.HTTPMetrics, error) {
	return middleware.NewHTTPMetrics(reg)
}

func provideEchoStore(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*sqlite.EchoStore, error) {
	db, err := openEchoDB(context.Background(), cfg, log, true)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(db.Close))
	return sqlite.NewEchoStore(db), nil
}

func provideSnapshotStore(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (sendqueue.SnapshotStore, error) {
	store, closeFn, err := openSnapshotStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closeFn))
	return store, nil
}

func provideGate(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *slog.Logger,
	metrics *sendqueue.Metrics,
) (*sendqueue.NetworkGate, error) {
	probe, err := netprobe.New(cfg.Session.HomeserverURL, cfg.Queue.ProbeTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create reachability probe: %w", err)
	}
	gate := sendqueue.NewNetworkGate(probe, cfg.Queue.ProbeInterval, log, sendqueue.WithGateMetrics(metrics))
	lc.Append(fx.StopHook(gate.Close))
	return gate, nil
}

func provideLedger(store sendqueue.SnapshotStore, log *slog.Logger, metrics *sendqueue.Metrics) *sendqueue.Ledger {
	return sendqueue.NewLedger(store, log, metrics)
}

func provideMatrixClient(cfg *config.Config, log *slog.Logger) (*matrix.Client, error) {
	return matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: cfg.Session.HomeserverURL,
		AccessToken:   cfg.Session.AccessToken,
		Logger:        log,
	})
}

func provideTaskFactory(
	echoes *sqlite.EchoStore,
	client *matrix.Client,
	cancels *task.CancelRequests,
	log *slog.Logger,
) (*task.Factory, error) {
	return task.NewFactory(echoes, echoes, client, cancels, log)
}

func provideProcessor(
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	ledger *sendqueue.Ledger,
	gate *sendqueue.NetworkGate,
	factory *task.Factory,
	log *slog.Logger,
	metrics *sendqueue.Metrics,
) *sendqueue.Processor {
	return sendqueue.NewProcessor(ledger, gate, factory, sendqueue.ProcessorConfig{
		MaxRetry:          cfg.Queue.MaxRetry,
		DefaultRetryDelay: cfg.Queue.DefaultRetryDelay,
		RetryAfterPadding: cfg.Queue.RetryAfterPadding,
		OnGlobalError: func(err error) {
			if !errors.Is(err, task.ErrSessionInvalid) {
				log.Error("send queue reported a global error", "error", err)
				return
			}
			log.Error("homeserver rejected the access token, shutting down", "error", err)
			if err := shutdowner.Shutdown(fx.ExitCode(2)); err != nil {
				log.Error("failed to request shutdown", "error", err)
			}
		},
	}, log, metrics)
}

func provideSendService(
	lc fx.Lifecycle,
	echoes *sqlite.EchoStore,
	factory *task.Factory,
	processor *sendqueue.Processor,
	ledger *sendqueue.Ledger,
	cancels *task.CancelRequests,
	log *slog.Logger,
) (service.SendService, error) {
	sendService, err := service.NewSendService(echoes, factory, processor, ledger, cancels, log)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: sendService.OnSessionStarted,
		OnStop:  sendService.OnSessionStopped,
	})
	return sendService, nil
}

func provideJWTService(cfg *config.Config) (auth.JWTService, error) {
	return auth.NewJWTService(cfg.Auth, cfg.Session.UserID)
}

func provideRouter(
	sendService service.SendService,
	jwtService auth.JWTService,
	gate *sendqueue.NetworkGate,
	metrics *middleware.HTTPMetrics,
	log *slog.Logger,
) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Handler: api.NewSendHandler(sendService, log),
		Auth:    middleware.NewAuthMiddleware(jwtService),
		Health:  gate,
		Logger:  log,
		Metrics: metrics,
	})
}

// startHTTPServer serves the control API for the lifetime of the app.
func startHTTPServer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	handler http.Handler,
	log *slog.Logger,
) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	lc.Append(serverHook(server, shutdowner, log.With("listener", "api")))
}

// startMetricsServer exposes the registry on its own listener when an
// address is configured.
func startMetricsServer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	reg *prometheus.Registry,
	log *slog.Logger,
) {
	if cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	lc.Append(serverHook(server, shutdowner, log.With("listener", "metrics")))
}

// serverHook binds the listener on start so address errors fail startup,
// and shuts the server down gracefully on stop.
func serverHook(server *http.Server, shutdowner fx.Shutdowner, log *slog.Logger) fx.Hook {
	return fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
			}
			log.Info("starting server", "addr", ln.Addr().String())

			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", "error", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		},
	}
}
