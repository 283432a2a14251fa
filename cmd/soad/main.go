// Command soad runs the Socket Adaptor daemon: it loads a declarative
// routing configuration, builds the group/connection/route tables, and
// drives the adaptor's tick and transport-callback contexts from a single
// serializing goroutine, per the adaptor's single-threaded cooperative
// contract.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	adminserver "github.com/soad-project/soad/internal/adminserver"
	"github.com/soad-project/soad/internal/config"
	soadmetrics "github.com/soad-project/soad/internal/metrics"
	"github.com/soad-project/soad/internal/soad"
	"github.com/soad-project/soad/internal/soaddr"
	"github.com/soad-project/soad/internal/transport"
	"github.com/soad-project/soad/internal/upperlayer"
	appversion "github.com/soad-project/soad/internal/version"
)

// shutdownTimeout bounds how long the admin HTTP server is given to drain
// in-flight requests during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainTimeout is the pause after arming every connection's close latch and
// running one more tick, giving the transport a moment to actually close
// sockets before the process tears the rest down.
const drainTimeout = 500 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	configPath, err := parseFlags()
	if err != nil {
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("soad starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.Int("groups", len(cfg.SoAd.Groups)),
		slog.Int("connections", len(cfg.SoAd.Connections)),
	)

	reg := prometheus.NewRegistry()
	collector := soadmetrics.NewCollector(reg)

	if err := runDaemon(cfg, reg, collector, logger, configPath, logLevel); err != nil {
		logger.Error("soad exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("soad stopped")
	return 0
}

// parseFlags defines the "--config" flag via a minimal cobra root command
// and returns its value.
func parseFlags() (string, error) {
	var configPath string

	cmd := &cobra.Command{
		Use:           "soad",
		Short:         "SoAd socket adaptor daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	if err := cmd.Execute(); err != nil {
		return "", err
	}
	return configPath, nil
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("component", "soad"))
}

// runDaemon wires the adaptor, transport, and admin surfaces together and
// runs them until a shutdown signal arrives.
func runDaemon(
	cfg *config.Config,
	reg *prometheus.Registry,
	collector *soadmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	disp := newDispatcher()
	g.Go(func() error {
		disp.run(gCtx)
		return nil
	})

	var adaptor *soad.Adaptor

	transportLogger := logger.With(slog.String("component", "transport"))
	mgr := transport.New(transportLogger, transport.Callbacks{
		OnAccept: func(listenSocket, newSocket soad.SocketID, remote soaddr.SockAddr) {
			disp.do(gCtx, func() { adaptor.TcpAccepted(listenSocket, newSocket, remote) })
		},
		OnConnected: func(socket soad.SocketID) {
			disp.do(gCtx, func() { adaptor.TcpConnected(socket) })
		},
		OnRx: func(socket soad.SocketID, remote soaddr.SockAddr, buf []byte) soad.Result {
			var result soad.Result
			disp.do(gCtx, func() { result = adaptor.RxIndication(socket, remote, buf) })
			return result
		},
		OnIPEvent: func(socket soad.SocketID, event soad.IPEvent) {
			disp.do(gCtx, func() { adaptor.TcpIPEvent(socket, event) })
		},
	})

	sinks, sources := buildUpperLayer(cfg.SoAd, logger)
	registry, err := config.Build(cfg.SoAd, sinks, sources)
	if err != nil {
		return fmt.Errorf("build routing tables: %w", err)
	}

	adaptor = soad.New(mgr,
		soad.WithMetrics(collector),
		soad.WithErrorReporter(slogErrorReporter{logger: logger.With(slog.String("component", "soad"))}),
	)
	if err := adaptor.Init(registry); err != nil {
		return fmt.Errorf("initialize adaptor: %w", err)
	}
	numConns := registry.NumConns()

	g.Go(func() error {
		runTicker(gCtx, disp, adaptor, cfg.SoAd.TickInterval)
		return nil
	})

	adminSrv := adminserver.New(adminserver.Config{
		Addr:        cfg.Admin.Addr,
		MetricsPath: cfg.Metrics.Path,
	}, dispatchedSnapshot{disp: disp, adaptor: adaptor}, reg, logger)

	startHTTPServer(gCtx, g, adminSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, disp, adaptor, numConns, mgr, logger, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// buildUpperLayer constructs a reference logging sink/source for every
// distinct name a socket or PDU route names, so config.Build always
// resolves. A real deployment embeds this package's replacement instead of
// relying on these.
func buildUpperLayer(cfg config.SoAdConfig, logger *slog.Logger) (map[string]soad.RxSink, map[string]soad.TxSource) {
	upperLogger := logger.With(slog.String("component", "upperlayer"))

	sinks := make(map[string]soad.RxSink, len(cfg.SocketRoutes))
	for _, sr := range cfg.SocketRoutes {
		if _, ok := sinks[sr.Sink]; !ok {
			sinks[sr.Sink] = upperlayer.NewLoggingSink(sr.Sink, upperLogger)
		}
	}

	sources := make(map[string]soad.TxSource, len(cfg.PduRoutes))
	for _, pr := range cfg.PduRoutes {
		if _, ok := sources[pr.Source]; !ok {
			sources[pr.Source] = upperlayer.NewLoggingSource(pr.Source, upperLogger)
		}
	}

	return sinks, sources
}

// runTicker drives the adaptor's periodic MainFunction at cfg.TickInterval
// through the dispatcher, until ctx is cancelled.
func runTicker(ctx context.Context, disp *dispatcher, adaptor *soad.Adaptor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			disp.do(ctx, adaptor.MainFunction)
		}
	}
}

// slogErrorReporter implements soad.ErrorReporter by logging at warn level.
type slogErrorReporter struct {
	logger *slog.Logger
}

func (r slogErrorReporter) ReportError(api string, kind soad.DevErrorKind) {
	r.logger.Warn("development error",
		slog.String("api", api), slog.String("kind", kind.String()))
}

// dispatchedSnapshot adapts *soad.Adaptor's Snapshot method to
// adminserver.SnapshotProvider, routing the call through the dispatcher so
// it never runs concurrently with a tick or transport callback.
type dispatchedSnapshot struct {
	disp    *dispatcher
	adaptor *soad.Adaptor
}

func (s dispatchedSnapshot) Snapshot() []soad.ConnSnapshot {
	var out []soad.ConnSnapshot
	s.disp.do(context.Background(), func() { out = s.adaptor.Snapshot() })
	return out
}

// -------------------------------------------------------------------------
// HTTP server wiring
// -------------------------------------------------------------------------

func startHTTPServer(ctx context.Context, g *errgroup.Group, srv *http.Server, logger *slog.Logger) {
	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", srv.Addr))
		return listenAndServe(ctx, &lc, srv, srv.Addr)
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Systemd integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP reload -- log level only
// -------------------------------------------------------------------------

// handleSIGHUP reloads the dynamic log level on SIGHUP. The routing tables
// (groups, connections, routes) are immutable once the adaptor is
// initialized, so reload does not touch them; an operator changing the
// topology restarts the daemon.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()), slog.String("new_log_level", newLevel.String()))
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

// gracefulShutdown arms a polite close on every connection, gives the
// transport a moment to follow through, then shuts down the HTTP server and
// releases every remaining transport socket.
func gracefulShutdown(
	ctx context.Context,
	disp *dispatcher,
	adaptor *soad.Adaptor,
	numConns int,
	mgr *transport.Manager,
	logger *slog.Logger,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	drainCtx := context.WithoutCancel(ctx)
	disp.do(drainCtx, func() {
		for i := 0; i < numConns; i++ {
			_ = adaptor.RequestClose(soad.SoConID(i), false)
		}
		adaptor.MainFunction()
	})

	time.Sleep(drainTimeout)

	shutdownCtx, cancel := context.WithTimeout(drainCtx, shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}

	if err := mgr.CloseAll(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close transport: %w", err))
	}

	return shutdownErr
}
