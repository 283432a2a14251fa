// Package server implements the SoAd daemon's admin/health HTTP surface: a
// ConnectRPC-compatible gRPC health check, Prometheus metrics, and a JSON
// connection-snapshot endpoint, all multiplexed over h2c.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/soad-project/soad/internal/soad"
)

// healthServiceName is reported SERVING by the gRPC health check.
const healthServiceName = "soad.adaptor.v1"

// SnapshotProvider is the subset of *soad.Adaptor the admin server needs to
// render the connection-snapshot endpoint.
type SnapshotProvider interface {
	Snapshot() []soad.ConnSnapshot
}

// Config controls the admin server's listen address and metrics path.
type Config struct {
	Addr        string
	MetricsPath string
}

// New builds the admin/health HTTP server: Prometheus metrics at
// cfg.MetricsPath, a JSON connection snapshot at "/connections", and a
// gRPC-compatible health check, served over h2c so HTTP/2 clients work
// without TLS. The health check's RPCs are wrapped with logging and panic
// recovery, since it is the only procedure call this server exposes.
func New(cfg Config, adaptor SnapshotProvider, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/connections", snapshotHandler(adaptor, logger))

	checker := grpchealth.NewStaticChecker(healthServiceName)
	mux.Handle(grpchealth.NewHandler(checker,
		connect.WithInterceptors(LoggingInterceptor(logger), RecoveryInterceptor(logger)),
	))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// connView is the JSON-facing projection of soad.ConnSnapshot: the core
// package carries no encoding concerns, so the translation lives here.
type connView struct {
	Conn   int    `json:"conn"`
	Group  int    `json:"group"`
	State  string `json:"state"`
	Socket int64  `json:"socket"`
	Remote string `json:"remote,omitempty"`
}

func snapshotHandler(adaptor SnapshotProvider, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := adaptor.Snapshot()
		views := make([]connView, len(snap))
		for i, cs := range snap {
			views[i] = connView{
				Conn:   int(cs.Conn),
				Group:  int(cs.Group),
				State:  cs.State.String(),
				Socket: int64(cs.Socket),
				Remote: cs.Remote,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			logger.ErrorContext(r.Context(), "encode connection snapshot",
				slog.String("error", err.Error()))
		}
	}
}

// ErrPanicRecovered indicates the admin server's RPC handler panicked and
// was recovered.
var ErrPanicRecovered = errors.New("panic recovered in admin rpc handler")

// LoggingInterceptor returns a ConnectRPC unary interceptor that logs every
// admin RPC call with its procedure name, duration, and error (if any).
// Log level is Info for successful calls and Warn for calls that return
// errors.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("procedure", req.Spec().Procedure),
				slog.Duration("duration", duration),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelWarn, "admin rpc completed with error", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "admin rpc completed", attrs...)
			}

			return resp, err
		}
	}
}

// RecoveryInterceptor returns a ConnectRPC unary interceptor that recovers
// from panics in admin RPC handlers. On panic, it logs the panic value and
// stack trace at Error level and returns a CodeInternal error to the
// caller, so a single bad health probe cannot take down the admin listener
// goroutine.
func RecoveryInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)

					logger.ErrorContext(ctx, "panic recovered in admin rpc handler",
						slog.String("procedure", req.Spec().Procedure),
						slog.Any("panic", r),
						slog.String("stack", string(buf[:n])),
					)

					retErr = connect.NewError(connect.CodeInternal,
						fmt.Errorf("%s: %w", req.Spec().Procedure, ErrPanicRecovered))
				}
			}()

			return next(ctx, req)
		}
	}
}
