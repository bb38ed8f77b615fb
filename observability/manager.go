package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/taskforge/engine/config"
)

// Manager owns the lifecycle of tracing, metrics, and the optional status
// server for one engine run, mirroring the teacher's observability.Manager
// shape (construct-from-config, typed accessors, single Shutdown).
type Manager struct {
	cfg        config.ObservabilityConfig
	logger     *slog.Logger
	tracerProv *sdktrace.TracerProvider
	metrics    *Metrics
	status     *StatusServer
}

// NewManager initializes logging, tracing, metrics, and (if cfg.StatusAddr
// is set) the status server, returning a Manager whose zero-value parts are
// all safe to use (nil metrics yields a 503 handler, nil tracer falls back
// to otel's global no-op provider).
func NewManager(ctx context.Context, cfg config.ObservabilityConfig, sessions SessionLister) (*Manager, error) {
	m := &Manager{cfg: cfg, logger: NewLogger(cfg.ServiceName)}

	tp, err := InitTracerProvider(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	m.tracerProv = tp

	if cfg.MetricsEnabled {
		m.metrics = NewMetrics(cfg.ServiceName)
	}

	if cfg.StatusAddr != "" {
		m.status = NewStatusServer(cfg.StatusAddr, sessions, m.metrics)
		if err := m.status.Start(); err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("observability: %w", err)
		}
		m.logger.Info("status server listening", "addr", cfg.StatusAddr)
	}

	return m, nil
}

func (m *Manager) Logger() *slog.Logger { return m.logger }
func (m *Manager) Metrics() *Metrics    { return m.metrics }

func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.status != nil {
		if err := m.status.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.tracerProv != nil {
		if err := m.tracerProv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability: shutdown errors: %v", errs)
	}
	return nil
}

// NewLogger builds the structured logger used everywhere in this codebase:
// slog with a JSON handler, tagged with the service name so multi-run log
// aggregation can filter by it.
func NewLogger(serviceName string) *slog.Logger {
	if serviceName == "" {
		serviceName = "taskengine"
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With("service", serviceName)
}
