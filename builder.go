package loginhook

import (
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/MrEthical07/loginhook/internal/audit"
	"github.com/MrEthical07/loginhook/internal/flows"
	"github.com/MrEthical07/loginhook/internal/guard"
	"github.com/MrEthical07/loginhook/internal/logging"
)

const tracerName = "github.com/MrEthical07/loginhook"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	host   Host
	logger *slog.Logger

	auditSink      AuditSink
	tracerProvider trace.TracerProvider

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithHost sets the embedding server's primitives. Required.
func (b *Builder) WithHost(h Host) *Builder {
	b.host = h
	return b
}

// WithLogger overrides the logger built from Config.Log.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go. Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.host == nil {
		return nil, ErrHostRequired
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	var tracer trace.Tracer
	switch {
	case !cfg.Tracing.Enabled:
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	case b.tracerProvider != nil:
		tracer = b.tracerProvider.Tracer(tracerName, trace.WithInstrumentationVersion(version))
	default:
		tracer = otel.GetTracerProvider().Tracer(tracerName, trace.WithInstrumentationVersion(version))
	}

	engine := &Engine{
		config:  cfg,
		host:    b.host,
		guard:   &guard.Guard{},
		logger:  logger,
		tracer:  tracer,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, b.auditSink),
	}

	engine.flowDeps = flows.Deps{
		Dispatch: flows.DispatchDeps{
			Namespace: cfg.Hook.Namespace,
			Routine:   cfg.Hook.Routine,
			Timeout:   cfg.Hook.Timeout,
			Strategy:  cfg.Scope.resolve(b.host.Capabilities()),
			Host:      b.host,
			Guard:     engine.guard,
			Blocked: func(herr *HookError) error {
				return newLoginBlockedError(herr)
			},
		},
	}

	b.built = true

	return engine, nil
}
