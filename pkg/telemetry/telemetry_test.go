package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Logging.Level = "verbose"
	if err := bad.Validate(); err == nil {
		t.Error("invalid log level must be rejected")
	}

	bad = DefaultConfig()
	bad.Tracing.Enabled = true
	bad.Tracing.Exporter = "jaeger"
	if err := bad.Validate(); err == nil {
		t.Error("unsupported exporter must be rejected")
	}

	bad = DefaultConfig()
	bad.Tracing.Enabled = true
	bad.Tracing.SamplingRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range sampling rate must be rejected")
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatal(err)
	}

	ctx := logger.WithContext(context.Background())
	if got := FromContext(ctx); got != logger {
		t.Error("logger not retrievable from context")
	}
	// Missing logger yields a usable default, not nil.
	if got := FromContext(context.Background()); got == nil {
		t.Error("expected default logger")
	}
}

func TestMetricsDisabledNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	// All recorders must be safe on a disabled instance.
	m.RecordPlanComputed("noop", time.Second)
	m.RecordRender()
	m.RecordAssembly("full", time.Second)
	m.RecordDriftClassification("in_sync")
	m.RecordDriftDetection("clean")
	m.RecordCorrectiveAction("create", "ok")
	m.RecordError("permanent", "UNKNOWN_RESOURCE")
	if err := m.StartServer(); err == nil {
		t.Error("disabled metrics must refuse to serve")
	}
}

func TestMetricsEnabledRegisters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: ":0", Namespace: "gantry"})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordDriftClassification("hash_drifted")
	m.RecordCorrectiveAction("recreate", "ok")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, want := range []string{"gantry_drift_classifications_total", "gantry_corrective_actions_total"} {
		if !found[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

// A command that enables tracing must produce recorded spans and flush them
// on shutdown; the span helpers carry the operation attributes.
func TestTracerSpanLifecycle(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{
		Enabled:      true,
		Exporter:     "none",
		SamplingRate: 1.0,
	}, "gantry", "test", "test")
	if err != nil {
		t.Fatal(err)
	}

	ctx, span := tracer.StartPlanSpan(context.Background(), "abc123")
	if TraceID(ctx) == "" {
		t.Error("span context must carry a trace id")
	}
	RecordSuccess(span)
	span.End()

	ctx, span = tracer.StartDriftSpan(ctx, 3)
	RecordError(span, context.DeadlineExceeded)
	span.End()

	if err := tracer.ForceFlush(context.Background()); err != nil {
		t.Errorf("flush: %v", err)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestTelemetryAggregate(t *testing.T) {
	cfg := DefaultConfig()
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("telemetry not retrievable from context")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
