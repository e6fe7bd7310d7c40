package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "empty service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	zlog := logger.NewComponentLogger("engine").WithRunID("run-1").WithField("package", "bash").Zerolog()
	zlog.Info().Msg("installed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"component": "engine",
		"run_id":    "run-1",
		"package":   "bash",
		"message":   "installed",
		"level":     "info",
	} {
		if entry[key] != want {
			t.Errorf("expected %s=%s, got %v", key, want, entry[key])
		}
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	zlog := logger.Zerolog()
	zlog.Info().Msg("hidden")
	zlog.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info line to be filtered")
	}
	if !strings.Contains(out, "shown") {
		t.Error("expected warn line to be written")
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "sl-pkg.prom")
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = path

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordPackage("install", "succeeded")
	m.RecordStep("build", "succeeded", 3*time.Second)
	m.RecordHookFailure("do_install")
	m.RecordLedgerChange("insert")
	m.RecordFetch("https", "succeeded")
	m.RecordError("hook")

	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("failed to write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	for _, want := range []string{
		`slpkg_packages_processed_total{operation="install",status="succeeded"} 1`,
		`slpkg_hook_failures_total{hook="do_install"} 1`,
		`slpkg_ledger_changes_total{action="insert"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected textfile to contain %q", want)
		}
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, TextfilePath: filepath.Join(t.TempDir(), "x.prom")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Recording on a disabled instance must not panic.
	m.RecordPackage("install", "failed")
	m.RecordError("config")

	if err := m.WriteTextfile(); err != nil {
		t.Errorf("expected no-op write, got %v", err)
	}
	if m.Registry() != nil {
		t.Error("expected nil registry when disabled")
	}
}

func TestTracer_NoneExporter(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none"}, "sl-pkg", "test")
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	ctx, span := tracer.StartPackageSpan(context.Background(), "install", "bash")
	_, child := tracer.StartStepSpan(ctx, "build", "bash")
	RecordSuccess(child)
	child.End()
	RecordError(span, nil)
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestTracer_UnsupportedExporter(t *testing.T) {
	if _, err := NewTracer(TracingConfig{Enabled: true, Exporter: "zipkin"}, "sl-pkg", "test"); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestNop(t *testing.T) {
	tel := Nop()
	if tel.RunID == "" {
		t.Error("expected run ID")
	}

	if tel.Logger.Zerolog().GetLevel() != zerolog.Disabled {
		t.Error("expected a disabled logger")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
