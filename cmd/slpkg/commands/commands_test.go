package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scratchlinux/slpkg/pkg/config"
	"github.com/scratchlinux/slpkg/pkg/engine"
	"github.com/scratchlinux/slpkg/pkg/stores"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("1.2.3", "abc123", "2024-03-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "install without packages", args: []string{"install"}},
		{name: "detect without packages", args: []string{"detect"}},
		{name: "bootstrap without target", args: []string{"bootstrap"}},
		{name: "unknown flag", args: []string{"install", "--frobnicate", "bash"}},
		{name: "bad output format", args: []string{"list", "-o", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := engine.ExitCode(err); code != engine.ExitConfig {
				t.Errorf("expected exit code %d, got %d (%v)", engine.ExitConfig, code, err)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "sl-pkg 1.2.3") {
		t.Errorf("expected version in output, got %q", out)
	}
}

func TestRender(t *testing.T) {
	packages := []*stores.InstalledPackage{
		{Name: "bash", Version: "5.2.21", AbsoluteVersion: 1, InstallDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	tests := []struct {
		format outputFormat
		want   string
	}{
		{format: formatTable, want: "bash  5.2.21"},
		{format: formatJSON, want: `"name": "bash"`},
		{format: formatYAML, want: "name: bash"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			err := render(&buf, tt.format, packages, func(tb *table) {
				tb.header("NAME", "VERSION")
				for _, p := range packages {
					tb.row(p.Name, p.Version)
				}
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in output, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestTelemetryConfig_Level(t *testing.T) {
	t.Cleanup(func() { verbose = false })

	tests := []struct {
		name    string
		setting string
		env     string
		verbose bool
		want    string
	}{
		{name: "from settings", setting: "warn", want: "warn"},
		{name: "environment wins", setting: "warn", env: "trace", want: "trace"},
		{name: "verbose wins", setting: "warn", env: "error", verbose: true, want: "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verbose = tt.verbose
			settings := config.DefaultSettings(func(string) string { return "" })
			settings.LogLevel = tt.setting

			cfg := telemetryConfig(settings, func(key string) string {
				if key == "LOG_LEVEL" {
					return tt.env
				}
				return ""
			})
			if cfg.Logging.Level != tt.want {
				t.Errorf("expected level %s, got %s", tt.want, cfg.Logging.Level)
			}
		})
	}
}

func TestVerboseEnablesDebugLogging(t *testing.T) {
	previous := log.Logger
	t.Cleanup(func() {
		log.Logger = previous
		verbose = false
		configPath = ""
	})
	t.Setenv("LOG_LEVEL", "")

	dir := t.TempDir()
	conf := filepath.Join(dir, "sl-pkg.conf")
	content := "MIRROR=file:///srv/mirror\nDB_PATH=" + filepath.Join(dir, "installed.db") + "\n"
	if err := os.WriteFile(conf, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := execute(t, "-v", "--config", conf, "list", "-o", "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := log.Logger.GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %s", got)
	}
	if !log.Debug().Enabled() {
		t.Error("expected debug events to be enabled")
	}
}
