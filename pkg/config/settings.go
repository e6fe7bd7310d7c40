package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// SystemConfigPath is the default location of the global configuration.
	SystemConfigPath = "/etc/sl-pkg.conf"

	// LocalConfigPath is tried when the system configuration is absent.
	LocalConfigPath = "sl-pkg.conf"
)

// ErrNoConfig is returned when neither configuration candidate exists.
var ErrNoConfig = errors.New("no configuration file found")

// Settings are the tunables resolved from the global configuration file.
type Settings struct {
	Mirror           string        `json:"mirror" validate:"required,url"`
	CacheDir         string        `json:"cache_dir" validate:"required"`
	UserCacheDir     string        `json:"user_cache_dir" validate:"required"`
	DBPath           string        `json:"db_path" validate:"required"`
	Pager            string        `json:"pager"`
	Editor           string        `json:"editor"`
	BootstrapVersion string        `json:"bootstrap_version"`
	LogLevel         string        `json:"log_level" validate:"required"`
	LogFormat        string        `json:"log_format" validate:"required"`
	PolicyDir        string        `json:"policy_dir"`
	MetricsTextfile  string        `json:"metrics_textfile"`
	TraceExporter    string        `json:"trace_exporter" validate:"required"`
	TraceEndpoint    string        `json:"trace_endpoint" validate:"required_if=TraceExporter otlp"`
	SSHUser          string        `json:"ssh_user"`
	SSHKey           string        `json:"ssh_key"`
	SSHKnownHosts    string        `json:"ssh_known_hosts"`
	HookTimeout      time.Duration `json:"hook_timeout" validate:"gte=0"`
	ChrootBinary     string        `json:"chroot_binary" validate:"required"`
	NProc            int           `json:"nproc" validate:"gt=0"`

	// Env holds env:-prefixed keys exported to hook environments.
	Env map[string]string `json:"-"`

	// Path is the file the settings were loaded from.
	Path string `json:"-"`
}

// DefaultSettings returns settings with every optional key at its default.
// NProc comes from the NPROC environment variable, which the bootstrap child
// receives, and falls back to the CPU count.
func DefaultSettings(getenv func(string) string) *Settings {
	home := getenv("HOME")
	if home == "" {
		home = "/root"
	}
	nproc, err := strconv.Atoi(getenv("NPROC"))
	if err != nil || nproc <= 0 {
		nproc = runtime.NumCPU()
	}
	return &Settings{
		CacheDir:      "/var/cache/sl-pkg",
		UserCacheDir:  filepath.Join(home, ".cache", "sl-pkg"),
		DBPath:        "/var/lib/sl-pkg/installed.db",
		LogLevel:      "info",
		LogFormat:     "console",
		TraceExporter: "none",
		ChrootBinary:  "/usr/sbin/sl-pkg",
		NProc:         nproc,
		Env:           make(map[string]string),
	}
}

// Locate returns the first candidate path that exists as a regular file.
func Locate(candidates ...string) (string, error) {
	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoConfig, strings.Join(candidates, ", "))
}

// LoadSettings parses, resolves and validates the configuration at path.
func LoadSettings(path string) (*Settings, error) {
	b, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	s, err := FromBindings(b, os.Getenv)
	if err != nil {
		return nil, err
	}
	s.Path = path

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// maxExpandPasses bounds nested ${NAME} expansion.
const maxExpandPasses = 8

// Expand replaces ${NAME} references using earlier bindings, then getenv.
func Expand(value string, b *Bindings, getenv func(string) string) string {
	for i := 0; i < maxExpandPasses && refPattern.MatchString(value); i++ {
		value = refPattern.ReplaceAllStringFunc(value, func(ref string) string {
			name := refPattern.FindStringSubmatch(ref)[1]
			if b != nil {
				if v, ok := b.Get(name); ok {
					return v
				}
			}
			return getenv(name)
		})
	}
	return value
}

// FromBindings maps interpreter bindings onto Settings.
func FromBindings(b *Bindings, getenv func(string) string) (*Settings, error) {
	s := DefaultSettings(getenv)

	str := func(key string, dst *string) {
		if v, ok := b.Get(key); ok && v != "" {
			*dst = Expand(v, b, getenv)
		}
	}

	str("MIRROR", &s.Mirror)
	str("CACHE_DIR", &s.CacheDir)
	str("USER_CACHE_DIR", &s.UserCacheDir)
	str("DB_PATH", &s.DBPath)
	str("PAGER", &s.Pager)
	str("EDITOR", &s.Editor)
	str("BOOTSTRAP_VERSION", &s.BootstrapVersion)
	str("LOG_LEVEL", &s.LogLevel)
	str("LOG_FORMAT", &s.LogFormat)
	str("POLICY_DIR", &s.PolicyDir)
	str("METRICS_TEXTFILE", &s.MetricsTextfile)
	str("TRACE_EXPORTER", &s.TraceExporter)
	str("TRACE_ENDPOINT", &s.TraceEndpoint)
	str("SSH_USER", &s.SSHUser)
	str("SSH_KEY", &s.SSHKey)
	str("SSH_KNOWN_HOSTS", &s.SSHKnownHosts)
	str("CHROOT_BINARY", &s.ChrootBinary)

	s.Mirror = strings.TrimRight(s.Mirror, "/")

	var timeout string
	str("HOOK_TIMEOUT", &timeout)
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid HOOK_TIMEOUT %q: %w", timeout, err)
		}
		s.HookTimeout = d
	}

	var nproc string
	str("NPROC", &nproc)
	if nproc != "" {
		n, err := strconv.Atoi(nproc)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid NPROC %q: must be a positive integer", nproc)
		}
		s.NProc = n
	}

	for key, v := range b.Exported() {
		s.Env[key] = Expand(v, b, getenv)
	}

	return s, nil
}

var structValidator = validator.New()

// Validate checks struct constraints and the settings schema.
func (s *Settings) Validate() error {
	if err := structValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := DefaultSchemas().ValidateSettings(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
