package ssh

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("mirror.example.org", "builder")

	if config.Host != "mirror.example.org" {
		t.Errorf("expected host 'mirror.example.org', got '%s'", config.Host)
	}

	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}

	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected auth method 'key', got '%s'", config.AuthMethod)
	}

	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", config.ConnectionTimeout)
	}
}

func TestConfigFromURL(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	u, _ := url.Parse("sftp://pkg@mirror.example.org:2222/pub/sl")
	config, err := ConfigFromURL(u, "builder", "/root/.ssh/id_ed25519", "/etc/ssh/known_hosts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.User != "pkg" {
		t.Errorf("expected URL user to win, got '%s'", config.User)
	}
	if config.Port != 2222 {
		t.Errorf("expected port 2222, got %d", config.Port)
	}
	if config.KnownHostsPath != "/etc/ssh/known_hosts" {
		t.Errorf("unexpected known_hosts %s", config.KnownHostsPath)
	}
	if config.Address() != "mirror.example.org:2222" {
		t.Errorf("unexpected address %s", config.Address())
	}

	if _, err := ConfigFromURL(&url.URL{Scheme: "https", Host: "x"}, "", "", ""); err == nil {
		t.Error("expected error for non-sftp scheme")
	}
}

func TestConfigFromURL_AgentFallback(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "/run/user/0/agent.sock")

	u, _ := url.Parse("sftp://mirror.example.org/pub")
	config, err := ConfigFromURL(u, "builder", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.AuthMethod != AuthMethodAgent {
		t.Errorf("expected agent auth, got '%s'", config.AuthMethod)
	}
}

func TestConfigValidation(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("key"), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
	}{
		{
			name:        "valid config",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name:        "missing host",
			modifyFunc:  func(c *Config) { c.Host = "" },
			expectError: true,
		},
		{
			name:        "invalid port",
			modifyFunc:  func(c *Config) { c.Port = 70000 },
			expectError: true,
		},
		{
			name:        "missing user",
			modifyFunc:  func(c *Config) { c.User = "" },
			expectError: true,
		},
		{
			name:        "missing key file",
			modifyFunc:  func(c *Config) { c.PrivateKeyPath = "/nonexistent/key" },
			expectError: true,
		},
		{
			name: "agent without socket",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodAgent
				c.AgentSocket = ""
			},
			expectError: true,
		},
		{
			name:        "unsupported auth",
			modifyFunc:  func(c *Config) { c.AuthMethod = "password" },
			expectError: true,
		},
		{
			name:        "missing known_hosts",
			modifyFunc:  func(c *Config) { c.KnownHostsPath = "" },
			expectError: true,
		},
		{
			name:        "zero timeout",
			modifyFunc:  func(c *Config) { c.ConnectionTimeout = 0 },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("mirror.example.org", "builder")
			config.PrivateKeyPath = keyPath
			tt.modifyFunc(config)

			err := config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
