package ssh

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodKey uses a private key file
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the agent at SSH_AUTH_SOCK
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds the connection settings for one sftp:// mirror.
type Config struct {
	// Host is the mirror hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// AuthMethod selects key or agent authentication
	AuthMethod AuthMethod

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// KnownHostsPath is the path to the known_hosts file.
	// Host keys are always verified against it.
	KnownHostsPath string

	// AgentSocket is the agent socket used by AuthMethodAgent
	AgentSocket string

	// ConnectionTimeout bounds the TCP dial and handshake
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config for host with key authentication and the
// invoking user's known_hosts.
func DefaultConfig(host string, user string) *Config {
	home := os.Getenv("HOME")
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		AuthMethod:        AuthMethodKey,
		KnownHostsPath:    filepath.Join(home, ".ssh", "known_hosts"),
		AgentSocket:       os.Getenv("SSH_AUTH_SOCK"),
		ConnectionTimeout: 30 * time.Second,
	}
}

// ConfigFromURL builds a Config from an sftp:// URL. A user in the URL wins
// over user, and an empty key path falls back to agent authentication when
// an agent socket is available.
func ConfigFromURL(u *url.URL, user, keyPath, knownHosts string) (*Config, error) {
	if u.Scheme != "sftp" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	cfg := DefaultConfig(u.Hostname(), user)
	if u.User != nil && u.User.Username() != "" {
		cfg.User = u.User.Username()
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		cfg.Port = port
	}
	if knownHosts != "" {
		cfg.KnownHostsPath = knownHosts
	}
	cfg.PrivateKeyPath = keyPath
	if keyPath == "" && cfg.AgentSocket != "" {
		cfg.AuthMethod = AuthMethodAgent
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			home := os.Getenv("HOME")
			for _, keyPath := range []string{
				filepath.Join(home, ".ssh", "id_ed25519"),
				filepath.Join(home, ".ssh", "id_rsa"),
				filepath.Join(home, ".ssh", "id_ecdsa"),
			} {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		if c.AgentSocket == "" {
			return fmt.Errorf("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.KnownHostsPath == "" {
		return fmt.Errorf("known_hosts path is required")
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config. The
// returned closer releases the agent connection, if any.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, func() error, error) {
	var authMethods []ssh.AuthMethod
	closer := func() error { return nil }

	switch c.AuthMethod {
	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		conn, err := net.Dial("unix", c.AgentSocket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		closer = conn.Close
	}

	hostKeyCallback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, closer, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
