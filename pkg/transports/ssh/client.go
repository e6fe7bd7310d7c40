// Package ssh downloads files from sftp:// mirrors.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is one SSH connection with an SFTP session on top of it.
type Client struct {
	config *Config
	logger zerolog.Logger

	conn   *ssh.Client
	sftp   *sftp.Client
	closer func() error
}

// Dial connects to the mirror described by config and opens an SFTP session.
func Dial(ctx context.Context, config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig, closer, err := config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := config.Address()
	logger.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: config.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		_ = closer()
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()
		_ = closer()
		return nil, &TransportError{Op: "handshake", Err: err, IsAuthError: true}
	}
	_ = netConn.SetDeadline(time.Time{})
	conn := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		_ = closer()
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create SFTP client: %w", err)}
	}

	return &Client{
		config: config,
		logger: logger,
		conn:   conn,
		sftp:   sftpClient,
		closer: closer,
	}, nil
}

// Close tears down the SFTP session and the connection.
func (c *Client) Close() error {
	return errors.Join(c.sftp.Close(), c.conn.Close(), c.closer())
}

// Download copies remotePath to localPath. The local file is written to a
// temporary name and renamed into place so a failed copy leaves nothing.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	startTime := time.Now()

	remoteFile, err := c.sftp.Open(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &TransportError{Op: "download", Err: fmt.Errorf("%w: %s", ErrRemoteNotFound, remotePath)}
		}
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to open remote file: %w", err), IsTemporary: true}
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to create local directory: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".sftp-*")
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to create local file: %w", err)}
	}
	defer os.Remove(tmp.Name())

	written, err := copyWithContext(ctx, tmp, remoteFile)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}

	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to move file into place: %w", err)}
	}

	c.logger.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file downloaded")

	return nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
