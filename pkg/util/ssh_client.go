// Package util provides the transport clients used by the relay: an SSH
// client that runs one-shot exec sessions (optionally through a local proxy
// process) and a RabbitMQ client for snapshot fan-out.
//
// Example usage:
//
//	target := models.RemoteTarget{
//		Host:           "device.example.com",
//		Username:       "u0_a393",
//		PrivateKeyPath: "/home/me/.ssh/device_key",
//		ProxyCommand:   "cloudflared access ssh --hostname device.example.com",
//	}
//
//	client := util.NewSSHClient(&target)
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	var out bytes.Buffer
//	status, err := client.Run(ctx, "uptime", &out, io.Discard)
package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/pershinghar/go-termux-relay/pkg/models"
	"golang.org/x/crypto/ssh"
)

// DialFunc opens the raw byte stream the SSH handshake runs over.
type DialFunc func(ctx context.Context, target *models.RemoteTarget) (net.Conn, error)

// SSHClient represents one SSH connection to the remote target
type SSHClient struct {
	target   *models.RemoteTarget
	dial     DialFunc
	client   *ssh.Client
	isClosed bool
	mu       sync.Mutex
}

// NewSSHClient creates a new SSH client instance. Connections go through the
// target's proxy command when one is set, otherwise over plain TCP.
func NewSSHClient(target *models.RemoteTarget) *SSHClient {
	return &SSHClient{
		target: target,
		dial:   DefaultDial,
	}
}

// WithDialer replaces the transport used by Connect.
func (c *SSHClient) WithDialer(dial DialFunc) *SSHClient {
	if dial != nil {
		c.dial = dial
	}
	return c
}

// DefaultDial starts the proxy command if configured, or dials TCP.
func DefaultDial(ctx context.Context, target *models.RemoteTarget) (net.Conn, error) {
	if target.ProxyCommand != "" {
		return StartProxy(target.ProxyCommand)
	}
	address := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	dialer := net.Dialer{Timeout: target.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return conn, nil
}

// Connect establishes the SSH connection. The dial and handshake together are
// bounded by the target's connect timeout.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return fmt.Errorf("client is closed")
	}
	if c.client != nil {
		return nil
	}

	sshConfig, err := c.prepareSSHConfig()
	if err != nil {
		return fmt.Errorf("failed to prepare SSH config: %w", err)
	}

	connectCtx := ctx
	if c.target.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.target.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.dial(connectCtx, c.target)
	if err != nil {
		return err
	}

	// Pipes have no deadlines, so the handshake is raced against the context.
	type handshake struct {
		client *ssh.Client
		err    error
	}
	done := make(chan handshake, 1)
	address := net.JoinHostPort(c.target.Host, strconv.Itoa(c.target.Port))
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		done <- handshake{client: ssh.NewClient(sshConn, chans, reqs)}
	}()

	select {
	case h := <-done:
		if h.err != nil {
			conn.Close()
			return fmt.Errorf("failed to establish SSH connection: %w", h.err)
		}
		c.client = h.client
		return nil
	case <-connectCtx.Done():
		conn.Close()
		return fmt.Errorf("SSH handshake with %s: %w", address, connectCtx.Err())
	}
}

// prepareSSHConfig prepares the SSH client configuration
func (c *SSHClient) prepareSSHConfig() (*ssh.ClientConfig, error) {
	if c.target.PrivateKeyPath == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	signer, err := loadPrivateKeyFromFile(c.target.PrivateKeyPath, c.target.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key from file: %w", err)
	}

	return &ssh.ClientConfig{
		User: c.target.Username,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Equivalent of StrictHostKeyChecking=no: the device's host key
		// changes with every reinstall and nobody is there to answer a prompt.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.target.ConnectTimeout,
	}, nil
}

// Run executes command in a fresh session, streaming its output to stdout
// and stderr. It returns the remote exit status; -1 means the command did
// not report one. When ctx ends first the session is torn down and ctx.Err()
// is returned.
func (c *SSHClient) Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return -1, fmt.Errorf("not connected: call Connect() first")
	}

	session, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		return exitStatus(err)
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		// Closing the connection unblocks Run even if the server ignores
		// the signal.
		c.Close()
		<-done
		return -1, ctx.Err()
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, fmt.Errorf("remote command exited without status")
	}
	return -1, err
}

// Close closes the SSH connection and everything it owns
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}
	c.isClosed = true

	if c.client != nil {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("error during close: %w", err)
		}
	}
	return nil
}

// Helper functions for loading private keys

func loadPrivateKeyFromFile(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPrivateKeyFromBytes(key, passphrase)
}

func loadPrivateKeyFromBytes(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}
