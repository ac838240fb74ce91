package util

import (
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"
)

// ProxyConn is a net.Conn backed by the stdin/stdout of a local proxy process,
// the same arrangement as OpenSSH's ProxyCommand.
type ProxyConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	once   sync.Once
	err    error
}

// StartProxy launches command through /bin/sh and returns the connection to it.
// The process is killed when the connection is closed.
func StartProxy(command string) (*ProxyConn, error) {
	cmd := exec.Command("sh", "-c", "exec "+command)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start proxy command %q: %w", command, err)
	}

	return &ProxyConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *ProxyConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *ProxyConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close stops the proxy process and releases its pipes.
func (p *ProxyConn) Close() error {
	p.once.Do(func() {
		p.stdin.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		// Wait closes stdout and reaps the process; a kill makes it return
		// an error we don't care about.
		p.cmd.Wait()
	})
	return p.err
}

func (p *ProxyConn) LocalAddr() net.Addr  { return proxyAddr("local") }
func (p *ProxyConn) RemoteAddr() net.Addr { return proxyAddr(p.cmd.Path) }

// Deadlines are not supported on pipes; timeouts are enforced by the caller.
func (p *ProxyConn) SetDeadline(time.Time) error      { return nil }
func (p *ProxyConn) SetReadDeadline(time.Time) error  { return nil }
func (p *ProxyConn) SetWriteDeadline(time.Time) error { return nil }

type proxyAddr string

func (a proxyAddr) Network() string { return "proxy" }
func (a proxyAddr) String() string  { return string(a) }
