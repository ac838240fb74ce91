package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pershinghar/go-termux-relay/internal/sshtest"
	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/util"
)

// proxyAddrEnv makes the test binary act as a stdio-to-TCP proxy, the way
// cloudflared or `nc` would for a real device.
const proxyAddrEnv = "RELAY_TEST_PROXY_ADDR"

func TestMain(m *testing.M) {
	if addr := os.Getenv(proxyAddrEnv); addr != "" {
		os.Exit(runStdioProxy(addr))
	}
	os.Exit(m.Run())
}

func runStdioProxy(addr string) int {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "proxy: %v\n", err)
		return 1
	}
	defer conn.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(conn, os.Stdin)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(os.Stdout, conn)
		done <- struct{}{}
	}()
	<-done
	return 0
}

// proxyCommand returns a ProxyCommand that tunnels to the test server.
func proxyCommand(t *testing.T, srv *sshtest.Server) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	return util.ShellJoin("env", proxyAddrEnv+"="+srv.Addr, exe)
}

func TestExecuteThroughProxyCommand(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(_ context.Context, command string, stdout, _ io.Writer) int {
		fmt.Fprintf(stdout, "via proxy: %s\n", command)
		return 0
	})

	target := srv.Target()
	target.Host = "termux.invalid"
	target.ProxyCommand = proxyCommand(t, srv)

	res := NewExecutor(target).Execute(context.Background(), "uptime")
	if !res.Succeeded {
		t.Fatalf("expected success through the proxy, got %+v", res)
	}
	if res.Stdout != "via proxy: uptime" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
}

func TestFetchThroughProxyCommand(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(_ context.Context, _ string, stdout, _ io.Writer) int {
		io.WriteString(stdout, "recording")
		return 0
	})

	target := srv.Target()
	target.ProxyCommand = proxyCommand(t, srv)

	local, err := NewTransfer(target, WithTempDir(t.TempDir())).Fetch(context.Background(), "/sdcard/audio_1.mp3")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, err := os.ReadFile(local)
	if err != nil || string(got) != "recording" {
		t.Fatalf("unexpected local file %q: %v", got, err)
	}
}

func TestHungProxyCommandTimesOut(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(context.Context, string, io.Writer, io.Writer) int { return 0 })

	target := srv.Target()
	target.ProxyCommand = "sleep 100"
	target.ConnectTimeout = 500 * time.Millisecond

	start := time.Now()
	res := NewExecutor(target).Execute(context.Background(), "uptime")
	elapsed := time.Since(start)

	if res.Succeeded || res.ErrorKind != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %+v", res)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("connect timeout not enforced, took %v", elapsed)
	}
	if len(srv.Commands()) != 0 {
		t.Fatalf("no command should reach the server, got %v", srv.Commands())
	}
}

func TestMissingProxyToolIsConnectionFailed(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(context.Context, string, io.Writer, io.Writer) int { return 0 })

	target := srv.Target()
	target.ProxyCommand = "relay-no-such-proxy-tool --hostname termux.invalid"

	res := NewExecutor(target).Execute(context.Background(), "uptime")
	if res.Succeeded || res.ErrorKind != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %+v", res)
	}
	if !strings.HasPrefix(res.ErrorDetail, "SSH connection failed") {
		t.Fatalf("unexpected detail %q", res.ErrorDetail)
	}
}

func TestCallerCancellationDoesNotAbortCommand(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(_ context.Context, _ string, stdout, _ io.Writer) int {
		time.Sleep(400 * time.Millisecond)
		fmt.Fprint(stdout, "restarted")
		return 0
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := NewExecutor(srv.Target()).Execute(ctx, "pkill sshd; sleep 2; sshd")
	if !res.Succeeded || res.Stdout != "restarted" {
		t.Fatalf("command must run to completion after the caller gave up, got %+v", res)
	}
}
