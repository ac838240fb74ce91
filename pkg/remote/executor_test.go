package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pershinghar/go-termux-relay/internal/sshtest"
	"github.com/pershinghar/go-termux-relay/pkg/models"
)

type recordingObserver struct {
	ops   []string
	kinds []models.ErrorKind
}

func (r *recordingObserver) ObserveRemote(op string, kind models.ErrorKind, _ time.Duration) {
	r.ops = append(r.ops, op)
	r.kinds = append(r.kinds, kind)
}

func TestExecuteTrimsStdoutAndToleratesStderr(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(_ context.Context, command string, stdout, stderr io.Writer) int {
		fmt.Fprint(stderr, "warning: banner\n")
		fmt.Fprintf(stdout, "\n  ran %s  \n\n", command)
		return 0
	})

	obs := &recordingObserver{}
	exec := NewExecutor(srv.Target(), WithObserver(obs))
	res := exec.Execute(context.Background(), "uptime")

	if !res.Succeeded {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Stdout != "ran uptime" {
		t.Fatalf("expected trimmed stdout, got %q", res.Stdout)
	}
	if res.Stderr != "warning: banner" {
		t.Fatalf("expected stderr to be kept, got %q", res.Stderr)
	}
	if res.ExitStatus != 0 || res.Err() != nil {
		t.Fatalf("unexpected failure fields: %+v", res)
	}
	if len(obs.ops) != 1 || obs.ops[0] != "execute" || obs.kinds[0] != "" {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestExecuteNonZeroExitIsConnectionFailed(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(_ context.Context, _ string, stdout, stderr io.Writer) int {
		fmt.Fprint(stdout, `{"battery":{"percentage":42}}`)
		fmt.Fprint(stderr, "boom")
		return 3
	})

	res := NewExecutor(srv.Target()).Execute(context.Background(), "./main-collector.sh")

	if res.Succeeded {
		t.Fatalf("expected failure")
	}
	if res.ErrorKind != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %q", res.ErrorKind)
	}
	if res.ExitStatus != 3 {
		t.Fatalf("expected exit status 3, got %d", res.ExitStatus)
	}
	if res.Stdout != "" {
		t.Fatalf("failed result must not carry stdout, got %q", res.Stdout)
	}
	if !strings.Contains(res.ErrorDetail, "boom") {
		t.Fatalf("expected stderr in detail, got %q", res.ErrorDetail)
	}
	if models.KindOf(res.Err()) != models.ConnectionFailed {
		t.Fatalf("Err() lost the kind: %v", res.Err())
	}
}

func TestExecuteTimeoutIsConnectionFailed(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(ctx context.Context, _ string, _, _ io.Writer) int {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return 0
	})

	target := srv.Target()
	target.CommandTimeout = 300 * time.Millisecond

	start := time.Now()
	res := NewExecutor(target).Execute(context.Background(), "sleep 60")

	if res.Succeeded || res.ErrorKind != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %+v", res)
	}
	if !strings.Contains(res.ErrorDetail, "timed out") {
		t.Fatalf("expected timeout detail, got %q", res.ErrorDetail)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
}

func TestExecuteUnreachableIsConnectionFailed(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(context.Context, string, io.Writer, io.Writer) int { return 0 })
	target := srv.Target()
	srv.Close()

	res := NewExecutor(target).Execute(context.Background(), "true")
	if res.Succeeded || res.ErrorKind != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %+v", res)
	}
}

func TestExecuteWrongUserIsConnectionFailed(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(context.Context, string, io.Writer, io.Writer) int { return 0 })
	target := srv.Target()
	target.Username = "intruder"

	res := NewExecutor(target).Execute(context.Background(), "true")
	if res.Succeeded || res.ErrorKind != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %+v", res)
	}
	if len(srv.Commands()) != 0 {
		t.Fatalf("no command should reach the server, got %v", srv.Commands())
	}
}

func TestRunQuotesArguments(t *testing.T) {
	srv := sshtest.NewServer(t, "u0_a1", func(context.Context, string, io.Writer, io.Writer) int { return 0 })

	res := NewExecutor(srv.Target()).Run(context.Background(), "file", "--", "~/storage/shared/a b; rm -rf ~")
	if !res.Succeeded {
		t.Fatalf("expected success, got %+v", res)
	}

	cmds := srv.Commands()
	want := `file -- "$HOME"/'storage/shared/a b; rm -rf ~'`
	if len(cmds) != 1 || cmds[0] != want {
		t.Fatalf("expected %q, got %v", want, cmds)
	}
}
