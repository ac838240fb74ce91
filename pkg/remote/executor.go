// Package remote runs commands on, and fetches files from, the monitored
// device over SSH. Every call opens its own connection; nothing is retried.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/util"
)

const maxPreview = 200

// Observer receives one call per remote operation. kind is empty on success.
type Observer interface {
	ObserveRemote(op string, kind models.ErrorKind, d time.Duration)
}

// Option configures an Executor or Transfer.
type Option func(*options)

type options struct {
	dial     util.DialFunc
	observer Observer
	tempDir  string
}

// WithDialer overrides how the SSH transport is opened.
func WithDialer(dial util.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithObserver reports every operation to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithTempDir sets where Transfer writes fetched files.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

func buildOptions(opts []Option) options {
	o := options{dial: util.DefaultDial}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Executor runs single shell commands on the remote target.
type Executor struct {
	target models.RemoteTarget
	opts   options
}

// NewExecutor returns an Executor for target.
func NewExecutor(target models.RemoteTarget, opts ...Option) *Executor {
	return &Executor{
		target: target.WithDefaults(),
		opts:   buildOptions(opts),
	}
}

// Target returns the executor's connection settings.
func (e *Executor) Target() models.RemoteTarget {
	return e.target
}

// Run quotes args into a command line and executes it.
func (e *Executor) Run(ctx context.Context, args ...string) models.CommandResult {
	return e.Execute(ctx, util.ShellJoin(args...))
}

// Execute runs command once, bounded only by the target's command timeout:
// cancelling ctx does not abort a command that has been started.
// A timeout, connection error or non-zero exit status yields a failed
// result of kind ConnectionFailed. Stdout is trimmed on success.
func (e *Executor) Execute(ctx context.Context, command string) models.CommandResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.target.CommandTimeout)
	defer cancel()

	log.Printf("[executor] Executing: %s", command)

	result := models.CommandResult{Command: command, ExitStatus: -1}
	var stdout, stderr bytes.Buffer

	client := util.NewSSHClient(&e.target).WithDialer(e.opts.dial)
	defer client.Close()

	err := client.Connect(ctx)
	if err == nil {
		result.ExitStatus, err = client.Run(ctx, command, &stdout, &stderr)
	}
	result.Duration = time.Since(start)
	result.Stderr = strings.TrimSpace(stderr.String())

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded):
		result.ErrorKind = models.ConnectionFailed
		result.ErrorDetail = fmt.Sprintf("SSH connection failed: timed out after %v", result.Duration.Round(time.Millisecond))
	case err != nil:
		result.ErrorKind = models.ConnectionFailed
		result.ErrorDetail = fmt.Sprintf("SSH connection failed: %v", err)
	case result.ExitStatus != 0:
		result.ErrorKind = models.ConnectionFailed
		result.ErrorDetail = fmt.Sprintf("SSH connection failed: command exited with status %d", result.ExitStatus)
		if result.Stderr != "" {
			result.ErrorDetail += ": " + preview(result.Stderr)
		}
	default:
		result.Succeeded = true
		result.Stdout = strings.TrimSpace(stdout.String())
	}

	if result.Succeeded {
		if result.Stderr != "" {
			log.Printf("[executor] SSH warning: %s", preview(result.Stderr))
		}
		log.Printf("[executor] SSH success, output length: %d, preview: %s", len(result.Stdout), preview(result.Stdout))
	} else {
		log.Printf("[executor] %s", result.ErrorDetail)
		if result.Stderr != "" {
			log.Printf("[executor] stderr: %s", preview(result.Stderr))
		}
	}

	if e.opts.observer != nil {
		e.opts.observer.ObserveRemote("execute", result.ErrorKind, result.Duration)
	}
	return result
}

func preview(s string) string {
	if len(s) <= maxPreview {
		return s
	}
	return s[:maxPreview] + "..."
}
