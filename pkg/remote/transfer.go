package remote

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/util"
)

// Transfer copies remote files into local temporary storage.
type Transfer struct {
	target models.RemoteTarget
	opts   options
}

// NewTransfer returns a Transfer for target. Files land in os.TempDir()
// unless WithTempDir is given.
func NewTransfer(target models.RemoteTarget, opts ...Option) *Transfer {
	t := &Transfer{
		target: target.WithDefaults(),
		opts:   buildOptions(opts),
	}
	if t.opts.tempDir == "" {
		t.opts.tempDir = os.TempDir()
	}
	return t
}

// Fetch streams remotePath into a new local file and returns its path. The
// file is complete when Fetch returns nil; the caller must remove it. Any
// failure is reported as TransferFailed and leaves no local file behind.
// Like Execute, only the transfer timeout ends a fetch early.
func (t *Transfer) Fetch(ctx context.Context, remotePath string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.target.TransferTimeout)
	defer cancel()

	log.Printf("[transfer] Downloading: %s", remotePath)

	localPath, err := t.fetch(ctx, remotePath)
	duration := time.Since(start)

	var kind models.ErrorKind
	if err != nil {
		kind = models.TransferFailed
		err = &models.RelayError{Kind: kind, Op: "fetch " + remotePath, Err: fmt.Errorf("file download failed: %w", err)}
		log.Printf("[transfer] %v", err)
	} else {
		log.Printf("[transfer] Downloaded %s to %s in %v", remotePath, localPath, duration.Round(time.Millisecond))
	}

	if t.opts.observer != nil {
		t.opts.observer.ObserveRemote("transfer", kind, duration)
	}
	return localPath, err
}

func (t *Transfer) fetch(ctx context.Context, remotePath string) (string, error) {
	base := path.Base(remotePath)
	if base == "." || base == "/" {
		base = "download"
	}
	localPath := filepath.Join(t.opts.tempDir, uuid.NewString()+"-"+base)

	file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			file.Close()
			os.Remove(localPath)
		}
	}()

	client := util.NewSSHClient(&t.target).WithDialer(t.opts.dial)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return "", err
	}

	var stderr bytes.Buffer
	status, err := client.Run(ctx, util.ShellJoin("cat", "--", remotePath), file, &stderr)
	if err != nil {
		return "", err
	}
	if status != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no error output"
		}
		return "", fmt.Errorf("remote cat exited with status %d: %s", status, preview(msg))
	}

	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("sync local file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close local file: %w", err)
	}
	ok = true
	return localPath, nil
}
