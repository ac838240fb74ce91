// Package commands maps dashboard control actions onto remote commands.
// Caller-supplied values only ever reach the remote shell as quoted
// arguments.
package commands

import (
	"context"
	"fmt"
	"log"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/parse"
	"github.com/pershinghar/go-termux-relay/pkg/util"
)

// Input bounds.
const (
	CameraBack      = 0
	CameraFront     = 1
	DefaultDuration = 10
	MinDuration     = 1
	MaxDuration     = 300
	DefaultLogLines = 50
	MaxLogLines     = 1000
)

// DefaultLogType is used for unknown log types.
const DefaultLogType = "boot"

var logFiles = map[string]string{
	"boot":   "~/boot.log",
	"tunnel": "~/smart-tunnel.log",
	"auto":   "~/tunnel-auto.log",
}

// Runner executes remote commands.
type Runner interface {
	Execute(ctx context.Context, command string) models.CommandResult
	Run(ctx context.Context, args ...string) models.CommandResult
}

// Fetcher copies a remote file to a local temporary file.
type Fetcher interface {
	Fetch(ctx context.Context, remotePath string) (string, error)
}

// Router turns control requests into remote invocations.
type Router struct {
	runner     Runner
	fetcher    Fetcher
	sharedRoot string
	now        func() time.Time
}

// NewRouter returns a Router. sharedRoot is the default folder for captures
// and file browsing.
func NewRouter(runner Runner, fetcher Fetcher, sharedRoot string) *Router {
	return &Router{
		runner:     runner,
		fetcher:    fetcher,
		sharedRoot: sharedRoot,
		now:        time.Now,
	}
}

// SharedRoot returns the default folder.
func (r *Router) SharedRoot() string {
	return r.sharedRoot
}

type PhotoResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Camera   int    `json:"camera"`
	Message  string `json:"message"`
}

// CapturePhoto takes a picture with the back (0) or front (1) camera.
func (r *Router) CapturePhoto(ctx context.Context, camera int) (*PhotoResult, error) {
	if camera != CameraBack && camera != CameraFront {
		return nil, models.NewError(models.InvalidArgument, "capture photo", "camera must be %d (back) or %d (front), got %d", CameraBack, CameraFront, camera)
	}

	filename := fmt.Sprintf("photo_%d.jpg", r.now().UnixMilli())
	remotePath := path.Join(r.sharedRoot, filename)
	log.Printf("[router] Capturing photo with camera %d", camera)

	res := r.runner.Run(ctx, "termux-camera-photo", "-c", strconv.Itoa(camera), remotePath)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &PhotoResult{
		Filename: filename,
		Path:     remotePath,
		Camera:   camera,
		Message:  "Photo captured successfully",
	}, nil
}

type AudioResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Duration int    `json:"duration"`
	Message  string `json:"message"`
}

// CaptureAudio records duration seconds from the microphone.
func (r *Router) CaptureAudio(ctx context.Context, duration int) (*AudioResult, error) {
	if duration < MinDuration || duration > MaxDuration {
		return nil, models.NewError(models.InvalidArgument, "capture audio", "duration must be %d-%d seconds, got %d", MinDuration, MaxDuration, duration)
	}

	filename := fmt.Sprintf("audio_%d.mp3", r.now().UnixMilli())
	remotePath := path.Join(r.sharedRoot, filename)
	log.Printf("[router] Recording audio for %d seconds", duration)

	res := r.runner.Run(ctx, "termux-microphone-record", "-d", strconv.Itoa(duration), "-f", remotePath)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &AudioResult{
		Filename: filename,
		Path:     remotePath,
		Duration: duration,
		Message:  "Audio recorded successfully",
	}, nil
}

type RestartResult struct {
	Service models.ServiceName `json:"service"`
	Message string             `json:"message"`
}

// Restart restarts one of the known services. Unknown names fail without
// contacting the device.
func (r *Router) Restart(ctx context.Context, service string) (*RestartResult, error) {
	name, ok := models.ParseServiceName(service)
	if !ok {
		return nil, models.NewError(models.InvalidArgument, "restart", "invalid service name %q", service)
	}

	log.Printf("[router] Restarting service: %s", name)
	res := r.runner.Execute(ctx, name.RestartCommand())
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &RestartResult{
		Service: name,
		Message: fmt.Sprintf("%s service restarted successfully", name),
	}, nil
}

type LogsResult struct {
	Logs  []string `json:"logs"`
	Type  string   `json:"type"`
	Lines int      `json:"lines"`
}

// Logs returns the last lines of a named log. Unknown types read the boot
// log; lines 0 means DefaultLogLines.
func (r *Router) Logs(ctx context.Context, logType string, lines int) (*LogsResult, error) {
	if lines == 0 {
		lines = DefaultLogLines
	}
	if lines < 1 || lines > MaxLogLines {
		return nil, models.NewError(models.InvalidArgument, "logs", "lines must be 1-%d, got %d", MaxLogLines, lines)
	}

	file, ok := logFiles[logType]
	if !ok {
		file = logFiles[DefaultLogType]
	}

	command := util.ShellJoin("tail", "-n", strconv.Itoa(lines), file) + ` 2>/dev/null || echo "Log file not found"`
	res := r.runner.Execute(ctx, command)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &LogsResult{
		Logs:  strings.Split(res.Stdout, "\n"),
		Type:  logType,
		Lines: lines,
	}, nil
}

type Listing struct {
	CurrentPath string             `json:"currentPath"`
	Files       []models.FileEntry `json:"files"`
	TotalFiles  int                `json:"totalFiles"`
	FolderInfo  string             `json:"folderInfo"`
}

// ListFiles lists the regular files directly inside folder.
func (r *Router) ListFiles(ctx context.Context, folder string) (*Listing, error) {
	folder, err := r.resolveFolder("list files", folder)
	if err != nil {
		return nil, err
	}
	log.Printf("[router] Browsing folder: %s", folder)

	command := util.ShellJoin("find", folder, "-maxdepth", "1", "-type", "f", "-exec", "ls", "-la", "{}", "+") +
		fmt.Sprintf(" 2>/dev/null | head -%d", parse.MaxListingEntries)
	res := r.runner.Execute(ctx, command)
	if err := res.Err(); err != nil {
		return nil, err
	}
	files := parse.ParseListing(res.Stdout, folder)
	if files == nil {
		files = []models.FileEntry{}
	}

	folderInfo := "Unknown"
	info := r.runner.Execute(ctx, util.ShellJoin("ls", "-la", "--", folder)+" | head -1")
	if info.Succeeded {
		folderInfo = info.Stdout
	}

	log.Printf("[router] Found %d files in %s", len(files), folder)
	return &Listing{
		CurrentPath: folder,
		Files:       files,
		TotalFiles:  len(files),
		FolderInfo:  folderInfo,
	}, nil
}

type FileInfo struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Info     string `json:"info"`
}

// Info returns the remote `file` and `stat` output for folder/filename.
func (r *Router) Info(ctx context.Context, folder, filename string) (*FileInfo, error) {
	remotePath, err := r.remoteFile("file info", folder, filename)
	if err != nil {
		return nil, err
	}

	command := util.ShellJoin("file", "--", remotePath) + " && " + util.ShellJoin("stat", "--", remotePath)
	res := r.runner.Execute(ctx, command)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &FileInfo{Filename: filename, Path: remotePath, Info: res.Stdout}, nil
}

type Download struct {
	Filename   string
	RemotePath string
	LocalPath  string
}

// Download fetches folder/filename to a local temporary file. The caller
// owns Download.LocalPath and must remove it.
func (r *Router) Download(ctx context.Context, folder, filename string) (*Download, error) {
	remotePath, err := r.remoteFile("download", folder, filename)
	if err != nil {
		return nil, err
	}

	log.Printf("[router] Download request: %s from %s", filename, path.Dir(remotePath))
	localPath, err := r.fetcher.Fetch(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	return &Download{Filename: filename, RemotePath: remotePath, LocalPath: localPath}, nil
}

// Probe runs a trivial command to check the round trip.
func (r *Router) Probe(ctx context.Context) (string, error) {
	res := r.runner.Execute(ctx, `echo "SSH Test: $(date)"`)
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// resolveFolder defaults an empty folder to the shared root. A folder
// starting with "-" would be read as an option by find and ls.
func (r *Router) resolveFolder(op, folder string) (string, error) {
	if folder == "" {
		return r.sharedRoot, nil
	}
	if strings.HasPrefix(folder, "-") {
		return "", models.NewError(models.InvalidArgument, op, "invalid folder %q", folder)
	}
	return folder, nil
}

// remoteFile joins folder and filename; filename must be one path element.
func (r *Router) remoteFile(op, folder, filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." || strings.ContainsRune(filename, '/') {
		return "", models.NewError(models.InvalidArgument, op, "invalid filename %q", filename)
	}
	folder, err := r.resolveFolder(op, folder)
	if err != nil {
		return "", err
	}
	return path.Join(folder, filename), nil
}
