package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"os/exec"
	"path"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pershinghar/go-termux-relay/pkg/commands"
	"github.com/pershinghar/go-termux-relay/pkg/models"
)

// handleStatus runs a full collection. It always answers 200; success
// mirrors the connection status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.opts.Collector.Collect(r.Context())
	writeJSON(w, http.StatusOK, envelope{
		Success:   snapshot.ConnectionStatus() == models.StatusConnected,
		Data:      snapshot,
		Timestamp: now(),
	})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	data, err := s.opts.Collector.Battery(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, data)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	data, err := s.opts.Collector.System(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, data)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	listing, err := s.opts.Router.ListFiles(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		log.Printf("[api] File browser error: %v", err)
		writeError(w, err)
		return
	}
	writeData(w, listing)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.opts.Router.Info(r.Context(), r.URL.Query().Get("path"), mux.Vars(r)["filename"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, info)
}

// handleDownload streams a fetched remote file. The local copy is removed
// CleanupDelay after the handler returns, whether or not sending succeeded.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	dl, err := s.opts.Router.Download(r.Context(), r.URL.Query().Get("path"), filename)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.scheduleCleanup(dl.LocalPath)

	file, err := os.Open(dl.LocalPath)
	if err != nil {
		writeError(w, models.NewError(models.TransferFailed, "download", "open downloaded file: %v", err))
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentType(filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	if fi, err := file.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file); err != nil {
		log.Printf("[api] Download of %s interrupted: %v", filename, err)
		return
	}
	log.Printf("[api] Download successful: %s", filename)
}

func (s *Server) scheduleCleanup(localPath string) {
	time.AfterFunc(s.opts.CleanupDelay, func() {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[api] Failed to remove %s: %v", localPath, err)
		}
	})
}

// contentType infers the MIME type from the file extension.
func contentType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// decodeBody reads an optional JSON body into v. An empty body is fine.
func decodeBody(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return invalidArgument(op, "invalid request body: %v", err)
}

func (s *Server) handleCapturePhoto(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Camera *int `json:"camera"`
	}
	if err := decodeBody(w, r, "capture photo", &body); err != nil {
		writeError(w, err)
		return
	}
	camera := commands.CameraBack
	if body.Camera != nil {
		camera = *body.Camera
	}

	res, err := s.opts.Router.CapturePhoto(r.Context(), camera)
	if err != nil {
		log.Printf("[api] Photo capture failed: %v", err)
		writeError(w, err)
		return
	}
	writeData(w, res)
}

func (s *Server) handleCaptureAudio(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Duration *int `json:"duration"`
	}
	if err := decodeBody(w, r, "capture audio", &body); err != nil {
		writeError(w, err)
		return
	}
	duration := commands.DefaultDuration
	if body.Duration != nil {
		duration = *body.Duration
	}

	res, err := s.opts.Router.CaptureAudio(r.Context(), duration)
	if err != nil {
		log.Printf("[api] Audio recording failed: %v", err)
		writeError(w, err)
		return
	}
	writeData(w, res)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, invalidArgument("logs", "lines must be a number, got %q", raw))
			return
		}
		lines = n
	}

	res, err := s.opts.Router.Logs(r.Context(), mux.Vars(r)["type"], lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, res)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Router.Restart(r.Context(), mux.Vars(r)["service"])
	if err != nil {
		log.Printf("[api] Service restart failed: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: res, Message: res.Message, Timestamp: now()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cache := s.opts.Collector.Cache()
	snapshot, updated := cache.Get()

	var lastUpdate any
	if !updated.IsZero() {
		lastUpdate = models.FormatTime(updated)
	}
	connection := "unknown"
	if status := snapshot.ConnectionStatus(); status != "" {
		connection = status
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "healthy",
		"uptime":  time.Since(s.started).Seconds(),
		"memory_usage": map[string]any{
			"alloc":      mem.Alloc,
			"sys":        mem.Sys,
			"heap_alloc": mem.HeapAlloc,
			"num_gc":     mem.NumGC,
			"goroutines": runtime.NumGoroutine(),
		},
		"last_data_update":  lastUpdate,
		"connection_status": connection,
		"cache_status":      cache.Status(),
		"broker_status":     s.brokerStatus(),
		"timestamp":         now(),
	})
}

// brokerStatus is "disabled" when snapshots are not published.
func (s *Server) brokerStatus() string {
	switch {
	case s.opts.Broker == nil:
		return "disabled"
	case s.opts.Broker.IsConnected():
		return "connected"
	default:
		return "disconnected"
	}
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	target := s.opts.Target
	cache := s.opts.Collector.Cache()
	_, updated := cache.Get()

	keyInfo := map[string]any{
		"host":            target.Host,
		"user":            target.Username,
		"key_path":        target.PrivateKeyPath,
		"key_exists":      false,
		"key_permissions": nil,
		"key_size":        nil,
		"proxy_command":   target.ProxyCommand,
	}
	if fi, err := os.Stat(target.PrivateKeyPath); err == nil {
		keyInfo["key_exists"] = true
		keyInfo["key_permissions"] = strconv.FormatUint(uint64(fi.Mode().Perm()), 8)
		keyInfo["key_size"] = fi.Size()
	}

	var lastUpdate any
	if !updated.IsZero() {
		lastUpdate = models.FormatTime(updated)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"debug": map[string]any{
			"server_info": map[string]any{
				"go_version": runtime.Version(),
				"platform":   runtime.GOOS,
				"arch":       runtime.GOARCH,
				"uptime":     time.Since(s.started).Seconds(),
			},
			"ssh_config":    keyInfo,
			"proxy_tool":    proxyTool(target.ProxyCommand),
			"shared_root":   s.opts.Router.SharedRoot(),
			"last_update":   lastUpdate,
			"cache_status":  cache.Status(),
			"broker_status": s.brokerStatus(),
		},
		"timestamp": now(),
	})
}

// proxyTool reports whether the proxy command's executable is on PATH.
func proxyTool(command string) map[string]any {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return map[string]any{"command": "", "available": false, "path": ""}
	}
	p, err := exec.LookPath(fields[0])
	return map[string]any{"command": fields[0], "available": err == nil, "path": p}
}

func (s *Server) handleTestSSH(w http.ResponseWriter, r *http.Request) {
	log.Printf("[api] Testing SSH connection...")
	out, err := s.opts.Router.Probe(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"ssh_config": map[string]any{
				"host":     s.opts.Target.Host,
				"user":     s.opts.Target.Username,
				"key_path": s.opts.Target.PrivateKeyPath,
			},
			"timestamp": now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Message:   "SSH connection successful",
		Data:      out,
		Timestamp: now(),
	})
}
