// Package api serves the relay's JSON interface to the dashboard.
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pershinghar/go-termux-relay/pkg/commands"
	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/telemetry"
)

const maxRequestBody = 64 * 1024

// Options wires the server to the relay components.
type Options struct {
	Collector *telemetry.Collector
	Router    *commands.Router
	Target    models.RemoteTarget

	// Prefix for every API route, e.g. "/api"
	APIPrefix string

	// Directory served at / for the dashboard; empty disables it
	StaticDir string

	// How long downloaded temp files outlive the response
	CleanupDelay time.Duration

	// Exposed at /metrics when set
	MetricsHandler http.Handler

	Observer RequestObserver

	// Snapshot publisher, reported by /health and /debug; nil when
	// publishing is disabled
	Broker BrokerStatus
}

// BrokerStatus reports whether the snapshot broker connection is up.
type BrokerStatus interface {
	IsConnected() bool
}

// Server holds the handlers. It keeps no state of its own besides the start
// time; the telemetry cache lives in the collector.
type Server struct {
	opts    Options
	started time.Time
}

// NewServer returns a Server for opts.
func NewServer(opts Options) *Server {
	if opts.CleanupDelay == 0 {
		opts.CleanupDelay = 5 * time.Second
	}
	opts.APIPrefix = strings.TrimSuffix(opts.APIPrefix, "/")
	return &Server{opts: opts, started: time.Now()}
}

// Handler builds the full HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(routeMiddleware)

	api := r
	if s.opts.APIPrefix != "" {
		api = r.PathPrefix(s.opts.APIPrefix).Subrouter()
	}
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/battery", s.handleBattery).Methods(http.MethodGet)
	api.HandleFunc("/system", s.handleSystem).Methods(http.MethodGet)
	api.HandleFunc("/files", s.handleFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/download/{filename}", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/files/info/{filename}", s.handleFileInfo).Methods(http.MethodGet)
	api.HandleFunc("/capture/photo", s.handleCapturePhoto).Methods(http.MethodPost)
	api.HandleFunc("/capture/audio", s.handleCaptureAudio).Methods(http.MethodPost)
	api.HandleFunc("/logs/{type}", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/restart/{service}", s.handleRestart).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/debug", s.handleDebug).Methods(http.MethodGet)
	api.HandleFunc("/test-ssh", s.handleTestSSH).Methods(http.MethodGet)

	if s.opts.MetricsHandler != nil {
		r.Handle("/metrics", s.opts.MetricsHandler).Methods(http.MethodGet)
	}

	if s.opts.StaticDir != "" {
		static := http.FileServer(http.Dir(s.opts.StaticDir))
		r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if s.opts.APIPrefix != "" && strings.HasPrefix(req.URL.Path, s.opts.APIPrefix+"/") {
				notFound(w, req)
				return
			}
			static.ServeHTTP(w, req)
		})).Methods(http.MethodGet, http.MethodHead)
	}

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	return loggingMiddleware(s.opts.Observer, recoverMiddleware(r))
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success":        false,
		"error":          "Endpoint not found",
		"requested_path": r.URL.Path,
		"timestamp":      now(),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"success":        false,
		"error":          "Method not allowed",
		"requested_path": r.URL.Path,
		"timestamp":      now(),
	})
}

func fmtPanic(p any) string {
	return fmt.Sprint(p)
}
