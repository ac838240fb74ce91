package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const slowRequest = 1 * time.Second

// RequestObserver is told about every served request.
type RequestObserver interface {
	ObserveRequest(route string, code int)
}

// statusRecorder captures the status code and matched route of a request.
type statusRecorder struct {
	http.ResponseWriter
	status int
	route  string
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// routeMiddleware runs inside mux and records the matched route template on
// the outer statusRecorder.
func routeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := w.(*statusRecorder); ok {
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					rec.route = tmpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(obs RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		if duration > slowRequest {
			log.Printf("[WARN] Slow request %s: %s %s %s -> %d in %v", requestID, r.RemoteAddr, r.Method, r.URL.Path, rec.status, duration)
		} else {
			log.Printf("[api] %s: %s %s %s -> %d in %v", requestID, r.RemoteAddr, r.Method, r.URL.Path, rec.status, duration)
		}
		if obs != nil {
			obs.ObserveRequest(rec.route, rec.status)
		}
	})
}

// recoverMiddleware turns a panic in any handler into a 500 response.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				log.Printf("[ERROR] Server error on %s %s: %v", r.Method, r.URL.Path, p)
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"success":   false,
					"error":     "Internal server error",
					"message":   fmtPanic(p),
					"timestamp": now(),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
