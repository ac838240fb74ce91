package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
)

// envelope is the shape of every JSON response.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Timestamp string `json:"timestamp"`
}

func now() string {
	return models.FormatTime(time.Now())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] Error writing response: %v", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Timestamp: now()})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	if models.KindOf(err) == models.InvalidArgument {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), envelope{
		Success:   false,
		Error:     err.Error(),
		Kind:      string(models.KindOf(err)),
		Timestamp: now(),
	})
}

func invalidArgument(op, format string, args ...any) error {
	return models.NewError(models.InvalidArgument, op, format, args...)
}
