package models

import "time"

// CommandResult is the outcome of one remote invocation.
type CommandResult struct {
	// Command as sent to the remote shell
	Command string

	// Trimmed standard output
	Stdout string

	// Standard error; non-empty stderr alone is only a warning
	Stderr string

	// Remote exit status, -1 when the command never completed
	ExitStatus int

	Succeeded   bool
	ErrorKind   ErrorKind
	ErrorDetail string

	Duration time.Duration
}

// Err converts a failed result into a RelayError. It returns nil on success.
func (r CommandResult) Err() error {
	if r.Succeeded {
		return nil
	}
	kind := r.ErrorKind
	if kind == "" {
		kind = ConnectionFailed
	}
	return NewError(kind, "remote command", "%s", r.ErrorDetail)
}

// Snapshot is one telemetry collection result: metric groups
// (battery, system, memory, ...) mapped to loosely-typed records, plus the
// relay's own annotations. A snapshot handed to the cache must not be
// mutated afterwards.
type Snapshot map[string]any

// Snapshot keys written by the relay.
const (
	KeyTimestamp          = "timestamp"
	KeyServerTimestamp    = "server_timestamp"
	KeyConnectionStatus   = "connection_status"
	KeyCollectionDuration = "collection_duration"
	KeyError              = "error"
	KeyLastSuccess        = "last_success"
	KeyCachedData         = "cached_data"
)

// Connection states of a snapshot.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// MetricGroups lists the groups the collector script is expected to emit.
var MetricGroups = []string{
	"battery", "system", "memory", "storage", "processes",
	"network", "wifi", "location", "services",
}

// ConnectionStatus returns the snapshot's connection_status or "" if unset.
func (s Snapshot) ConnectionStatus() string {
	v, _ := s[KeyConnectionStatus].(string)
	return v
}

// FileType is the coarse category inferred from a file extension.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
	FileTypeAudio FileType = "audio"
	FileTypeText  FileType = "text"
	FileTypePDF   FileType = "pdf"
	FileTypeFile  FileType = "file"
)

// FileEntry is one file from a remote directory listing.
type FileEntry struct {
	Name        string   `json:"name"`
	FullPath    string   `json:"fullPath"`
	Size        string   `json:"size"`
	Date        string   `json:"date"`
	Permissions string   `json:"permissions"`
	Type        FileType `json:"type"`
	Extension   string   `json:"extension"`
}

// SnapshotMessage is what gets published to the broker for every connected
// snapshot.
type SnapshotMessage struct {
	// Unique identifier for tracking this collection instance
	CollectionID string `json:"collection_id"`

	// Identifier for the source device (user@host)
	SourceID string `json:"source_id"`

	// Timestamp when the data was collected
	Timestamp time.Time `json:"timestamp"`

	Snapshot Snapshot `json:"snapshot"`
}

// TimeFormat is the ISO-8601 layout used for every timestamp the relay emits.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC using TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
