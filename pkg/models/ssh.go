package models

import "time"

// RemoteTarget holds the fixed connection settings for the monitored device.
// It is built once at startup and never mutated afterwards.
type RemoteTarget struct {
	// Host address (IP or hostname)
	Host string

	// Port number (default: 22)
	Port int

	// Username for authentication
	Username string

	// Key-based authentication (path to private key file)
	PrivateKeyPath string

	// Passphrase for encrypted private key (if applicable)
	KeyPassphrase string

	// Local helper that tunnels the connection, e.g.
	// "cloudflared access ssh --hostname device.example.com".
	// Empty means a direct TCP dial.
	ProxyCommand string

	// Bound on connection establishment (proxy start + handshake)
	ConnectTimeout time.Duration

	// Bound on a whole remote command, connect phase included
	CommandTimeout time.Duration

	// Bound on a whole file transfer
	TransferTimeout time.Duration
}

// Default timeouts for a RemoteTarget.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// WithDefaults returns a copy of t with zero fields replaced by defaults.
func (t RemoteTarget) WithDefaults() RemoteTarget {
	if t.Port == 0 {
		t.Port = 22
	}
	if t.ConnectTimeout == 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.CommandTimeout == 0 {
		t.CommandTimeout = DefaultCommandTimeout
	}
	if t.TransferTimeout == 0 {
		t.TransferTimeout = 2 * t.CommandTimeout
	}
	return t
}
