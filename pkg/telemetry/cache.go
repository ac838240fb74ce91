// Package telemetry collects device snapshots and keeps the last good one.
package telemetry

import (
	"sync"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
)

// Cache holds the last successfully collected snapshot together with the
// time it was stored. Snapshot and timestamp always change together.
type Cache struct {
	mu       sync.RWMutex
	snapshot models.Snapshot
	updated  time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached snapshot and its timestamp. Both are zero values
// when nothing has been stored yet.
func (c *Cache) Get() (models.Snapshot, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.updated
}

// Put replaces the cached snapshot, stamping it with the current time.
func (c *Cache) Put(snapshot models.Snapshot) {
	c.PutAt(snapshot, time.Now())
}

// PutAt replaces the cached snapshot and timestamp in one step.
func (c *Cache) PutAt(snapshot models.Snapshot, at time.Time) {
	c.mu.Lock()
	c.snapshot = snapshot
	c.updated = at
	c.mu.Unlock()
}

// Status reports "available" or "empty".
func (c *Cache) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return "empty"
	}
	return "available"
}
