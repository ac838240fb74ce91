package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/parse"
)

const publishTimeout = 5 * time.Second

// Runner executes one remote command.
type Runner interface {
	Execute(ctx context.Context, command string) models.CommandResult
}

// Publisher forwards connected snapshots to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, msg *models.SnapshotMessage) error
}

// Observer is told the outcome of every full collection.
type Observer interface {
	ObserveCollection(status string, cacheUpdated time.Time)
}

// Scripts names the remote collector programs.
type Scripts struct {
	Collector string
	Battery   string
	System    string
}

// DefaultScripts are the collector scripts shipped on the device.
func DefaultScripts() Scripts {
	return Scripts{
		Collector: "./main-collector.sh",
		Battery:   "./battery-collector.sh",
		System:    "./system-collector.sh",
	}
}

// Collector drives telemetry collection cycles.
type Collector struct {
	runner    Runner
	cache     *Cache
	scripts   Scripts
	source    string
	publisher Publisher
	observer  Observer
	now       func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithPublisher publishes every connected snapshot to p.
func WithPublisher(p Publisher) CollectorOption {
	return func(c *Collector) { c.publisher = p }
}

// WithCollectionObserver reports collection outcomes to o.
func WithCollectionObserver(o Observer) CollectorOption {
	return func(c *Collector) { c.observer = o }
}

// WithSource sets the source ID attached to published snapshots.
func WithSource(source string) CollectorOption {
	return func(c *Collector) { c.source = source }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector returns a Collector that stores results in cache.
func NewCollector(runner Runner, cache *Cache, scripts Scripts, opts ...CollectorOption) *Collector {
	c := &Collector{
		runner:  runner,
		cache:   cache,
		scripts: scripts,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache returns the collector's cache.
func (c *Collector) Cache() *Cache {
	return c.cache
}

// Collect runs one full collection cycle. It never fails: transport and
// parse errors produce a disconnected snapshot that embeds the last cached
// one, and leave the cache untouched.
func (c *Collector) Collect(ctx context.Context) models.Snapshot {
	log.Printf("[collector] Collecting data from device...")

	res := c.runner.Execute(ctx, c.scripts.Collector)
	if !res.Succeeded {
		return c.disconnected(res.ErrorDetail)
	}
	if res.Stdout == "" {
		return c.disconnected("empty response from device")
	}

	obj, err := parse.ExtractJSON(res.Stdout)
	if err != nil {
		log.Printf("[collector] Raw response: %.500s", res.Stdout)
		return c.disconnected(err.Error())
	}

	now := c.now()
	snapshot := models.Snapshot(obj)
	snapshot[models.KeyServerTimestamp] = models.FormatTime(now)
	snapshot[models.KeyConnectionStatus] = models.StatusConnected
	snapshot[models.KeyCollectionDuration] = res.Duration.Milliseconds()

	c.cache.PutAt(snapshot, now)
	log.Printf("[collector] Data collected successfully")

	if c.observer != nil {
		c.observer.ObserveCollection(models.StatusConnected, now)
	}
	c.publish(snapshot, now)
	return snapshot
}

func (c *Collector) disconnected(reason string) models.Snapshot {
	log.Printf("[collector] Collection failed: %s", reason)

	cached, updated := c.cache.Get()
	now := models.FormatTime(c.now())

	snapshot := models.Snapshot{
		models.KeyTimestamp:        now,
		models.KeyServerTimestamp:  now,
		models.KeyConnectionStatus: models.StatusDisconnected,
		models.KeyError:            reason,
		models.KeyLastSuccess:      nil,
		models.KeyCachedData:       nil,
		"battery":                  nil,
		"system":                   nil,
		"services":                 map[string]any{"ssh": false, "tunnel": false, "smart_monitor": false},
		"wifi":                     nil,
		"location":                 nil,
	}
	if cached != nil {
		snapshot[models.KeyCachedData] = cached
		snapshot[models.KeyLastSuccess] = models.FormatTime(updated)
	}

	if c.observer != nil {
		c.observer.ObserveCollection(models.StatusDisconnected, updated)
	}
	return snapshot
}

// publish hands the snapshot to the publisher without holding up the caller.
func (c *Collector) publish(snapshot models.Snapshot, at time.Time) {
	if c.publisher == nil {
		return
	}
	msg := &models.SnapshotMessage{
		CollectionID: uuid.NewString(),
		SourceID:     c.source,
		Timestamp:    at,
		Snapshot:     snapshot,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.publisher.Publish(ctx, msg); err != nil {
			log.Printf("[collector] Publish %s failed: %v", msg.CollectionID, err)
		}
	}()
}

// Battery runs the battery-only collector. Its output must be a bare JSON
// object; errors are returned as-is and the cache is not consulted.
func (c *Collector) Battery(ctx context.Context) (map[string]any, error) {
	return c.single(ctx, c.scripts.Battery)
}

// System runs the system-only collector, like Battery.
func (c *Collector) System(ctx context.Context) (map[string]any, error) {
	return c.single(ctx, c.scripts.System)
}

func (c *Collector) single(ctx context.Context, script string) (map[string]any, error) {
	res := c.runner.Execute(ctx, script)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return parse.DecodeObject(res.Stdout)
}
