package telemetry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	results  map[string]models.CommandResult
	commands []string
}

func (f *fakeRunner) Execute(_ context.Context, command string) models.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if res, ok := f.results[command]; ok {
		return res
	}
	return models.CommandResult{Command: command, ExitStatus: -1, ErrorKind: models.ConnectionFailed, ErrorDetail: "no such script"}
}

func ok(stdout string) models.CommandResult {
	return models.CommandResult{Stdout: stdout, Succeeded: true, Duration: 1500 * time.Millisecond}
}

func failed(detail string) models.CommandResult {
	return models.CommandResult{ExitStatus: 255, ErrorKind: models.ConnectionFailed, ErrorDetail: detail}
}

type fakePublisher struct {
	got chan *models.SnapshotMessage
	err error
}

func (p *fakePublisher) Publish(_ context.Context, msg *models.SnapshotMessage) error {
	p.got <- msg
	return p.err
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestCollectConnectedAnnotatesAndCaches(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.CommandResult{
		"./main-collector.sh": ok("OK\n{\"battery\":{\"percentage\":42}}"),
	}}
	cache := NewCache()
	pub := &fakePublisher{got: make(chan *models.SnapshotMessage, 1)}
	c := NewCollector(runner, cache, DefaultScripts(), WithClock(fixedClock()), WithPublisher(pub), WithSource("u0_a1@device"))

	snap := c.Collect(context.Background())

	if snap.ConnectionStatus() != models.StatusConnected {
		t.Fatalf("expected connected, got %v", snap)
	}
	battery, _ := snap["battery"].(map[string]any)
	if battery["percentage"] != float64(42) {
		t.Fatalf("expected battery.percentage 42, got %v", snap["battery"])
	}
	if snap[models.KeyServerTimestamp] != "2026-03-14T09:30:00.000Z" {
		t.Fatalf("unexpected server timestamp %v", snap[models.KeyServerTimestamp])
	}
	if snap[models.KeyCollectionDuration] != int64(1500) {
		t.Fatalf("unexpected duration %v", snap[models.KeyCollectionDuration])
	}

	cached, updated := cache.Get()
	if !reflect.DeepEqual(cached, snap) || !updated.Equal(fixedClock()()) {
		t.Fatalf("cache not updated: %v at %v", cached, updated)
	}

	select {
	case msg := <-pub.got:
		if msg.SourceID != "u0_a1@device" || msg.CollectionID == "" {
			t.Fatalf("unexpected published message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot was not published")
	}
}

func TestCollectFailureKeepsCacheAndEmbedsIt(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.CommandResult{
		"./main-collector.sh": ok("{\"battery\":{\"percentage\":80}}"),
	}}
	cache := NewCache()
	c := NewCollector(runner, cache, DefaultScripts(), WithClock(fixedClock()))

	good := c.Collect(context.Background())
	before, beforeAt := cache.Get()

	tests := []struct {
		name   string
		result models.CommandResult
	}{
		{"transport failure", failed("SSH connection failed: timed out after 30s")},
		{"empty output", ok("")},
		{"no json", ok("Welcome to Termux")},
		{"broken json", ok("{\"battery\": }")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner.results["./main-collector.sh"] = tt.result

			snap := c.Collect(context.Background())

			if snap.ConnectionStatus() != models.StatusDisconnected {
				t.Fatalf("expected disconnected, got %v", snap)
			}
			if msg, _ := snap[models.KeyError].(string); msg == "" {
				t.Fatalf("expected error message, got %v", snap[models.KeyError])
			}
			if !reflect.DeepEqual(snap[models.KeyCachedData], before) {
				t.Fatalf("cached_data mismatch: %v", snap[models.KeyCachedData])
			}
			if snap[models.KeyLastSuccess] != models.FormatTime(beforeAt) {
				t.Fatalf("unexpected last_success %v", snap[models.KeyLastSuccess])
			}
			if snap["battery"] != nil || snap["system"] != nil {
				t.Fatalf("metric groups should be null: %v", snap)
			}

			after, afterAt := cache.Get()
			if !reflect.DeepEqual(after, good) || !afterAt.Equal(beforeAt) {
				t.Fatal("cache must not change on failure")
			}
		})
	}
}

func TestCollectFailureWithEmptyCache(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.CommandResult{
		"./main-collector.sh": failed("SSH connection failed: connection refused"),
	}}
	cache := NewCache()
	c := NewCollector(runner, cache, DefaultScripts())

	snap := c.Collect(context.Background())

	if snap[models.KeyCachedData] != nil || snap[models.KeyLastSuccess] != nil {
		t.Fatalf("expected null cache fields, got %v / %v", snap[models.KeyCachedData], snap[models.KeyLastSuccess])
	}
	if snap[models.KeyError] != "SSH connection failed: connection refused" {
		t.Fatalf("unexpected error %v", snap[models.KeyError])
	}
	if cache.Status() != "empty" {
		t.Fatalf("cache should stay empty")
	}
}

func TestNarrowCollectorsSurfaceErrors(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.CommandResult{
		"./battery-collector.sh": ok(`{"percentage":55,"status":"CHARGING"}`),
		"./system-collector.sh":  ok("banner\n{\"load\":1}"),
	}}
	cache := NewCache()
	c := NewCollector(runner, cache, DefaultScripts())

	battery, err := c.Battery(context.Background())
	if err != nil {
		t.Fatalf("battery: %v", err)
	}
	if battery["percentage"] != float64(55) {
		t.Fatalf("unexpected battery %v", battery)
	}

	// The narrow collectors do not strip noise.
	if _, err := c.System(context.Background()); models.KindOf(err) != models.MalformedResponse {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}

	delete(runner.results, "./battery-collector.sh")
	if _, err := c.Battery(context.Background()); models.KindOf(err) != models.ConnectionFailed {
		t.Fatalf("expected ConnectionFailed, got %v", err)
	}

	if cache.Status() != "empty" {
		t.Fatal("narrow collectors must not touch the cache")
	}
}

func TestPublishFailureDoesNotAffectCollection(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.CommandResult{
		"./main-collector.sh": ok(`{"wifi":{"ssid":"home"}}`),
	}}
	pub := &fakePublisher{got: make(chan *models.SnapshotMessage, 1), err: errors.New("broker down")}
	c := NewCollector(runner, NewCache(), DefaultScripts(), WithPublisher(pub))

	if snap := c.Collect(context.Background()); snap.ConnectionStatus() != models.StatusConnected {
		t.Fatalf("expected connected, got %v", snap)
	}
	<-pub.got
}

func TestCachePutReplacesSnapshotAndTimestamp(t *testing.T) {
	cache := NewCache()
	if snap, at := cache.Get(); snap != nil || !at.IsZero() || cache.Status() != "empty" {
		t.Fatalf("new cache must be empty, got %v %v", snap, at)
	}

	before := time.Now()
	cache.Put(models.Snapshot{"battery": map[string]any{"percentage": 80}})
	first, firstAt := cache.Get()
	if first == nil || firstAt.Before(before) || cache.Status() != "available" {
		t.Fatalf("unexpected cache contents %v at %v", first, firstAt)
	}

	cache.Put(models.Snapshot{"battery": map[string]any{"percentage": 79}})
	second, secondAt := cache.Get()
	if reflect.DeepEqual(first, second) || secondAt.Before(firstAt) {
		t.Fatalf("Put must replace both values, got %v at %v", second, secondAt)
	}
}

func TestCachePutIsAtomic(t *testing.T) {
	cache := NewCache()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				n := w*100000 + i
				cache.PutAt(models.Snapshot{"seq": n}, base.Add(time.Duration(n)*time.Second))
			}
		}(w)
	}

	for i := 0; i < 20000; i++ {
		snap, at := cache.Get()
		if snap == nil {
			continue
		}
		seq := snap["seq"].(int)
		if !at.Equal(base.Add(time.Duration(seq) * time.Second)) {
			close(stop)
			wg.Wait()
			t.Fatalf("torn read: seq %d paired with %v", seq, at)
		}
	}
	close(stop)
	wg.Wait()
}
