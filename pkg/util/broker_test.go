package util

import (
	"bytes"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAck struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(_, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func sampleMessage() *models.SnapshotMessage {
	return &models.SnapshotMessage{
		CollectionID: "3f0c",
		SourceID:     "u0_a393@termux.local",
		Timestamp:    time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		Snapshot:     models.Snapshot{models.KeyConnectionStatus: models.StatusConnected},
	}
}

func TestEncodeSnapshot(t *testing.T) {
	pub, err := encodeSnapshot(sampleMessage(), true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if pub.DeliveryMode != amqp.Persistent || pub.MessageId != "3f0c" {
		t.Fatalf("unexpected publishing %+v", pub)
	}
	if pub.Headers[headerSource] != "u0_a393@termux.local" {
		t.Fatalf("missing source header: %v", pub.Headers)
	}

	msg, err := decodeSnapshot(pub.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Snapshot.ConnectionStatus() != models.StatusConnected || !msg.Timestamp.Equal(sampleMessage().Timestamp) {
		t.Fatalf("unexpected message %+v", msg)
	}

	transient, _ := encodeSnapshot(sampleMessage(), false)
	if transient.DeliveryMode != amqp.Transient {
		t.Fatalf("expected transient delivery, got %d", transient.DeliveryMode)
	}
}

func TestSettle(t *testing.T) {
	body, _ := encodeSnapshot(sampleMessage(), false)
	ok := func(*models.SnapshotMessage) error { return nil }
	fail := func(*models.SnapshotMessage) error { return errors.New("stdout closed") }

	tests := []struct {
		name        string
		body        []byte
		redelivered bool
		handler     func(*models.SnapshotMessage) error
		want        fakeAck
	}{
		{"handled", body.Body, false, ok, fakeAck{acked: true}},
		{"garbage dropped", []byte("not json"), false, ok, fakeAck{nacked: true}},
		{"no snapshot dropped", []byte(`{"collection_id":"x"}`), false, ok, fakeAck{nacked: true}},
		{"failure requeued once", body.Body, false, fail, fakeAck{nacked: true, requeued: true}},
		{"redelivered failure dropped", body.Body, true, fail, fakeAck{nacked: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got fakeAck
			settle(&got, tt.body, tt.redelivered, tt.handler)
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBrokerRequiresURL(t *testing.T) {
	b := NewBroker(&models.RabbitMQConfig{})
	if err := b.Publish(t.Context(), sampleMessage()); err == nil {
		t.Fatal("expected an error without a broker URL")
	}
	if b.config.Exchange != "termux-telemetry" || b.config.QueueName != "termux-snapshots" {
		t.Fatalf("defaults not applied: %+v", b.config)
	}
	b.Close()
	if err := b.Connect(t.Context()); !errors.Is(err, errBrokerClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestSettleLogsUnderRabbitMQPrefix(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	var ack fakeAck
	settle(&ack, []byte("{not json"), false, func(*models.SnapshotMessage) error { return nil })

	out := buf.String()
	if !strings.Contains(out, "[RabbitMQ] Dropping undecodable message") {
		t.Fatalf("expected a [RabbitMQ] log line, got %q", out)
	}
	if strings.Contains(out, "[broker]") {
		t.Fatalf("unexpected [broker] prefix in %q", out)
	}
}
