package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/pershinghar/go-termux-relay/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker dial policy. Device commands are never retried; only reaching the
// broker is.
const (
	dialAttempts = 3
	dialDelay    = 1 * time.Second
	dialMaxDelay = 10 * time.Second

	consumerPrefetch = 16
	headerSource     = "x-relay-source"
)

var errBrokerClosed = errors.New("broker client is closed")

// Broker publishes telemetry snapshots to a RabbitMQ exchange and lets
// watchers subscribe to them. A dropped connection is noticed through
// NotifyClose and re-dialed on the next Publish.
type Broker struct {
	config *models.RabbitMQConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewBroker fills unset exchange and queue names from the defaults.
func NewBroker(config *models.RabbitMQConfig) *Broker {
	cfg := models.DefaultRabbitMQConfig()
	if config != nil {
		c := *config
		if c.Exchange == "" {
			c.Exchange = cfg.Exchange
		}
		if c.ExchangeType == "" {
			c.ExchangeType = cfg.ExchangeType
		}
		if c.QueueName == "" {
			c.QueueName = cfg.QueueName
		}
		cfg = &c
	}
	return &Broker{config: cfg}
}

// Connect dials the broker with retries and declares the exchange.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked(ctx, dialAttempts)
}

func (b *Broker) connectLocked(ctx context.Context, attempts uint) error {
	if b.closed {
		return errBrokerClosed
	}
	if b.channel != nil {
		return nil
	}
	if b.config.URL == "" {
		return errors.New("no broker URL configured")
	}

	var conn *amqp.Connection
	err := retry.Do(func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(b.config.URL)
		return dialErr
	}, retry.Attempts(attempts), retry.Delay(dialDelay), retry.MaxDelay(dialMaxDelay), retry.Context(ctx))
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.config.Exchange, b.config.ExchangeType, b.config.Durable, b.config.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", b.config.Exchange, err)
	}

	b.conn, b.channel = conn, ch
	go b.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)), conn)

	log.Printf("[RabbitMQ] Connected, exchange '%s' (%s) ready", b.config.Exchange, b.config.ExchangeType)
	return nil
}

// watchClose forgets conn once the server or network drops it.
func (b *Broker) watchClose(notify <-chan *amqp.Error, conn *amqp.Connection) {
	amqpErr, ok := <-notify
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return
	}
	b.conn, b.channel = nil, nil
	if ok && amqpErr != nil {
		log.Printf("[RabbitMQ] Connection lost: %v", amqpErr)
	}
}

// Publish sends one snapshot. A lost connection is re-dialed once.
func (b *Broker) Publish(ctx context.Context, msg *models.SnapshotMessage) error {
	pub, err := encodeSnapshot(msg, b.config.Durable)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if err := b.connectLocked(ctx, 1); err != nil {
		b.mu.Unlock()
		return err
	}
	ch := b.channel
	b.mu.Unlock()

	if err := ch.PublishWithContext(ctx, b.config.Exchange, b.config.RoutingKey, false, false, pub); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", msg.CollectionID, err)
	}
	return nil
}

// Subscribe declares the watch queue, binds it to the exchange and calls
// handler for every snapshot until ctx is done. A delivery whose handler
// fails is requeued once; undecodable ones are dropped.
func (b *Broker) Subscribe(ctx context.Context, handler func(*models.SnapshotMessage) error) (string, error) {
	b.mu.Lock()
	if err := b.connectLocked(ctx, dialAttempts); err != nil {
		b.mu.Unlock()
		return "", err
	}
	ch := b.channel
	b.mu.Unlock()

	q, err := ch.QueueDeclare(b.config.QueueName, b.config.QueueDurable, b.config.QueueAutoDelete, b.config.QueueExclusive, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", b.config.QueueName, err)
	}
	if err := ch.QueueBind(q.Name, b.config.RoutingKey, b.config.Exchange, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		return "", fmt.Errorf("set prefetch: %w", err)
	}

	tag := "relay-watch-" + uuid.NewString()
	deliveries, err := ch.Consume(q.Name, tag, false, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("consume %s: %w", q.Name, err)
	}
	log.Printf("[RabbitMQ] Queue '%s' bound to '%s', consuming as %s", q.Name, b.config.Exchange, tag)

	go func() {
		defer ch.Cancel(tag, false)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Printf("[RabbitMQ] Delivery channel closed")
					return
				}
				handleDelivery(d, handler)
			}
		}
	}()
	return q.Name, nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(d amqp.Delivery, handler func(*models.SnapshotMessage) error) {
	settle(d, d.Body, d.Redelivered, handler)
}

func settle(ack acknowledger, body []byte, redelivered bool, handler func(*models.SnapshotMessage) error) {
	msg, err := decodeSnapshot(body)
	if err != nil {
		log.Printf("[RabbitMQ] Dropping undecodable message: %v", err)
		ack.Nack(false, false)
		return
	}
	if err := handler(msg); err != nil {
		log.Printf("[RabbitMQ] Handler failed for %s: %v", msg.CollectionID, err)
		ack.Nack(false, !redelivered)
		return
	}
	ack.Ack(false)
}

func encodeSnapshot(msg *models.SnapshotMessage, persistent bool) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode snapshot: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    msg.CollectionID,
		Timestamp:    msg.Timestamp,
		Type:         "telemetry.snapshot",
		Headers:      amqp.Table{headerSource: msg.SourceID},
		Body:         body,
		DeliveryMode: amqp.Transient,
	}
	if persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	return pub, nil
}

func decodeSnapshot(body []byte) (*models.SnapshotMessage, error) {
	var msg models.SnapshotMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if msg.Snapshot == nil {
		return nil, errors.New("decode snapshot: missing snapshot")
	}
	return &msg, nil
}

// Close shuts the channel and connection. The Broker cannot be reused.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.channel != nil {
		errs = append(errs, b.channel.Close())
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	b.conn, b.channel = nil, nil
	return errors.Join(errs...)
}

// IsConnected reports whether a live connection is held.
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel != nil && !b.closed
}
