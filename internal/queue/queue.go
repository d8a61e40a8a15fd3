package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
)

const (
	// UpsertQueue carries admin product upserts to the worker.
	UpsertQueue = "catalog_upsert_queue"
	// EventsExchange is the topic exchange for catalog events.
	EventsExchange = "catalog_events"

	retryDelay = 10 * time.Second
)

func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each work queue together with its dead-letter queue
// and a retry queue that dead-letters back into the work queue after
// retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames ...string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", retryName, err)
		}
	}
	return nil
}

// SetupEvents declares the durable catalog events exchange.
func SetupEvents(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch *amqp091.Channel, queueName string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
	return ch.PublishWithContext(ctx, "", queueName, false, false, publishing)
}

// Publisher sends catalog events to EventsExchange. The event type is the
// routing key. Safe for concurrent use.
type Publisher struct {
	mu sync.Mutex
	ch *amqp091.Channel
}

func NewPublisher(ch *amqp091.Channel) *Publisher {
	return &Publisher{ch: ch}
}

func (p *Publisher) PublishEvent(ctx context.Context, ev catalog.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, EventsExchange, ev.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	logger.Debug("[Queue] Event published", "type", ev.Type, "id", ev.ID)
	return nil
}

// EnqueueUpsert hands msg to the worker through UpsertQueue.
func (p *Publisher) EnqueueUpsert(ctx context.Context, msg QueueUpsertMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode upsert: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishFIFO(ctx, p.ch, UpsertQueue, body); err != nil {
		return fmt.Errorf("enqueue upsert %s: %w", msg.Product.ID, err)
	}
	logger.Debug("[Queue] Upsert enqueued", "product", msg.Product.ID, "correlation_id", msg.CorrelationID)
	return nil
}

var _ catalog.Publisher = (*Publisher)(nil)
