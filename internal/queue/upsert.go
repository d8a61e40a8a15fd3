package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
)

// MaxAttempts is how often a message is processed before it is moved to the
// dead-letter queue.
const MaxAttempts = 3

const attemptsHeader = "x-attempts"

// ErrMalformedMessage marks a message body that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

type QueueUpsertMsg struct {
	CorrelationID string                      `json:"correlation_id"`
	Product       common.Product              `json:"product"`
	Relationships common.ProductRelationships `json:"relationships"`
}

func ProcessUpsertMessage(ctx context.Context, svc *catalog.Service, body []byte) (int64, error) {
	var msg QueueUpsertMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Product.ID == "" {
		return 0, fmt.Errorf("%w: product id missing", ErrMalformedMessage)
	}

	logger.Info("[Queue] Processing upsert", "product", msg.Product.ID, "correlation_id", msg.CorrelationID)
	return svc.UpsertProduct(ctx, msg.Product, msg.Relationships)
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, catalog.ErrInvalidProduct) ||
		errors.Is(err, graph.ErrInvalidEdge)
}

// HandleProcessingError routes a failed delivery to the retry queue, or to the
// dead-letter queue once MaxAttempts is reached or the failure is permanent.
func HandleProcessingError(ctx context.Context, ch *amqp091.Channel, msg amqp091.Delivery, queueName string, permanent bool) {
	attempts := Attempts(msg.Headers) + 1
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[attemptsHeader] = int32(attempts)

	target := queueName + "_retry"
	if permanent || attempts >= MaxAttempts {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "attempts", attempts)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}

// Attempts reads the number of failed attempts recorded on a delivery.
func Attempts(headers amqp091.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
