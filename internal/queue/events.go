package queue

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
)

// Reloader is the part of the classification index the listener drives.
type Reloader interface {
	Reload(ctx context.Context) (*classify.Snapshot, error)
}

// Listener applies catalog events from peers to local state.
type Listener struct {
	Generation *catalog.Generation
	Classifier Reloader
	// Origin identifies this process; its own events are skipped.
	Origin string
}

func (l *Listener) Handle(ctx context.Context, ev catalog.Event) error {
	switch ev.Type {
	case catalog.EventCatalogChanged:
		if l.Generation.Observe(ev.Generation) {
			logger.Debug("[Queue] Catalog generation advanced", "generation", ev.Generation, "origin", ev.Origin)
		}
	case catalog.EventClassificationReload:
		if ev.Origin == l.Origin || l.Classifier == nil {
			return nil
		}
		if _, err := l.Classifier.Reload(ctx); err != nil {
			return fmt.Errorf("reload classification: %w", err)
		}
	default:
		logger.Debug("[Queue] Ignoring event", "type", ev.Type)
	}
	return nil
}

// Subscribe binds a private queue to EventsExchange and feeds every event to
// l until ctx is done or the channel closes.
func Subscribe(ctx context.Context, ch *amqp091.Channel, l *Listener) error {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare event queue: %w", err)
	}
	for _, key := range []string{catalog.EventCatalogChanged, catalog.EventClassificationReload} {
		if err := ch.QueueBind(q.Name, key, EventsExchange, false, nil); err != nil {
			return fmt.Errorf("bind event queue to %s: %w", key, err)
		}
	}

	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume events: %w", err)
	}

	go func() {
		for msg := range msgs {
			var ev catalog.Event
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				logger.Warn("[Queue] Dropping malformed event", "err", err)
				continue
			}
			if err := l.Handle(ctx, ev); err != nil {
				logger.Error("[Queue] Failed to apply event", "type", ev.Type, "err", err)
			}
		}
		logger.Info("[Queue] Event subscription closed")
	}()
	return nil
}
