// Package catalog is the admin write path of the product graph.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var ErrInvalidProduct = errors.New("invalid product")

const (
	EventCatalogChanged       = "catalog.changed"
	EventClassificationReload = "classification.reload"
)

// Event is published on the catalog events topic.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Generation int64     `json:"generation,omitempty"`
	ProductID  string    `json:"product_id,omitempty"`
	Origin     string    `json:"origin"`
	At         time.Time `json:"at"`
}

func NewEvent(eventType, origin string) Event {
	return Event{
		ID:     gonanoid.Must(),
		Type:   eventType,
		Origin: origin,
		At:     time.Now().UTC(),
	}
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// Writer is the storage side of an upsert.
type Writer interface {
	UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error)
}

type Service struct {
	writer Writer
	gen    *Generation
	pub    Publisher
	origin string
}

// NewService wires the write path. pub may be nil when no peers need to be
// told about changes.
func NewService(writer Writer, gen *Generation, pub Publisher, origin string) *Service {
	return &Service{writer: writer, gen: gen, pub: pub, origin: origin}
}

// UpsertProduct validates and stores p with its outgoing edges, advances the
// local generation and announces the change. A failed announcement is logged;
// the write itself has already committed.
func (s *Service) UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error) {
	if err := Validate(p, rels); err != nil {
		return 0, err
	}

	gen, err := s.writer.UpsertProduct(ctx, p, rels)
	if err != nil {
		return 0, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	s.gen.Observe(gen)
	logger.Info("[Catalog] Product upserted", "product", p.ID, "generation", gen)

	if s.pub != nil {
		ev := NewEvent(EventCatalogChanged, s.origin)
		ev.Generation = gen
		ev.ProductID = p.ID
		if err := s.pub.PublishEvent(ctx, ev); err != nil {
			logger.Warn("[Catalog] Failed to publish change event", "product", p.ID, "generation", gen, "err", err)
		}
	}
	return gen, nil
}

// Validate checks a product and its edges before they reach storage.
func Validate(p common.Product, rels common.ProductRelationships) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(p.ID) == "" {
		add("id must not be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		add("name must not be empty")
	}
	if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		add("price must be a non-negative number")
	}
	if len(p.Currency) != 3 {
		add("currency must be a three letter code")
	}
	if strings.TrimSpace(p.Category) == "" {
		add("category must not be empty")
	}
	if !p.Difficulty.Valid() {
		add("difficulty must be one of beginner, intermediate, advanced, professional")
	}

	for i, u := range rels.UsedFor {
		if u.TaskID == "" {
			add("used_for[%d]: task_id must not be empty", i)
		}
		if !(u.Confidence >= 0 && u.Confidence <= 1) {
			add("used_for[%d]: confidence must be within [0,1]", i)
		}
	}
	for i, c := range rels.CompatibleWith {
		if c.TargetID == "" || c.TargetID == p.ID {
			add("compatible_with[%d]: target must be another product", i)
		}
		if strings.TrimSpace(c.Type) == "" {
			add("compatible_with[%d]: type must not be empty", i)
		}
	}
	for i, r := range rels.RequiresSafety {
		if r.EquipmentID == "" {
			add("requires_safety[%d]: equipment_id must not be empty", i)
		}
	}
	for i, eq := range rels.Safety {
		if eq.ID == "" || eq.Name == "" {
			add("safety[%d]: id and name are required", i)
		}
	}
	if len(rels.ClassifiedAs) == 0 {
		add("at least one classified_as edge is required")
	}
	for i, c := range rels.ClassifiedAs {
		if !c.Family.Valid() || c.Code == "" {
			add("classified_as[%d]: family must be commodity or feature and code must be set", i)
		}
	}
	for i, c := range rels.Codes {
		if !c.Family.Valid() || c.Code == "" {
			add("codes[%d]: family must be commodity or feature and code must be set", i)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidProduct, errors.Join(errs...))
}
