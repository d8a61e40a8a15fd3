package catalog

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	gen int64
	err error
}

func (w *fakeWriter) UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.gen++
	return w.gen, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *fakePublisher) PublishEvent(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func validProduct() (common.Product, common.ProductRelationships) {
	return common.Product{
			ID: "p1", Name: "Drill", Price: 10, Currency: "EUR", Category: "drills",
			Difficulty: common.SkillBeginner,
		}, common.ProductRelationships{
			UsedFor:      []common.UsedFor{{TaskID: "drill_wood", Confidence: 0.7}},
			ClassifiedAs: []common.ClassifiedAs{{Family: common.FamilyCommodity, Code: "27110101"}},
		}
}

func TestGenerationIsMonotonic(t *testing.T) {
	g := NewGeneration(5)
	assert.Equal(t, int64(5), g.Current())
	assert.False(t, g.Observe(3))
	assert.True(t, g.Observe(7))
	assert.False(t, g.Observe(7))
	assert.Equal(t, int64(7), g.Current())
}

func TestGenerationConcurrentObserve(t *testing.T) {
	g := NewGeneration(0)
	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			g.Observe(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(100), g.Current())
}

func TestUpsertAdvancesAndPublishes(t *testing.T) {
	w := &fakeWriter{gen: 3}
	pub := &fakePublisher{}
	g := NewGeneration(3)
	svc := NewService(w, g, pub, "node-a")

	p, rels := validProduct()
	gen, err := svc.UpsertProduct(context.Background(), p, rels)
	require.NoError(t, err)
	assert.Equal(t, int64(4), gen)
	assert.Equal(t, int64(4), g.Current())

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, EventCatalogChanged, ev.Type)
	assert.Equal(t, int64(4), ev.Generation)
	assert.Equal(t, "p1", ev.ProductID)
	assert.Equal(t, "node-a", ev.Origin)
	assert.NotEmpty(t, ev.ID)
}

func TestUpsertSucceedsWhenPublishFails(t *testing.T) {
	svc := NewService(&fakeWriter{}, NewGeneration(0), &fakePublisher{err: errors.New("broker down")}, "n")
	p, rels := validProduct()
	gen, err := svc.UpsertProduct(context.Background(), p, rels)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestUpsertWriterFailure(t *testing.T) {
	boom := errors.New("tx aborted")
	g := NewGeneration(2)
	svc := NewService(&fakeWriter{err: boom}, g, nil, "n")
	p, rels := validProduct()
	_, err := svc.UpsertProduct(context.Background(), p, rels)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), g.Current())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*common.Product, *common.ProductRelationships)
	}{
		{"missing id", func(p *common.Product, _ *common.ProductRelationships) { p.ID = "" }},
		{"negative price", func(p *common.Product, _ *common.ProductRelationships) { p.Price = -1 }},
		{"nan price", func(p *common.Product, _ *common.ProductRelationships) { p.Price = math.NaN() }},
		{"bad currency", func(p *common.Product, _ *common.ProductRelationships) { p.Currency = "EURO" }},
		{"no difficulty", func(p *common.Product, _ *common.ProductRelationships) { p.Difficulty = 0 }},
		{"confidence above one", func(_ *common.Product, r *common.ProductRelationships) { r.UsedFor[0].Confidence = 1.2 }},
		{"confidence nan", func(_ *common.Product, r *common.ProductRelationships) { r.UsedFor[0].Confidence = math.NaN() }},
		{"self compatibility", func(p *common.Product, r *common.ProductRelationships) {
			r.CompatibleWith = []common.CompatibleWith{{TargetID: p.ID, Type: "accessory"}}
		}},
		{"untyped compatibility", func(_ *common.Product, r *common.ProductRelationships) {
			r.CompatibleWith = []common.CompatibleWith{{TargetID: "p2"}}
		}},
		{"no classification", func(_ *common.Product, r *common.ProductRelationships) { r.ClassifiedAs = nil }},
		{"bad family", func(_ *common.Product, r *common.ProductRelationships) { r.ClassifiedAs[0].Family = "eclass" }},
	}

	p, rels := validProduct()
	require.NoError(t, Validate(p, rels))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rels := validProduct()
			tt.mutate(&p, &rels)
			err := Validate(p, rels)
			assert.ErrorIs(t, err, ErrInvalidProduct)
		})
	}
}
