package catalog

import (
	"sync/atomic"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/metrics"
)

// Generation tracks the highest catalog generation this process has seen.
// It never moves backwards, so events arriving out of order are harmless.
type Generation struct {
	v atomic.Int64
}

func NewGeneration(initial int64) *Generation {
	g := &Generation{}
	g.Observe(initial)
	return g
}

func (g *Generation) Current() int64 {
	return g.v.Load()
}

// Observe raises the generation to v if v is newer and reports whether it did.
func (g *Generation) Observe(v int64) bool {
	for {
		cur := g.v.Load()
		if v <= cur {
			return false
		}
		if g.v.CompareAndSwap(cur, v) {
			metrics.CatalogGeneration.Set(float64(v))
			return true
		}
	}
}
