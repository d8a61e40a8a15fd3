package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/collab"
)

// CollaborativeStrategy scores products by how often they were bought
// alongside the resolved task or category. Each list is scaled by its own
// maximum so the most frequent product scores 1.
type CollaborativeStrategy struct {
	source collab.Source
	limit  int
}

func NewCollaborativeStrategy(source collab.Source, limit int) *CollaborativeStrategy {
	return &CollaborativeStrategy{source: source, limit: limit}
}

func (s *CollaborativeStrategy) Name() Name { return Collaborative }

func (s *CollaborativeStrategy) Score(ctx context.Context, q *Query) ([]Candidate, error) {
	type lookup struct {
		scope collab.Scope
		key   string
	}
	var lookups []lookup
	if q.Resolution.TaskID != "" {
		lookups = append(lookups, lookup{collab.ScopeTask, q.Resolution.TaskID})
	}
	if q.Resolution.Category != "" {
		lookups = append(lookups, lookup{collab.ScopeCategory, q.Resolution.Category})
	}
	if len(lookups) == 0 {
		return nil, &StrategyError{Strategy: Collaborative, Kind: ErrNoSignal, Err: errors.New("query resolved to no task or category")}
	}

	idx := map[string]int{}
	var out []Candidate
	for _, l := range lookups {
		stats, err := s.source.CoOccurrence(ctx, l.scope, l.key, s.limit)
		if err != nil {
			return nil, unavailable(Collaborative, err)
		}
		var top float64
		for _, st := range stats {
			top = max(top, st.Score)
		}
		if top <= 0 {
			continue
		}
		for _, st := range stats {
			score := st.Score / top
			if score <= 0 {
				continue
			}
			c := Candidate{
				ProductID: st.ProductID,
				Score:     score,
				Reasoning: fmt.Sprintf("frequently chosen for %s %s", l.scope, l.key),
			}
			if i, ok := idx[st.ProductID]; ok {
				if score > out[i].Score {
					out[i] = c
				}
				continue
			}
			idx[st.ProductID] = len(out)
			out = append(out, c)
		}
	}
	return out, nil
}

var _ Strategy = (*CollaborativeStrategy)(nil)
