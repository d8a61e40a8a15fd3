package recommend

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
)

// GraphStrategy scores products by the confidence of their USED_FOR edges
// towards the resolved task, or category membership when only a category is
// known. A project type adds the products of that project's tasks.
type GraphStrategy struct {
	reader graph.Reader
	limit  int
}

func NewGraphStrategy(reader graph.Reader, limit int) *GraphStrategy {
	return &GraphStrategy{reader: reader, limit: limit}
}

func (s *GraphStrategy) Name() Name { return Graph }

func (s *GraphStrategy) Score(ctx context.Context, q *Query) ([]Candidate, error) {
	level := q.Context.SkillLevel
	tq := graph.TaskQuery{
		TaskID:   q.Resolution.TaskID,
		Category: q.Resolution.Category,
	}
	if tq.TaskID == "" {
		tq.Text = q.Text
	}

	var found []graph.ScoredProduct
	if !tq.Empty() {
		products, err := s.reader.FindProductsForTask(ctx, tq, level, s.limit)
		if err != nil {
			return nil, unavailable(Graph, err)
		}
		found = append(found, products...)
	}
	if q.Context.ProjectType != "" {
		products, err := s.reader.FindProductsForProject(ctx, q.Context.ProjectType, level, s.limit)
		if err != nil {
			return nil, unavailable(Graph, err)
		}
		found = append(found, products...)
	}

	found = graph.FilterBySkill(graph.MergeMax(found), level)
	out := make([]Candidate, 0, len(found))
	for _, p := range found {
		reason := p.Reason
		if reason == "" {
			reason = fmt.Sprintf("graph match with confidence %.2f", p.Confidence)
		}
		out = append(out, Candidate{ProductID: p.Product.ID, Score: p.Confidence, Reasoning: reason})
	}
	return out, nil
}
