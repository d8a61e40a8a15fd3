package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
)

const descriptionWeight = 0.5

// ContentStrategy compares the query's terms with each candidate's
// name, keywords, category, attributes and description using cosine
// similarity.
type ContentStrategy struct{}

func NewContentStrategy() *ContentStrategy { return &ContentStrategy{} }

func (s *ContentStrategy) Name() Name { return Content }

func (s *ContentStrategy) Score(ctx context.Context, q *Query) ([]Candidate, error) {
	terms := stemmedSet(q.Tokens)
	if len(terms) == 0 {
		return nil, &StrategyError{Strategy: Content, Kind: ErrNoSignal, Err: errors.New("query has no terms")}
	}
	products, err := q.Candidates(ctx)
	if err != nil {
		return nil, unavailable(Content, err)
	}

	out := make([]Candidate, 0, len(products))
	for _, p := range products {
		score, matched := cosine(terms, productVector(p))
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{
			ProductID: p.ID,
			Score:     score,
			Reasoning: fmt.Sprintf("shares terms %s", strings.Join(matched, ", ")),
		})
	}
	return out, nil
}

func stemmedSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[util.Stem(t)] = struct{}{}
	}
	return out
}

// productVector weighs each stemmed term of p by the most important field it
// occurs in.
func productVector(p common.Product) map[string]float64 {
	vec := map[string]float64{}
	add := func(text string, w float64) {
		for _, tok := range util.Tokenize(text) {
			tok = util.Stem(tok)
			if vec[tok] < w {
				vec[tok] = w
			}
		}
	}
	add(p.Description, descriptionWeight)
	add(p.Name, 1)
	add(p.Category, 1)
	for _, k := range p.Keywords {
		add(k, 1)
	}
	for _, v := range p.Attributes {
		add(v, 1)
	}
	return vec
}

// cosine treats the query as a binary vector.
func cosine(query map[string]struct{}, doc map[string]float64) (float64, []string) {
	var dot, norm float64
	for _, w := range doc {
		norm += w * w
	}
	if norm == 0 {
		return 0, nil
	}
	var matched []string
	for t := range query {
		if w, ok := doc[t]; ok {
			dot += w
			matched = append(matched, t)
		}
	}
	if dot == 0 {
		return 0, nil
	}
	slices.Sort(matched)
	return dot / (math.Sqrt(float64(len(query))) * math.Sqrt(norm)), matched
}

var _ Strategy = (*ContentStrategy)(nil)
var _ Strategy = (*GraphStrategy)(nil)
