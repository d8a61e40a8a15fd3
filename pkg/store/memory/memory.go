// Package memory is a map-backed graph store for development and tests. It
// implements the same traversal semantics as the database adapters.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"
)

// categoryConfidence is assigned to products reached by category rather
// than through a USED_FOR edge.
const categoryConfidence = 0.5

type Store struct {
	mu sync.RWMutex

	primaryLanguage string
	generation      int64

	products map[string]common.Product
	rels     map[string]common.ProductRelationships
	tasks    map[string]common.Task
	projects []common.Project
	skills   map[string]common.Skill
	// taskSkills holds REQUIRES_SKILL edges.
	taskSkills []common.RequiresSkill
	safety     map[string]common.SafetyEquipment
	codes      map[string]common.ClassificationCode

	closed bool
}

// New builds a store from seed. Products whose edges reference unknown nodes
// are rejected so the store never holds dangling edges.
func New(seed Seed, primaryLanguage string) (*Store, error) {
	s := &Store{
		primaryLanguage: primaryLanguage,
		generation:      seed.Generation,
		products:        map[string]common.Product{},
		rels:            map[string]common.ProductRelationships{},
		tasks:           map[string]common.Task{},
		projects:        slices.Clone(seed.Projects),
		skills:          map[string]common.Skill{},
		taskSkills:      slices.Clone(seed.TaskSkills),
		safety:          map[string]common.SafetyEquipment{},
		codes:           map[string]common.ClassificationCode{},
	}
	for _, t := range seed.Tasks {
		s.tasks[t.ID] = t
	}
	for _, sk := range seed.Skills {
		s.skills[sk.ID] = sk
	}
	for _, eq := range seed.Safety {
		s.safety[eq.ID] = eq
	}
	for _, c := range seed.Codes {
		s.codes[c.Key()] = c
	}
	// two passes so compatibility edges may point forward in the file
	for _, p := range seed.Products {
		s.products[p.ID] = p.Product
	}
	for _, p := range seed.Products {
		if err := s.checkEdges(p.ID, p.Relationships); err != nil {
			return nil, err
		}
		s.storeRelationships(p.ID, p.Relationships)
	}
	return s, nil
}

// Open loads the seed file at path.
func Open(path, primaryLanguage string) (*Store, error) {
	seed, err := LoadSeed(path)
	if err != nil {
		return nil, err
	}
	return New(seed, primaryLanguage)
}

func (s *Store) checkEdges(id string, rels common.ProductRelationships) error {
	for _, u := range rels.UsedFor {
		if _, ok := s.tasks[u.TaskID]; !ok {
			return fmt.Errorf("%w: product %s used for unknown task %s", graph.ErrInvalidEdge, id, u.TaskID)
		}
	}
	for _, c := range rels.CompatibleWith {
		if _, ok := s.products[c.TargetID]; !ok {
			return fmt.Errorf("%w: product %s compatible with unknown product %s", graph.ErrInvalidEdge, id, c.TargetID)
		}
	}
	supplied := map[string]bool{}
	for _, eq := range rels.Safety {
		supplied[eq.ID] = true
	}
	for _, r := range rels.RequiresSafety {
		if _, ok := s.safety[r.EquipmentID]; !ok && !supplied[r.EquipmentID] {
			return fmt.Errorf("%w: product %s requires unknown safety equipment %s", graph.ErrInvalidEdge, id, r.EquipmentID)
		}
	}
	codes := map[string]bool{}
	for _, c := range rels.Codes {
		codes[c.Key()] = true
	}
	for _, c := range rels.ClassifiedAs {
		if _, ok := s.codes[c.Key()]; !ok && !codes[c.Key()] {
			return fmt.Errorf("%w: product %s classified as unknown code %s", graph.ErrInvalidEdge, id, c.Key())
		}
	}
	return nil
}

func (s *Store) storeRelationships(id string, rels common.ProductRelationships) {
	for _, eq := range rels.Safety {
		s.safety[eq.ID] = eq
	}
	for _, c := range rels.Codes {
		s.codes[c.Key()] = c
	}
	rels.Safety = nil
	rels.Codes = nil
	s.rels[id] = rels
}

func (s *Store) read() error {
	if s.closed {
		return fmt.Errorf("%w: memory store closed", graph.ErrUnavailable)
	}
	return nil
}

// taskIDs resolves q to the tasks whose USED_FOR edges are followed.
func (s *Store) taskIDs(q graph.TaskQuery) []string {
	if q.TaskID != "" {
		if _, ok := s.tasks[q.TaskID]; ok {
			return []string{q.TaskID}
		}
		return nil
	}
	if q.Text == "" {
		return nil
	}
	want := util.MatchTerms(q.Text)
	if len(want) == 0 {
		return nil
	}
	var out []string
	for id, t := range s.tasks {
		for _, term := range util.MatchTerms(t.Name, t.Description) {
			if _, ok := slices.BinarySearch(want, term); ok {
				out = append(out, id)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

func (s *Store) FindProductsForTask(ctx context.Context, q graph.TaskQuery, level common.SkillLevel, limit int) ([]graph.ScoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}

	var out []graph.ScoredProduct
	if q.TaskID == "" && q.Category != "" {
		for _, p := range s.products {
			if p.Category == q.Category {
				out = append(out, graph.ScoredProduct{
					Product:    p,
					Confidence: categoryConfidence,
					Reason:     "in category " + q.Category,
				})
			}
		}
	} else {
		out = s.usedFor(s.taskIDs(q), "")
	}

	out = graph.FilterBySkill(graph.MergeMax(out), level)
	graph.Sort(out, q.Order)
	return graph.Limit(out, limit), nil
}

func (s *Store) usedFor(taskIDs []string, reasonSuffix string) []graph.ScoredProduct {
	want := map[string]bool{}
	for _, id := range taskIDs {
		want[id] = true
	}
	var out []graph.ScoredProduct
	for pid, rels := range s.rels {
		for _, u := range rels.UsedFor {
			if !want[u.TaskID] {
				continue
			}
			reason := fmt.Sprintf("used for %s (confidence %.2f)", s.tasks[u.TaskID].Name, u.Confidence)
			if u.IsPrimaryTool {
				reason = "primary tool for " + s.tasks[u.TaskID].Name
			}
			out = append(out, graph.ScoredProduct{
				Product:    s.products[pid],
				Confidence: u.Confidence,
				Reason:     reason + reasonSuffix,
			})
		}
	}
	return out
}

func (s *Store) FindProductsForProject(ctx context.Context, projectType string, level common.SkillLevel, limit int) ([]graph.ScoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}

	var out []graph.ScoredProduct
	for _, pr := range s.projects {
		if !strings.EqualFold(pr.ID, projectType) && !strings.EqualFold(pr.Setting, projectType) {
			continue
		}
		for _, step := range pr.Steps {
			suffix := " in project " + pr.Name
			if step.CriticalPath {
				suffix += " (critical path)"
			}
			out = append(out, s.usedFor([]string{step.TaskID}, suffix)...)
		}
	}
	out = graph.FilterBySkill(graph.MergeMax(out), level)
	graph.Sort(out, graph.OrderConfidence)
	return graph.Limit(out, limit), nil
}

func (s *Store) FindCompatible(ctx context.Context, productID string, compatType string) ([]graph.ScoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}
	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("%w: product %s", graph.ErrNotFound, productID)
	}

	var out []graph.ScoredProduct
	for _, c := range s.rels[productID].CompatibleWith {
		if compatType != "" && !strings.EqualFold(c.Type, compatType) {
			continue
		}
		edge := c
		out = append(out, graph.ScoredProduct{
			Product:       s.products[c.TargetID],
			Confidence:    graph.CompatibilityConfidence(c),
			Reason:        "compatible (" + c.Type + ")",
			Compatibility: &edge,
		})
	}
	graph.Sort(out, graph.OrderConfidence)
	return out, nil
}

func (s *Store) FindMandatorySafety(ctx context.Context, q graph.TaskQuery) ([]graph.SafetyRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}

	var productIDs []string
	for _, p := range s.usedFor(s.taskIDs(q), "") {
		productIDs = append(productIDs, p.Product.ID)
	}
	if q.TaskID == "" && q.Category != "" {
		for id, p := range s.products {
			if p.Category == q.Category {
				productIDs = append(productIDs, id)
			}
		}
	}

	byEquipment := map[string]*graph.SafetyRequirement{}
	for _, pid := range store.DedupeStrings(productIDs) {
		for _, r := range s.rels[pid].RequiresSafety {
			if !r.Mandatory {
				continue
			}
			req, ok := byEquipment[r.EquipmentID]
			if !ok {
				req = &graph.SafetyRequirement{Equipment: s.safety[r.EquipmentID]}
				byEquipment[r.EquipmentID] = req
			}
			req.ProductIDs = append(req.ProductIDs, pid)
		}
	}

	out := make([]graph.SafetyRequirement, 0, len(byEquipment))
	for _, req := range byEquipment {
		slices.Sort(req.ProductIDs)
		out = append(out, *req)
	}
	slices.SortFunc(out, func(a, b graph.SafetyRequirement) int {
		return strings.Compare(a.Equipment.ID, b.Equipment.ID)
	})
	return out, nil
}

func (s *Store) MandatorySafetyForProducts(ctx context.Context, productIDs []string) (map[string][]common.SafetyEquipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}

	out := map[string][]common.SafetyEquipment{}
	for _, pid := range productIDs {
		for _, r := range s.rels[pid].RequiresSafety {
			if r.Mandatory {
				out[pid] = append(out[pid], s.safety[r.EquipmentID])
			}
		}
		slices.SortFunc(out[pid], func(a, b common.SafetyEquipment) int {
			return strings.Compare(a.ID, b.ID)
		})
	}
	return out, nil
}

// Search matches the product text for the primary language and the
// per-language classification display names for every other language.
func (s *Store) Search(ctx context.Context, text string, language string, limit int) ([]graph.ScoredProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}

	needle := util.NormalizeText(text)
	if needle == "" {
		return nil, nil
	}

	var out []graph.ScoredProduct
	if language == "" || language == s.primaryLanguage {
		out = s.fullText(needle)
	} else {
		out = s.displayNameSearch(needle, language)
	}
	out = graph.MergeMax(out)
	graph.Sort(out, graph.OrderConfidence)
	return graph.Limit(out, limit), nil
}

func (s *Store) fullText(needle string) []graph.ScoredProduct {
	query := util.TokenSet(needle)
	var out []graph.ScoredProduct
	for _, p := range s.products {
		doc := util.NormalizeText(strings.Join(append([]string{p.Name, p.Description, p.Brand}, p.Keywords...), " "))
		var score float64
		if util.ContainsHan(needle) {
			if strings.Contains(doc, needle) {
				score = 1
			}
		} else {
			words := util.TokenSet(doc)
			hits := 0
			for tok := range query {
				if _, ok := words[tok]; ok {
					hits++
				}
			}
			score = float64(hits) / float64(len(query))
		}
		if score > 0 {
			out = append(out, graph.ScoredProduct{Product: p, Confidence: score, Reason: "matches \"" + needle + "\""})
		}
	}
	return out
}

func (s *Store) displayNameSearch(needle, language string) []graph.ScoredProduct {
	matched := map[string]float64{}
	for key, c := range s.codes {
		name := util.NormalizeText(c.DisplayNames[language])
		if name == "" {
			continue
		}
		switch {
		case name == needle:
			matched[key] = 1
		case strings.Contains(name, needle) || strings.Contains(needle, name):
			matched[key] = 0.8
		}
	}

	var out []graph.ScoredProduct
	for pid, rels := range s.rels {
		for _, c := range rels.ClassifiedAs {
			if score, ok := matched[c.Key()]; ok {
				out = append(out, graph.ScoredProduct{
					Product:    s.products[pid],
					Confidence: score,
					Reason:     "classified as " + s.codes[c.Key()].DisplayNames[language],
				})
			}
		}
	}
	return out
}

func (s *Store) LearningPath(ctx context.Context, skillID string, current common.SkillLevel) ([]graph.TaskStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}
	skill, ok := s.skills[skillID]
	if !ok {
		return nil, fmt.Errorf("%w: skill %s", graph.ErrNotFound, skillID)
	}

	var steps []graph.TaskStep
	for _, rs := range s.taskSkills {
		if rs.SkillID != skillID || rs.ProficiencyLevel <= current {
			continue
		}
		steps = append(steps, graph.TaskStep{
			Task:          s.tasks[rs.TaskID],
			Skill:         skill,
			RequiredLevel: rs.ProficiencyLevel,
			Mandatory:     rs.Mandatory,
		})
	}
	graph.LearningOrder(steps)
	return steps, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]common.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}
	out := make(map[string]common.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ProductsInCategory(ctx context.Context, category string, level common.SkillLevel, limit int) ([]common.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return nil, err
	}
	var out []common.Product
	for _, p := range s.products {
		if p.Category == category && level.Permits(p.Difficulty) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b common.Product) int { return strings.Compare(a.ID, b.ID) })
	return graph.Limit(out, limit), nil
}

func (s *Store) UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.read(); err != nil {
		return 0, err
	}

	prev, existed := s.products[p.ID]
	s.products[p.ID] = p
	if err := s.checkEdges(p.ID, rels); err != nil {
		if existed {
			s.products[p.ID] = prev
		} else {
			delete(s.products, p.ID)
		}
		return 0, err
	}
	s.storeRelationships(p.ID, rels)
	s.generation++
	return s.generation, nil
}

func (s *Store) CatalogGeneration(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(); err != nil {
		return 0, err
	}
	return s.generation, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

// Close makes every later call fail with graph.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ store.GraphStorage = (*Store)(nil)
