package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// categoryConfidence is assigned to products reached by category rather
// than through a USED_FOR edge.
const categoryConfidence = 0.5

// taskIDs resolves q to the tasks whose USED_FOR edges are followed. Free
// text matches any stemmed term of a task's name or description.
func (s *GraphDBStorage) taskIDs(ctx context.Context, q graph.TaskQuery) ([]string, error) {
	if q.TaskID != "" {
		return []string{q.TaskID}, nil
	}
	tokens := util.MatchTerms(q.Text)
	if len(tokens) == 0 {
		return nil, nil
	}
	records, err := s.read(ctx, "match tasks", `
		MATCH (t:Task)
		WHERE any(tok IN coalesce(t.tokens, []) WHERE tok IN $tokens)
		RETURN t.id AS id ORDER BY id`,
		map[string]any{"tokens": tokens})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, asString(recordValue(rec, "id")))
	}
	return ids, nil
}

func (s *GraphDBStorage) usedFor(ctx context.Context, taskIDs []string, level common.SkillLevel) ([]graph.ScoredProduct, error) {
	records, err := s.read(ctx, "find products for task", `
		MATCH (p:Product)-[u:USED_FOR]->(t:Task)
		WHERE t.id IN $tasks AND p.difficulty <= $level
		RETURN p {.*} AS product, u.confidence AS confidence, u.is_primary_tool AS primary, t.name AS task`,
		map[string]any{"tasks": taskIDs, "level": int64(level)})
	if err != nil {
		return nil, err
	}

	out := make([]graph.ScoredProduct, 0, len(records))
	for _, rec := range records {
		p, err := productFromMap(recordMap(rec, "product"))
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		conf := asFloat(recordValue(rec, "confidence"))
		taskName := asString(recordValue(rec, "task"))
		reason := fmt.Sprintf("used for %s (confidence %.2f)", taskName, conf)
		if asBool(recordValue(rec, "primary")) {
			reason = "primary tool for " + taskName
		}
		out = append(out, graph.ScoredProduct{Product: p, Confidence: conf, Reason: reason})
	}
	return out, nil
}

func (s *GraphDBStorage) FindProductsForTask(ctx context.Context, q graph.TaskQuery, level common.SkillLevel, limit int) ([]graph.ScoredProduct, error) {
	var out []graph.ScoredProduct
	if q.TaskID == "" && q.Category != "" {
		products, err := s.ProductsInCategory(ctx, q.Category, level, 0)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			out = append(out, graph.ScoredProduct{Product: p, Confidence: categoryConfidence, Reason: "in category " + q.Category})
		}
	} else {
		ids, err := s.taskIDs(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			if out, err = s.usedFor(ctx, ids, level); err != nil {
				return nil, err
			}
		}
	}

	out = graph.FilterBySkill(graph.MergeMax(out), level)
	graph.Sort(out, q.Order)
	return graph.Limit(out, limit), nil
}

func (s *GraphDBStorage) FindProductsForProject(ctx context.Context, projectType string, level common.SkillLevel, limit int) ([]graph.ScoredProduct, error) {
	records, err := s.read(ctx, "find products for project", `
		MATCH (pr:Project)<-[st:PART_OF]-(t:Task)<-[u:USED_FOR]-(p:Product)
		WHERE (toLower(pr.id) = toLower($project) OR toLower(pr.setting) = toLower($project))
		  AND p.difficulty <= $level
		RETURN p {.*} AS product, u.confidence AS confidence, u.is_primary_tool AS primary,
			t.name AS task, pr.name AS project, st.critical_path AS critical`,
		map[string]any{"project": projectType, "level": int64(level)})
	if err != nil {
		return nil, err
	}

	out := make([]graph.ScoredProduct, 0, len(records))
	for _, rec := range records {
		p, err := productFromMap(recordMap(rec, "product"))
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		conf := asFloat(recordValue(rec, "confidence"))
		taskName := asString(recordValue(rec, "task"))
		reason := fmt.Sprintf("used for %s (confidence %.2f)", taskName, conf)
		if asBool(recordValue(rec, "primary")) {
			reason = "primary tool for " + taskName
		}
		reason += " in project " + asString(recordValue(rec, "project"))
		if asBool(recordValue(rec, "critical")) {
			reason += " (critical path)"
		}
		out = append(out, graph.ScoredProduct{Product: p, Confidence: conf, Reason: reason})
	}
	out = graph.FilterBySkill(graph.MergeMax(out), level)
	graph.Sort(out, graph.OrderConfidence)
	return graph.Limit(out, limit), nil
}

func (s *GraphDBStorage) FindCompatible(ctx context.Context, productID string, compatType string) ([]graph.ScoredProduct, error) {
	records, err := s.read(ctx, "find compatible", `
		MATCH (src:Product {id: $id})
		OPTIONAL MATCH (src)-[c:COMPATIBLE_WITH]->(p:Product)
		WHERE $type = '' OR toLower(c.type) = toLower($type)
		RETURN p {.*} AS product, c.type AS type, c.recommended AS recommended, c.required AS required`,
		map[string]any{"id": productID, "type": compatType})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: product %s", graph.ErrNotFound, productID)
	}

	var out []graph.ScoredProduct
	for _, rec := range records {
		m := recordMap(rec, "product")
		if m == nil {
			continue
		}
		p, err := productFromMap(m)
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		edge := common.CompatibleWith{
			TargetID:    p.ID,
			Type:        asString(recordValue(rec, "type")),
			Recommended: asBool(recordValue(rec, "recommended")),
			Required:    asBool(recordValue(rec, "required")),
		}
		out = append(out, graph.ScoredProduct{
			Product:       p,
			Confidence:    graph.CompatibilityConfidence(edge),
			Reason:        "compatible (" + edge.Type + ")",
			Compatibility: &edge,
		})
	}
	graph.Sort(out, graph.OrderConfidence)
	return out, nil
}

func (s *GraphDBStorage) FindMandatorySafety(ctx context.Context, q graph.TaskQuery) ([]graph.SafetyRequirement, error) {
	var records []*neo4jv5.Record
	var err error
	if q.TaskID == "" && q.Category != "" {
		records, err = s.read(ctx, "find mandatory safety", `
			MATCH (p:Product {category: $category}) RETURN p.id AS id`,
			map[string]any{"category": q.Category})
	} else {
		var ids []string
		if ids, err = s.taskIDs(ctx, q); err != nil {
			return nil, err
		}
		records, err = s.read(ctx, "find mandatory safety", `
			MATCH (p:Product)-[:USED_FOR]->(t:Task)
			WHERE t.id IN $tasks
			RETURN DISTINCT p.id AS id`,
			map[string]any{"tasks": ids})
	}
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(records))
	for _, rec := range records {
		productIDs = append(productIDs, asString(recordValue(rec, "id")))
	}
	byProduct, err := s.MandatorySafetyForProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	return graph.GroupByEquipment(byProduct), nil
}

func (s *GraphDBStorage) MandatorySafetyForProducts(ctx context.Context, productIDs []string) (map[string][]common.SafetyEquipment, error) {
	out := map[string][]common.SafetyEquipment{}
	ids := store.DedupeStrings(productIDs)
	if len(ids) == 0 {
		return out, nil
	}
	records, err := s.read(ctx, "mandatory safety", `
		MATCH (p:Product)-[r:REQUIRES_SAFETY]->(e:SafetyEquipment)
		WHERE p.id IN $ids AND r.mandatory
		RETURN p.id AS product, e {.*} AS equipment, e.id AS equipment_id
		ORDER BY product, equipment_id`,
		map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		pid := asString(recordValue(rec, "product"))
		out[pid] = append(out[pid], safetyFromMap(recordMap(rec, "equipment")))
	}
	return out, nil
}

// Search uses the full-text index for the primary language and the
// classification display names for every other language.
func (s *GraphDBStorage) Search(ctx context.Context, text string, language string, limit int) ([]graph.ScoredProduct, error) {
	needle := util.NormalizeText(text)
	if needle == "" {
		return nil, nil
	}
	var out []graph.ScoredProduct
	var err error
	if language == "" || language == s.primaryLanguage {
		out, err = s.fullText(ctx, needle)
	} else {
		out, err = s.displayNameSearch(ctx, needle, language)
	}
	if err != nil {
		return nil, err
	}
	out = graph.MergeMax(out)
	graph.Sort(out, graph.OrderConfidence)
	return graph.Limit(out, limit), nil
}

// fullText queries product_fulltext. Lucene scores are unbounded, so they are
// divided by the best score of the result.
func (s *GraphDBStorage) fullText(ctx context.Context, needle string) ([]graph.ScoredProduct, error) {
	query := luceneQuery(needle)
	if query == "" {
		return nil, nil
	}
	records, err := s.read(ctx, "search", `
		CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
		RETURN node {.*} AS product, score`,
		map[string]any{"index": fullTextIndex, "query": query})
	if err != nil {
		return nil, err
	}

	out := make([]graph.ScoredProduct, 0, len(records))
	var best float64
	for _, rec := range records {
		p, err := productFromMap(recordMap(rec, "product"))
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		score := asFloat(recordValue(rec, "score"))
		best = max(best, score)
		out = append(out, graph.ScoredProduct{Product: p, Confidence: score, Reason: "matches \"" + needle + "\""})
	}
	if best > 0 {
		for i := range out {
			out[i].Confidence /= best
		}
	}
	return out, nil
}

func (s *GraphDBStorage) displayNameSearch(ctx context.Context, needle, language string) ([]graph.ScoredProduct, error) {
	records, err := s.read(ctx, "search display names", `
		MATCH (p:Product)-[:CLASSIFIED_AS]->(c:ClassificationCode)
		WITH p, c[$property] AS display
		WHERE display IS NOT NULL
		WITH p, display, toLower(display) AS name
		WHERE name = $needle OR name CONTAINS $needle OR $needle CONTAINS name
		RETURN p {.*} AS product, display, CASE WHEN name = $needle THEN 1.0 ELSE 0.8 END AS score`,
		map[string]any{"property": displayNamePrefix + strings.ToLower(language), "needle": needle})
	if err != nil {
		return nil, err
	}

	out := make([]graph.ScoredProduct, 0, len(records))
	for _, rec := range records {
		p, err := productFromMap(recordMap(rec, "product"))
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		out = append(out, graph.ScoredProduct{
			Product:    p,
			Confidence: asFloat(recordValue(rec, "score")),
			Reason:     "classified as " + asString(recordValue(rec, "display")),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) LearningPath(ctx context.Context, skillID string, current common.SkillLevel) ([]graph.TaskStep, error) {
	records, err := s.read(ctx, "learning path", `
		MATCH (s:Skill {id: $skill})
		OPTIONAL MATCH (t:Task)-[r:REQUIRES_SKILL]->(s)
		WHERE r.proficiency_level > $level
		RETURN s {.*} AS skill, t {.*} AS task, r.proficiency_level AS required, r.mandatory AS mandatory`,
		map[string]any{"skill": skillID, "level": int64(current)})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: skill %s", graph.ErrNotFound, skillID)
	}

	var steps []graph.TaskStep
	for _, rec := range records {
		task := recordMap(rec, "task")
		if task == nil {
			continue
		}
		steps = append(steps, graph.TaskStep{
			Task:          taskFromMap(task),
			Skill:         skillFromMap(recordMap(rec, "skill")),
			RequiredLevel: common.SkillLevel(asInt(recordValue(rec, "required"))),
			Mandatory:     asBool(recordValue(rec, "mandatory")),
		})
	}
	graph.LearningOrder(steps)
	return steps, nil
}

func (s *GraphDBStorage) GetProducts(ctx context.Context, ids []string) (map[string]common.Product, error) {
	out := make(map[string]common.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	records, err := s.read(ctx, "get products", `
		MATCH (p:Product) WHERE p.id IN $ids RETURN p {.*} AS product`,
		map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		p, err := productFromMap(recordMap(rec, "product"))
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		out[p.ID] = p
	}
	return out, nil
}

func (s *GraphDBStorage) ProductsInCategory(ctx context.Context, category string, level common.SkillLevel, limit int) ([]common.Product, error) {
	cypher := `
		MATCH (p:Product {category: $category})
		WHERE p.difficulty <= $level
		RETURN p {.*} AS product ORDER BY p.id`
	params := map[string]any{"category": category, "level": int64(level)}
	if limit > 0 {
		cypher += " LIMIT $limit"
		params["limit"] = int64(limit)
	}
	records, err := s.read(ctx, "products in category", cypher, params)
	if err != nil {
		return nil, err
	}

	out := make([]common.Product, 0, len(records))
	for _, rec := range records {
		p, err := productFromMap(recordMap(rec, "product"))
		if err != nil {
			return nil, wrapErr("decode product", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *GraphDBStorage) CatalogGeneration(ctx context.Context) (int64, error) {
	records, err := s.read(ctx, "catalog generation", `
		OPTIONAL MATCH (c:CatalogState {id: 'catalog'})
		RETURN coalesce(c.generation, 0) AS generation`, nil)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return asInt(recordValue(records[0], "generation")), nil
}

// luceneQuery builds a query matching any token of needle. Han text has no
// word boundaries and is searched as a phrase.
func luceneQuery(needle string) string {
	if util.ContainsHan(needle) {
		return `"` + escapeLucene(needle) + `"`
	}
	tokens := util.Tokenize(needle)
	for i, tok := range tokens {
		tokens[i] = escapeLucene(tok)
	}
	return strings.Join(tokens, " OR ")
}

var luceneSpecial = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `&`, `\&`, `|`, `\|`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

func escapeLucene(s string) string {
	return luceneSpecial.Replace(s)
}
