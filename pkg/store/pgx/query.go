package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// categoryConfidence is assigned to products reached by category rather
// than through a USED_FOR edge.
const categoryConfidence = 0.5

// taskIDs resolves q to the tasks whose USED_FOR edges are followed. Free
// text matches any word of a task's name or description that starts with a
// stemmed query term.
func (s *GraphDBStorage) taskIDs(ctx context.Context, q graph.TaskQuery) ([]string, error) {
	if q.TaskID != "" {
		return []string{q.TaskID}, nil
	}
	tsq := prefixQuery(q.Text)
	if tsq == "" {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id FROM tasks
		WHERE search @@ to_tsquery('simple', $1)
		ORDER BY id`, tsq)
	if err != nil {
		return nil, wrapErr("match tasks", err)
	}
	ids, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	return ids, wrapErr("match tasks", err)
}

func (s *GraphDBStorage) usedFor(ctx context.Context, taskIDs []string, level common.SkillLevel) ([]graph.ScoredProduct, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+productColumns+`, u.confidence, u.is_primary_tool, t.name
		FROM used_for u
		JOIN products p ON p.id = u.product_id
		JOIN tasks t ON t.id = u.task_id
		WHERE u.task_id = ANY($1) AND p.difficulty <= $2`, taskIDs, int16(level))
	if err != nil {
		return nil, wrapErr("find products for task", err)
	}
	defer rows.Close()

	var out []graph.ScoredProduct
	for rows.Next() {
		var conf float64
		var primary bool
		var taskName string
		p, err := scanProduct(rows, &conf, &primary, &taskName)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		reason := fmt.Sprintf("used for %s (confidence %.2f)", taskName, conf)
		if primary {
			reason = "primary tool for " + taskName
		}
		out = append(out, graph.ScoredProduct{Product: p, Confidence: conf, Reason: reason})
	}
	return out, wrapErr("find products for task", rows.Err())
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
	rows, err := s.conn.Query(ctx, `
		SELECT `+productColumns+`, u.confidence, t.name, pr.name, st.critical_path
		FROM projects pr
		JOIN project_steps st ON st.project_id = pr.id
		JOIN used_for u ON u.task_id = st.task_id
		JOIN tasks t ON t.id = u.task_id
		JOIN products p ON p.id = u.product_id
		WHERE (lower(pr.id) = lower($1) OR lower(pr.setting) = lower($1))
		  AND p.difficulty <= $2`, projectType, int16(level))
	if err != nil {
		return nil, wrapErr("find products for project", err)
	}
	defer rows.Close()

	var out []graph.ScoredProduct
	for rows.Next() {
		var conf float64
		var taskName, projectName string
		var critical bool
		p, err := scanProduct(rows, &conf, &taskName, &projectName, &critical)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		reason := fmt.Sprintf("used for %s (confidence %.2f) in project %s", taskName, conf, projectName)
		if critical {
			reason += " (critical path)"
		}
		out = append(out, graph.ScoredProduct{Product: p, Confidence: conf, Reason: reason})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find products for project", err)
	}
	out = graph.FilterBySkill(graph.MergeMax(out), level)
	graph.Sort(out, graph.OrderConfidence)
	return graph.Limit(out, limit), nil
}

func (s *GraphDBStorage) FindCompatible(ctx context.Context, productID string, compatType string) ([]graph.ScoredProduct, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, wrapErr("find compatible", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: product %s", graph.ErrNotFound, productID)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+productColumns+`, c.type, c.recommended, c.required
		FROM compatible_with c
		JOIN products p ON p.id = c.target_id
		WHERE c.product_id = $1 AND ($2 = '' OR lower(c.type) = lower($2))`, productID, compatType)
	if err != nil {
		return nil, wrapErr("find compatible", err)
	}
	defer rows.Close()

	var out []graph.ScoredProduct
	for rows.Next() {
		edge := common.CompatibleWith{}
		p, err := scanProduct(rows, &edge.Type, &edge.Recommended, &edge.Required)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		edge.TargetID = p.ID
		out = append(out, graph.ScoredProduct{
			Product:       p,
			Confidence:    graph.CompatibilityConfidence(edge),
			Reason:        "compatible (" + edge.Type + ")",
			Compatibility: &edge,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find compatible", err)
	}
	graph.Sort(out, graph.OrderConfidence)
	return out, nil
}

func (s *GraphDBStorage) FindMandatorySafety(ctx context.Context, q graph.TaskQuery) ([]graph.SafetyRequirement, error) {
	var productIDs []string
	if q.TaskID == "" && q.Category != "" {
		rows, err := s.conn.Query(ctx, `SELECT id FROM products WHERE category = $1`, q.Category)
		if err != nil {
			return nil, wrapErr("find mandatory safety", err)
		}
		if productIDs, err = pgxv5.CollectRows(rows, pgxv5.RowTo[string]); err != nil {
			return nil, wrapErr("find mandatory safety", err)
		}
	} else {
		ids, err := s.taskIDs(ctx, q)
		if err != nil {
			return nil, err
		}
		rows, err := s.conn.Query(ctx, `SELECT DISTINCT product_id FROM used_for WHERE task_id = ANY($1)`, ids)
		if err != nil {
			return nil, wrapErr("find mandatory safety", err)
		}
		if productIDs, err = pgxv5.CollectRows(rows, pgxv5.RowTo[string]); err != nil {
			return nil, wrapErr("find mandatory safety", err)
		}
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
	rows, err := s.conn.Query(ctx, `
		SELECT r.product_id, e.id, e.name, e.standards, e.mandatory
		FROM requires_safety r
		JOIN safety_equipment e ON e.id = r.equipment_id
		WHERE r.mandatory AND r.product_id = ANY($1)
		ORDER BY r.product_id, e.id`, ids)
	if err != nil {
		return nil, wrapErr("mandatory safety", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		var eq common.SafetyEquipment
		if err := rows.Scan(&pid, &eq.ID, &eq.Name, &eq.Standards, &eq.Mandatory); err != nil {
			return nil, wrapErr("scan safety", err)
		}
		out[pid] = append(out[pid], eq)
	}
	return out, wrapErr("mandatory safety", rows.Err())
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
		out, err = s.fullText(ctx, needle, limit)
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

func (s *GraphDBStorage) fullText(ctx context.Context, needle string, limit int) ([]graph.ScoredProduct, error) {
	// normalization 32 maps the rank into [0,1)
	rows, err := s.conn.Query(ctx, `
		SELECT `+productColumns+`, ts_rank_cd(p.search, q, 32)
		FROM products p, to_tsquery($1::regconfig, $2) q
		WHERE p.search @@ q
		ORDER BY 13 DESC, p.id
		LIMIT $3`, s.tsConfig, orQuery(needle), sqlLimit(limit))
	if err != nil {
		return nil, wrapErr("search", err)
	}
	defer rows.Close()

	var out []graph.ScoredProduct
	for rows.Next() {
		var rank float64
		p, err := scanProduct(rows, &rank)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		out = append(out, graph.ScoredProduct{Product: p, Confidence: rank, Reason: "matches \"" + needle + "\""})
	}
	return out, wrapErr("search", rows.Err())
}

func (s *GraphDBStorage) displayNameSearch(ctx context.Context, needle, language string) ([]graph.ScoredProduct, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+productColumns+`,
			CASE WHEN lower(n.display_name) = $2 THEN 1.0 ELSE 0.8 END,
			n.display_name
		FROM classification_names n
		JOIN classified_as c ON c.family = n.family AND c.code = n.code
		JOIN products p ON p.id = c.product_id
		WHERE n.language = $1
		  AND (lower(n.display_name) = $2
		       OR strpos(lower(n.display_name), $2) > 0
		       OR strpos($2, lower(n.display_name)) > 0)`, language, needle)
	if err != nil {
		return nil, wrapErr("search display names", err)
	}
	defer rows.Close()

	var out []graph.ScoredProduct
	for rows.Next() {
		var score float64
		var name string
		p, err := scanProduct(rows, &score, &name)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		out = append(out, graph.ScoredProduct{Product: p, Confidence: score, Reason: "classified as " + name})
	}
	return out, wrapErr("search display names", rows.Err())
}

func (s *GraphDBStorage) LearningPath(ctx context.Context, skillID string, current common.SkillLevel) ([]graph.TaskStep, error) {
	var skill common.Skill
	var level int16
	err := s.conn.QueryRow(ctx, `
		SELECT id, name, level, certification_required FROM skills WHERE id = $1`, skillID,
	).Scan(&skill.ID, &skill.Name, &level, &skill.CertificationRequired)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("%w: skill %s", graph.ErrNotFound, skillID)
	}
	if err != nil {
		return nil, wrapErr("learning path", err)
	}
	skill.Level = common.SkillLevel(level)

	rows, err := s.conn.Query(ctx, `
		SELECT t.id, t.name, t.description, t.difficulty, t.safety_tier, t.estimated_minutes,
			ts.proficiency_level, ts.mandatory
		FROM task_skills ts
		JOIN tasks t ON t.id = ts.task_id
		WHERE ts.skill_id = $1 AND ts.proficiency_level > $2`, skillID, int16(current))
	if err != nil {
		return nil, wrapErr("learning path", err)
	}
	defer rows.Close()

	var steps []graph.TaskStep
	for rows.Next() {
		var step graph.TaskStep
		var difficulty, required int16
		if err := rows.Scan(
			&step.Task.ID, &step.Task.Name, &step.Task.Description, &difficulty,
			&step.Task.SafetyTier, &step.Task.EstimatedMinutes, &required, &step.Mandatory,
		); err != nil {
			return nil, wrapErr("scan task", err)
		}
		step.Task.Difficulty = common.SkillLevel(difficulty)
		step.RequiredLevel = common.SkillLevel(required)
		step.Skill = skill
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("learning path", err)
	}
	graph.LearningOrder(steps)
	return steps, nil
}

func (s *GraphDBStorage) GetProducts(ctx context.Context, ids []string) (map[string]common.Product, error) {
	out := make(map[string]common.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapErr("get products", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		out[p.ID] = p
	}
	return out, wrapErr("get products", rows.Err())
}

func (s *GraphDBStorage) ProductsInCategory(ctx context.Context, category string, level common.SkillLevel, limit int) ([]common.Product, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.category = $1 AND p.difficulty <= $2
		ORDER BY p.id
		LIMIT $3`, category, int16(level), sqlLimit(limit))
	if err != nil {
		return nil, wrapErr("products in category", err)
	}
	defer rows.Close()

	var out []common.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapErr("scan product", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("products in category", rows.Err())
}

func (s *GraphDBStorage) CatalogGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := s.conn.QueryRow(ctx, `SELECT generation FROM catalog_state WHERE id`).Scan(&gen)
	return gen, wrapErr("catalog generation", err)
}
