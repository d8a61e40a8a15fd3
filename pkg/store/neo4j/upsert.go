package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/memory"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const bumpGeneration = `
	MERGE (c:CatalogState {id: 'catalog'})
	ON CREATE SET c.generation = 0
	SET c.generation = c.generation + 1
	RETURN c.generation AS generation`

// UpsertProduct replaces p and its outgoing edges in one write transaction
// that also bumps the catalog generation.
func (s *GraphDBStorage) UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error) {
	out, err := s.write(ctx, "upsert product", func(tx neo4jv5.ManagedTransaction) (any, error) {
		if err := writeProduct(ctx, tx, p, rels); err != nil {
			return nil, err
		}
		records, err := run(ctx, tx, bumpGeneration, nil)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("catalog state missing")
		}
		return asInt(recordValue(records[0], "generation")), nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func writeProduct(ctx context.Context, tx neo4jv5.ManagedTransaction, p common.Product, rels common.ProductRelationships) error {
	for _, eq := range rels.Safety {
		if err := mergeSafety(ctx, tx, eq); err != nil {
			return err
		}
	}
	for _, c := range rels.Codes {
		if err := mergeCode(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := checkReferences(ctx, tx, p.ID, rels); err != nil {
		return err
	}

	props, err := productProps(p)
	if err != nil {
		return err
	}
	if _, err := run(ctx, tx, `
		MERGE (p:Product {id: $id})
		SET p = $props
		WITH p
		OPTIONAL MATCH (p)-[r:USED_FOR|COMPATIBLE_WITH|REQUIRES_SAFETY|CLASSIFIED_AS]->()
		DELETE r`,
		map[string]any{"id": p.ID, "props": props}); err != nil {
		return err
	}

	edges := []struct {
		cypher string
		rows   []map[string]any
	}{
		{`UNWIND $rows AS row
			MATCH (p:Product {id: $id}), (t:Task {id: row.task_id})
			CREATE (p)-[:USED_FOR {confidence: row.confidence, usage_frequency: row.usage_frequency, is_primary_tool: row.is_primary_tool}]->(t)`,
			usedForRows(rels.UsedFor)},
		{`UNWIND $rows AS row
			MATCH (p:Product {id: $id}), (o:Product {id: row.target_id})
			CREATE (p)-[:COMPATIBLE_WITH {type: row.type, recommended: row.recommended, required: row.required}]->(o)`,
			compatibleRows(rels.CompatibleWith)},
		{`UNWIND $rows AS row
			MATCH (p:Product {id: $id}), (e:SafetyEquipment {id: row.equipment_id})
			CREATE (p)-[:REQUIRES_SAFETY {mandatory: row.mandatory}]->(e)`,
			safetyRows(rels.RequiresSafety)},
		{`UNWIND $rows AS row
			MATCH (p:Product {id: $id}), (c:ClassificationCode {key: row.key})
			CREATE (p)-[:CLASSIFIED_AS]->(c)`,
			classifiedRows(rels.ClassifiedAs)},
	}
	for _, e := range edges {
		if len(e.rows) == 0 {
			continue
		}
		if _, err := run(ctx, tx, e.cypher, map[string]any{"id": p.ID, "rows": e.rows}); err != nil {
			return err
		}
	}
	return nil
}

// checkReferences rejects edges to nodes that do not exist. MATCH on a
// missing node silently produces no edge, so this runs before any write.
func checkReferences(ctx context.Context, tx neo4jv5.ManagedTransaction, id string, rels common.ProductRelationships) error {
	var tasks, targets, safety, codes []string
	for _, u := range rels.UsedFor {
		tasks = append(tasks, u.TaskID)
	}
	for _, c := range rels.CompatibleWith {
		if c.TargetID == id {
			return fmt.Errorf("%w: product %s compatible with itself", graph.ErrInvalidEdge, id)
		}
		targets = append(targets, c.TargetID)
	}
	for _, r := range rels.RequiresSafety {
		safety = append(safety, r.EquipmentID)
	}
	for _, c := range rels.ClassifiedAs {
		codes = append(codes, c.Key())
	}

	records, err := run(ctx, tx, `
		RETURN
			[x IN $tasks WHERE NOT EXISTS { MATCH (:Task {id: x}) }] AS tasks,
			[x IN $targets WHERE NOT EXISTS { MATCH (:Product {id: x}) }] AS targets,
			[x IN $safety WHERE NOT EXISTS { MATCH (:SafetyEquipment {id: x}) }] AS safety,
			[x IN $codes WHERE NOT EXISTS { MATCH (:ClassificationCode {key: x}) }] AS codes`,
		map[string]any{
			"tasks":   orEmpty(tasks),
			"targets": orEmpty(targets),
			"safety":  orEmpty(safety),
			"codes":   orEmpty(codes),
		})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rec := records[0]
	var missing []string
	for _, kind := range []string{"tasks", "targets", "safety", "codes"} {
		if ids := asStrings(recordValue(rec, kind)); len(ids) > 0 {
			missing = append(missing, kind+" "+strings.Join(ids, ","))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: product %s references unknown %s", graph.ErrInvalidEdge, id, strings.Join(missing, "; "))
	}
	return nil
}

func mergeSafety(ctx context.Context, tx neo4jv5.ManagedTransaction, eq common.SafetyEquipment) error {
	_, err := run(ctx, tx, `MERGE (e:SafetyEquipment {id: $id}) SET e = $props`,
		map[string]any{"id": eq.ID, "props": safetyProps(eq)})
	return err
}

func mergeCode(ctx context.Context, tx neo4jv5.ManagedTransaction, c common.ClassificationCode) error {
	props, err := codeProps(c)
	if err != nil {
		return err
	}
	_, err = run(ctx, tx, `MERGE (c:ClassificationCode {key: $key}) SET c = $props`,
		map[string]any{"key": c.Key(), "props": props})
	return err
}

// ImportSeed loads a development seed into the graph. Products are written
// as nodes first so compatibility edges may point forward in the file.
func (s *GraphDBStorage) ImportSeed(ctx context.Context, seed memory.Seed) (int64, error) {
	_, err := s.write(ctx, "import seed nodes", func(tx neo4jv5.ManagedTransaction) (any, error) {
		for _, t := range seed.Tasks {
			if _, err := run(ctx, tx, `MERGE (t:Task {id: $id}) SET t = $props`,
				map[string]any{"id": t.ID, "props": taskProps(t)}); err != nil {
				return nil, err
			}
		}
		for _, sk := range seed.Skills {
			if _, err := run(ctx, tx, `
				MERGE (s:Skill {id: $id})
				SET s.name = $name, s.level = $level, s.certification_required = $cert`,
				map[string]any{"id": sk.ID, "name": sk.Name, "level": int64(sk.Level), "cert": sk.CertificationRequired}); err != nil {
				return nil, err
			}
		}
		for _, rs := range seed.TaskSkills {
			if _, err := run(ctx, tx, `
				MATCH (t:Task {id: $task}), (s:Skill {id: $skill})
				MERGE (t)-[r:REQUIRES_SKILL]->(s)
				SET r.proficiency_level = $level, r.mandatory = $mandatory`,
				map[string]any{"task": rs.TaskID, "skill": rs.SkillID, "level": int64(rs.ProficiencyLevel), "mandatory": rs.Mandatory}); err != nil {
				return nil, err
			}
		}
		for _, pr := range seed.Projects {
			steps := make([]map[string]any, 0, len(pr.Steps))
			for _, st := range pr.Steps {
				steps = append(steps, map[string]any{"task_id": st.TaskID, "sequence": int64(st.Sequence), "critical_path": st.CriticalPath})
			}
			if _, err := run(ctx, tx, `
				MERGE (pr:Project {id: $id})
				SET pr.name = $name, pr.budget_tier = $budget, pr.setting = $setting
				WITH pr
				UNWIND $steps AS step
				MATCH (t:Task {id: step.task_id})
				MERGE (t)-[st:PART_OF]->(pr)
				SET st.sequence = step.sequence, st.critical_path = step.critical_path`,
				map[string]any{"id": pr.ID, "name": pr.Name, "budget": pr.BudgetTier, "setting": pr.Setting, "steps": steps}); err != nil {
				return nil, err
			}
		}
		for _, eq := range seed.Safety {
			if err := mergeSafety(ctx, tx, eq); err != nil {
				return nil, err
			}
		}
		for _, c := range seed.Codes {
			if err := mergeCode(ctx, tx, c); err != nil {
				return nil, err
			}
		}
		for _, p := range seed.Products {
			props, err := productProps(p.Product)
			if err != nil {
				return nil, err
			}
			if _, err := run(ctx, tx, `MERGE (p:Product {id: $id}) SET p = $props`,
				map[string]any{"id": p.ID, "props": props}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	for _, p := range seed.Products {
		if _, err := s.write(ctx, "import seed product", func(tx neo4jv5.ManagedTransaction) (any, error) {
			return nil, writeProduct(ctx, tx, p.Product, p.Relationships)
		}); err != nil {
			return 0, err
		}
	}

	out, err := s.write(ctx, "import seed generation", func(tx neo4jv5.ManagedTransaction) (any, error) {
		records, err := run(ctx, tx, `
			MERGE (c:CatalogState {id: 'catalog'})
			ON CREATE SET c.generation = 0
			SET c.generation = CASE WHEN c.generation + 1 > $seed THEN c.generation + 1 ELSE $seed END
			RETURN c.generation AS generation`,
			map[string]any{"seed": seed.Generation})
		if err != nil {
			return nil, err
		}
		return asInt(recordValue(records[0], "generation")), nil
	})
	if err != nil {
		return 0, err
	}
	gen := out.(int64)
	logger.Info("[Neo4j] Seed imported", "products", len(seed.Products), "generation", gen)
	return gen, nil
}

func usedForRows(edges []common.UsedFor) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, u := range edges {
		rows = append(rows, map[string]any{
			"task_id":         u.TaskID,
			"confidence":      u.Confidence,
			"usage_frequency": u.UsageFrequency,
			"is_primary_tool": u.IsPrimaryTool,
		})
	}
	return rows
}

func compatibleRows(edges []common.CompatibleWith) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, c := range edges {
		rows = append(rows, map[string]any{
			"target_id":   c.TargetID,
			"type":        c.Type,
			"recommended": c.Recommended,
			"required":    c.Required,
		})
	}
	return rows
}

func safetyRows(edges []common.RequiresSafety) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, r := range edges {
		rows = append(rows, map[string]any{"equipment_id": r.EquipmentID, "mandatory": r.Mandatory})
	}
	return rows
}

func classifiedRows(edges []common.ClassifiedAs) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, c := range edges {
		rows = append(rows, map[string]any{"key": c.Key()})
	}
	return rows
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
