package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/memory"

	pgxv5 "github.com/jackc/pgx/v5"
)

// UpsertProduct writes p and replaces its outgoing edges in one
// transaction, bumping the catalog generation. Edges to unknown nodes fail
// with graph.ErrInvalidEdge and leave the catalog untouched.
func (s *GraphDBStorage) UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, wrapErr("begin upsert", err)
	}
	defer tx.Rollback(ctx)

	if err := s.writeProduct(ctx, tx, p, rels); err != nil {
		return 0, err
	}

	var gen int64
	if err := tx.QueryRow(ctx, `
		UPDATE catalog_state SET generation = generation + 1 WHERE id
		RETURNING generation`).Scan(&gen); err != nil {
		return 0, wrapErr("bump generation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrapErr("commit upsert", err)
	}
	return gen, nil
}

func (s *GraphDBStorage) writeProduct(ctx context.Context, tx pgxv5.Tx, p common.Product, rels common.ProductRelationships) error {
	batch := &pgxv5.Batch{}
	for _, eq := range rels.Safety {
		queueSafety(batch, eq)
	}
	for _, c := range rels.Codes {
		queueCode(batch, c)
	}

	attributes := p.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	batch.Queue(`
		INSERT INTO products (id, name, description, price, currency, category, brand,
			keywords, attributes, stock_status, difficulty, professional, search, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, to_tsvector($13::regconfig, $14), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
			currency = EXCLUDED.currency, category = EXCLUDED.category, brand = EXCLUDED.brand,
			keywords = EXCLUDED.keywords, attributes = EXCLUDED.attributes,
			stock_status = EXCLUDED.stock_status, difficulty = EXCLUDED.difficulty,
			professional = EXCLUDED.professional, search = EXCLUDED.search, updated_at = now()`,
		p.ID, p.Name, p.Description, p.Price, p.Currency, p.Category, p.Brand,
		keywords, attributes, p.StockStatus, int16(p.Difficulty), p.Professional,
		s.tsConfig, searchDocument(p),
	)

	for _, table := range []string{"used_for", "compatible_with", "requires_safety", "classified_as", "product_embeddings"} {
		batch.Queue(`DELETE FROM ` + table + ` WHERE product_id = $1`, p.ID)
	}
	for _, u := range rels.UsedFor {
		batch.Queue(`
			INSERT INTO used_for (product_id, task_id, confidence, usage_frequency, is_primary_tool)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, u.TaskID, u.Confidence, u.UsageFrequency, u.IsPrimaryTool)
	}
	for _, c := range rels.CompatibleWith {
		batch.Queue(`
			INSERT INTO compatible_with (product_id, target_id, type, recommended, required)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, c.TargetID, c.Type, c.Recommended, c.Required)
	}
	for _, r := range rels.RequiresSafety {
		batch.Queue(`
			INSERT INTO requires_safety (product_id, equipment_id, mandatory)
			VALUES ($1, $2, $3)`,
			p.ID, r.EquipmentID, r.Mandatory)
	}
	for _, c := range rels.ClassifiedAs {
		batch.Queue(`
			INSERT INTO classified_as (product_id, family, code)
			VALUES ($1, $2, $3)`,
			p.ID, string(c.Family), c.Code)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return wrapErr(fmt.Sprintf("upsert product %s", p.ID), err)
		}
	}
	return wrapErr("upsert product", br.Close())
}

func queueSafety(batch *pgxv5.Batch, eq common.SafetyEquipment) {
	standards := eq.Standards
	if standards == nil {
		standards = []string{}
	}
	batch.Queue(`
		INSERT INTO safety_equipment (id, name, standards, mandatory)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, standards = EXCLUDED.standards, mandatory = EXCLUDED.mandatory`,
		eq.ID, eq.Name, standards, eq.Mandatory)
}

func queueCode(batch *pgxv5.Batch, c common.ClassificationCode) {
	levels := c.Levels
	if levels == nil {
		levels = []string{}
	}
	features := c.Features
	if features == nil {
		features = map[string]string{}
	}
	batch.Queue(`
		INSERT INTO classification_codes (family, code, levels, features)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (family, code) DO UPDATE SET levels = EXCLUDED.levels, features = EXCLUDED.features`,
		string(c.Family), c.Code, levels, features)
	for lang, name := range c.DisplayNames {
		batch.Queue(`
			INSERT INTO classification_names (family, code, language, display_name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (family, code, language) DO UPDATE SET display_name = EXCLUDED.display_name`,
			string(c.Family), c.Code, lang, name)
	}
}

// ImportSeed loads a development seed document into an empty or existing
// database. Nodes are upserted, products are written with their edges, and
// the catalog generation is raised to at least the seed's generation.
func (s *GraphDBStorage) ImportSeed(ctx context.Context, seed memory.Seed) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, wrapErr("begin import", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgxv5.Batch{}
	for _, t := range seed.Tasks {
		batch.Queue(`
			INSERT INTO tasks (id, name, description, difficulty, safety_tier, estimated_minutes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
				difficulty = EXCLUDED.difficulty, safety_tier = EXCLUDED.safety_tier,
				estimated_minutes = EXCLUDED.estimated_minutes`,
			t.ID, t.Name, t.Description, int16(t.Difficulty), t.SafetyTier, t.EstimatedMinutes)
	}
	for _, sk := range seed.Skills {
		batch.Queue(`
			INSERT INTO skills (id, name, level, certification_required)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, level = EXCLUDED.level,
				certification_required = EXCLUDED.certification_required`,
			sk.ID, sk.Name, int16(sk.Level), sk.CertificationRequired)
	}
	for _, rs := range seed.TaskSkills {
		batch.Queue(`
			INSERT INTO task_skills (task_id, skill_id, proficiency_level, mandatory)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (task_id, skill_id) DO UPDATE SET
				proficiency_level = EXCLUDED.proficiency_level, mandatory = EXCLUDED.mandatory`,
			rs.TaskID, rs.SkillID, int16(rs.ProficiencyLevel), rs.Mandatory)
	}
	for _, pr := range seed.Projects {
		batch.Queue(`
			INSERT INTO projects (id, name, budget_tier, setting)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
				budget_tier = EXCLUDED.budget_tier, setting = EXCLUDED.setting`,
			pr.ID, pr.Name, pr.BudgetTier, pr.Setting)
		batch.Queue(`DELETE FROM project_steps WHERE project_id = $1`, pr.ID)
		for _, st := range pr.Steps {
			batch.Queue(`
				INSERT INTO project_steps (project_id, task_id, sequence, critical_path)
				VALUES ($1, $2, $3, $4)`,
				pr.ID, st.TaskID, st.Sequence, st.CriticalPath)
		}
	}
	for _, eq := range seed.Safety {
		queueSafety(batch, eq)
	}
	for _, c := range seed.Codes {
		queueCode(batch, c)
	}
	// products first so compatibility edges may point forward in the file
	for _, p := range seed.Products {
		batch.Queue(`
			INSERT INTO products (id, name, price, currency, category, difficulty, search)
			VALUES ($1, $2, $3, $4, $5, $6, ''::tsvector)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.Price, p.Currency, p.Category, int16(p.Difficulty))
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, wrapErr("import nodes", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, wrapErr("import nodes", err)
	}

	for _, p := range seed.Products {
		if err := s.writeProduct(ctx, tx, p.Product, p.Relationships); err != nil {
			return 0, err
		}
	}

	var gen int64
	if err := tx.QueryRow(ctx, `
		UPDATE catalog_state SET generation = GREATEST(generation + 1, $1) WHERE id
		RETURNING generation`, seed.Generation).Scan(&gen); err != nil {
		return 0, wrapErr("bump generation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrapErr("commit import", err)
	}
	return gen, nil
}
