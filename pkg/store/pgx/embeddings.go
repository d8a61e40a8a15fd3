package pgx

import (
	"context"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// GetEmbeddings returns the stored vectors of productIDs for model. Missing
// products are absent from the map. The pool must have pgvector types
// registered, see NewPool.
func (s *GraphDBStorage) GetEmbeddings(ctx context.Context, model string, productIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(productIDs))
	ids := store.DedupeStrings(productIDs)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT product_id, embedding
		FROM product_embeddings
		WHERE model = $1 AND product_id = ANY($2)`, model, ids)
	if err != nil {
		return nil, wrapErr("get embeddings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, wrapErr("scan embedding", err)
		}
		out[id] = vec.Slice()
	}
	return out, wrapErr("get embeddings", rows.Err())
}

// PutEmbeddings stores vectors for model, replacing older ones. Vectors of
// products that no longer exist are skipped.
func (s *GraphDBStorage) PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	batch := &pgxv5.Batch{}
	for id, v := range vectors {
		batch.Queue(`
			INSERT INTO product_embeddings (product_id, model, embedding, updated_at)
			SELECT id, $2, $3, now() FROM products WHERE id = $1
			ON CONFLICT (product_id, model) DO UPDATE SET
				embedding = EXCLUDED.embedding, updated_at = now()`,
			id, model, pgvector.NewVector(v))
	}
	return wrapErr("put embeddings", s.conn.SendBatch(ctx, batch).Close())
}
