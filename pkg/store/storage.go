package store

import (
	"context"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
)

// GraphStorage is a product knowledge graph backend. Reads follow the
// graph.Reader contract; writes are limited to the catalog maintenance path.
type GraphStorage interface {
	graph.Reader

	// UpsertProduct writes p, replaces all of its outgoing edges and bumps the
	// catalog generation in one atomic step. It returns the new generation.
	UpsertProduct(ctx context.Context, p common.Product, rels common.ProductRelationships) (int64, error)
	// CatalogGeneration returns the persisted catalog generation.
	CatalogGeneration(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
