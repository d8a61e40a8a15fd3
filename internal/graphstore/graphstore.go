// Package graphstore opens the graph store selected by GRAPH_ADAPTER.
package graphstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/config"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/migrate"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/memory"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/neo4j"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store/pgx"
)

// SeedImporter loads a seed document into a database-backed store.
type SeedImporter interface {
	ImportSeed(ctx context.Context, seed memory.Seed) (int64, error)
}

type Options struct {
	// Migrate applies schema changes before the store is used.
	Migrate bool
}

// Open connects the configured adapter. The memory adapter reads its seed
// from the file named by GRAPH_STORE_URL.
func Open(ctx context.Context, cfg *config.Config, opts Options) (store.GraphStorage, error) {
	switch cfg.Graph.Adapter {
	case config.AdapterPgx:
		if opts.Migrate {
			if err := migrate.Up(cfg.Graph.URL); err != nil {
				return nil, err
			}
		}
		pool, err := pgx.NewPool(ctx, cfg.Graph.URL)
		if err != nil {
			return nil, err
		}
		s := pgx.NewGraphDBStorageWithConnection(pool, cfg.PrimaryLanguage, pgx.WithCloser(pool.Close))
		if err := s.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("[Graph] Connected", "adapter", cfg.Graph.Adapter)
		return s, nil

	case config.AdapterNeo4j:
		s, err := neo4j.Connect(ctx, neo4j.Config{
			URI:               cfg.Graph.URL,
			Username:          cfg.Graph.User,
			Password:          cfg.Graph.Password,
			PrimaryLanguage:   cfg.PrimaryLanguage,
			ConnectionTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := s.EnsureSchema(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		logger.Info("[Graph] Connected", "adapter", cfg.Graph.Adapter)
		return s, nil

	case config.AdapterMemory:
		path, err := FilePath(cfg.Graph.URL)
		if err != nil {
			return nil, err
		}
		s, err := memory.Open(path, cfg.PrimaryLanguage)
		if err != nil {
			return nil, err
		}
		logger.Info("[Graph] Loaded in-memory graph", "path", path)
		return s, nil
	}
	return nil, fmt.Errorf("unknown graph adapter %q", cfg.Graph.Adapter)
}

// FilePath returns the path of a file:// URL, relative paths included.
func FilePath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("want a file:// url, got scheme %q", u.Scheme)
	}
	return u.Host + u.Path, nil
}

// Seed imports the seed file at path when s supports it.
func Seed(ctx context.Context, s store.GraphStorage, path string) (int64, error) {
	importer, ok := s.(SeedImporter)
	if !ok {
		return 0, fmt.Errorf("graph store %T does not import seeds", s)
	}
	seed, err := memory.LoadSeed(path)
	if err != nil {
		return 0, err
	}
	return importer.ImportSeed(ctx, seed)
}
