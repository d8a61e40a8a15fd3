// Package pgx stores the product knowledge graph in PostgreSQL. Nodes and
// edges live in plain tables; full-text search uses tsvector columns and
// product embeddings use pgvector.
package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
	Ping(ctx context.Context) error
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL.
type GraphDBStorage struct {
	conn            pgxIConn
	primaryLanguage string
	tsConfig        string
	closeFn         func()
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithCloser runs fn on Close, typically the pool's Close.
func WithCloser(fn func()) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.closeFn = fn
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. primaryLanguage selects the text search configuration
// used for product full-text search.
func NewGraphDBStorageWithConnection(conn pgxIConn, primaryLanguage string, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:            conn,
		primaryLanguage: primaryLanguage,
		tsConfig:        textSearchConfig(primaryLanguage),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// NewPool opens a pool with pgvector types registered on every connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	return pool, nil
}

func (s *GraphDBStorage) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	return nil
}

func (s *GraphDBStorage) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// textSearchConfig maps a language code to a built-in Postgres text search
// configuration.
func textSearchConfig(language string) string {
	switch strings.ToLower(language) {
	case "en":
		return "english"
	case "de":
		return "german"
	case "fr":
		return "french"
	case "es":
		return "spanish"
	case "it":
		return "italian"
	case "nl":
		return "dutch"
	}
	return "simple"
}

// wrapErr classifies a database error. Constraint violations point at bad
// input; everything else means the store could not answer.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23514", "23502":
			return fmt.Errorf("%w: %s: %s", graph.ErrInvalidEdge, op, pgErr.Message)
		}
	}
	if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrInvalidEdge) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", graph.ErrUnavailable, op, err)
}

// sqlLimit turns a non-positive limit into NULL, which Postgres treats as
// no limit.
func sqlLimit(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)
