package pgx

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr("op", nil))

	fk := &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}
	err := wrapErr("upsert", fk)
	assert.ErrorIs(t, err, graph.ErrInvalidEdge)
	assert.NotErrorIs(t, err, graph.ErrUnavailable)

	err = wrapErr("search", errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, graph.ErrUnavailable)
	assert.Contains(t, err.Error(), "search")

	notFound := wrapErr("x", graph.ErrNotFound)
	assert.ErrorIs(t, notFound, graph.ErrNotFound)
	assert.NotErrorIs(t, notFound, graph.ErrUnavailable)

	err = wrapErr("ctx", context.DeadlineExceeded)
	assert.ErrorIs(t, err, graph.ErrUnavailable)
}

func TestOrQuery(t *testing.T) {
	assert.Equal(t, "'drilling' | 'holes' | 'in' | 'wood'", orQuery("Drilling holes, in wood!"))
	assert.Equal(t, "", orQuery(" ?! "))
	assert.Equal(t, "'电钻'", orQuery("电钻"))
}

func TestPrefixQuerySkipsFillerWords(t *testing.T) {
	assert.Equal(t, "'corner':* | 'sand':*", prefixQuery("Sanding in corners"))
	assert.Equal(t, "", prefixQuery("in and to"))
	assert.Equal(t, "'电钻':*", prefixQuery("电钻"))
}

func TestTextSearchConfig(t *testing.T) {
	assert.Equal(t, "english", textSearchConfig("en"))
	assert.Equal(t, "german", textSearchConfig("DE"))
	assert.Equal(t, "simple", textSearchConfig("zh"))
}

func TestSQLLimit(t *testing.T) {
	assert.Nil(t, sqlLimit(0))
	assert.Nil(t, sqlLimit(-3))
	assert.Equal(t, 7, sqlLimit(7))
}

func TestSearchDocument(t *testing.T) {
	doc := searchDocument(common.Product{
		Name:        "Cordless Drill",
		Description: "for wood\x00",
		Brand:       "Acme",
		Category:    "drills",
		Keywords:    []string{"driver", "12v"},
	})
	require.NotContains(t, doc, "\x00")
	assert.Equal(t, "Cordless Drill for wood Acme drills driver 12v", doc)
}
