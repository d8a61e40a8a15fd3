// Package neo4j stores the product knowledge graph in Neo4j. Nodes and
// relationships map one to one onto the graph model and product search uses
// the product_fulltext index.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const fullTextIndex = "product_fulltext"

type Config struct {
	URI      string
	Username string
	Password string
	// Database is empty for the server's default database.
	Database        string
	PrimaryLanguage string

	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
}

// GraphDBStorage implements store.GraphStorage on Neo4j.
type GraphDBStorage struct {
	driver          neo4jv5.DriverWithContext
	database        string
	primaryLanguage string
}

// Connect opens a driver and verifies connectivity, retrying with
// exponential backoff.
func Connect(ctx context.Context, cfg Config) (*GraphDBStorage, error) {
	auth := neo4jv5.BasicAuth(cfg.Username, cfg.Password, "")
	configure := func(c *neo4jv5.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		if cfg.ConnectionTimeout > 0 {
			c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
		}
	}

	const attempts = 5
	driver, err := util.RetryWithBackoff(ctx, attempts, 100*time.Millisecond, func(ctx context.Context, attempt int) (neo4jv5.DriverWithContext, error) {
		driver, err := neo4jv5.NewDriverWithContext(cfg.URI, auth, configure)
		if err == nil {
			if err = driver.VerifyConnectivity(ctx); err == nil {
				return driver, nil
			}
			_ = driver.Close(ctx)
		}
		logger.Warn("[Neo4j] Connection attempt failed", "attempt", attempt, "err", err)
		return nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect after %d attempts: %v", graph.ErrUnavailable, attempts, err)
	}
	return &GraphDBStorage{
		driver:          driver,
		database:        cfg.Database,
		primaryLanguage: cfg.PrimaryLanguage,
	}, nil
}

// EnsureSchema creates the uniqueness constraints and the full-text index.
// Every statement is idempotent.
func (s *GraphDBStorage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT product_id IF NOT EXISTS FOR (n:Product) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT task_id IF NOT EXISTS FOR (n:Task) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT project_id IF NOT EXISTS FOR (n:Project) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT skill_id IF NOT EXISTS FOR (n:Skill) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT safety_id IF NOT EXISTS FOR (n:SafetyEquipment) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT code_key IF NOT EXISTS FOR (n:ClassificationCode) REQUIRE n.key IS UNIQUE",
		fmt.Sprintf(
			"CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:Product) ON EACH [n.search_text] "+
				"OPTIONS {indexConfig: {`fulltext.analyzer`: '%s'}}",
			fullTextIndex, analyzerFor(s.primaryLanguage),
		),
	}
	for _, stmt := range statements {
		if _, err := neo4jv5.ExecuteQuery(ctx, s.driver, stmt, nil, neo4jv5.EagerResultTransformer,
			neo4jv5.ExecuteQueryWithDatabase(s.database)); err != nil {
			return wrapErr("ensure schema", err)
		}
	}
	return nil
}

func (s *GraphDBStorage) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrUnavailable, err)
	}
	return nil
}

func (s *GraphDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.driver.Close(ctx)
}

// read runs a read-only query routed to a reader.
func (s *GraphDBStorage) read(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	res, err := neo4jv5.ExecuteQuery(ctx, s.driver, cypher, params, neo4jv5.EagerResultTransformer,
		neo4jv5.ExecuteQueryWithDatabase(s.database),
		neo4jv5.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return res.Records, nil
}

// write runs fn in a managed write transaction.
func (s *GraphDBStorage) write(ctx context.Context, op string, fn func(tx neo4jv5.ManagedTransaction) (any, error)) (any, error) {
	session := s.driver.NewSession(ctx, neo4jv5.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4jv5.AccessModeWrite,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, fn)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func run(ctx context.Context, tx neo4jv5.ManagedTransaction, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

// analyzerFor picks the Lucene analyzer of the full-text index.
func analyzerFor(language string) string {
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
	case "zh", "ja", "ko":
		return "cjk"
	}
	return "standard-no-stop-words"
}

// wrapErr classifies a driver error. Constraint violations point at bad
// input; everything else means the store could not answer.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrInvalidEdge) {
		return err
	}
	var neoErr *neo4jv5.Neo4jError
	if errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.ClientError.Schema.ConstraintValidationFailed") {
		return fmt.Errorf("%w: %s: %s", graph.ErrInvalidEdge, op, neoErr.Msg)
	}
	return fmt.Errorf("%w: %s: %v", graph.ErrUnavailable, op, err)
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)
