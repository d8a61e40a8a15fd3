// Package graph defines the read contract of the product knowledge graph and
// the value types its traversals return. Adapters live under pkg/store.
package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
)

var (
	// ErrUnavailable means the backing store could not be reached. It is never
	// reported as an empty result.
	ErrUnavailable = errors.New("graph unavailable")
	ErrNotFound    = errors.New("graph: not found")
	ErrInvalidEdge = errors.New("graph: invalid edge")
)

// Order selects how traversal results are sorted.
type Order int

const (
	// OrderConfidence sorts by edge confidence desc, then price asc.
	OrderConfidence Order = iota
	// OrderPrice sorts by price asc, then confidence desc.
	OrderPrice
	// OrderName sorts alphabetically by product name.
	OrderName
)

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "confidence":
		return OrderConfidence, nil
	case "price":
		return OrderPrice, nil
	case "name":
		return OrderName, nil
	}
	return 0, errors.New("unknown order " + s)
}

// TaskQuery selects the task whose products are wanted. TaskID wins over
// Category, which wins over Text.
type TaskQuery struct {
	TaskID   string
	Category string
	Text     string
	Order    Order
}

func (q TaskQuery) Empty() bool {
	return q.TaskID == "" && q.Category == "" && strings.TrimSpace(q.Text) == ""
}

// ScoredProduct is a product reached by a traversal together with the
// confidence of the edge (or match) that reached it.
type ScoredProduct struct {
	Product    common.Product `json:"product"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	// Compatibility is set for results of FindCompatible.
	Compatibility *common.CompatibleWith `json:"compatibility,omitempty"`
}

type SafetyRequirement struct {
	Equipment common.SafetyEquipment `json:"equipment"`
	// ProductIDs lists the products whose usage requires the equipment.
	ProductIDs []string `json:"product_ids"`
}

// TaskStep is one entry of a learning path.
type TaskStep struct {
	Step          int               `json:"step"`
	Task          common.Task       `json:"task"`
	Skill         common.Skill      `json:"skill"`
	RequiredLevel common.SkillLevel `json:"required_level"`
	Mandatory     bool              `json:"mandatory"`
}

// Reader is the traversal contract used on the request path. Implementations
// are safe for concurrent use and wrap connectivity failures in ErrUnavailable.
type Reader interface {
	FindProductsForTask(ctx context.Context, q TaskQuery, level common.SkillLevel, limit int) ([]ScoredProduct, error)
	// FindProductsForProject returns products used for tasks of the projects
	// whose id or setting equals projectType.
	FindProductsForProject(ctx context.Context, projectType string, level common.SkillLevel, limit int) ([]ScoredProduct, error)
	// FindCompatible follows outgoing COMPATIBLE_WITH edges only. An empty
	// compatType matches every type.
	FindCompatible(ctx context.Context, productID string, compatType string) ([]ScoredProduct, error)
	FindMandatorySafety(ctx context.Context, q TaskQuery) ([]SafetyRequirement, error)
	// MandatorySafetyForProducts returns, per product id, the equipment its
	// REQUIRES_SAFETY(mandatory=true) edges point to.
	MandatorySafetyForProducts(ctx context.Context, productIDs []string) (map[string][]common.SafetyEquipment, error)
	Search(ctx context.Context, text string, language string, limit int) ([]ScoredProduct, error)
	LearningPath(ctx context.Context, skillID string, current common.SkillLevel) ([]TaskStep, error)
	GetProducts(ctx context.Context, ids []string) (map[string]common.Product, error)
	ProductsInCategory(ctx context.Context, category string, level common.SkillLevel, limit int) ([]common.Product, error)
}

// CompatibilityConfidence ranks compatibility edges, which carry flags rather
// than a confidence value.
func CompatibilityConfidence(c common.CompatibleWith) float64 {
	switch {
	case c.Required:
		return 1
	case c.Recommended:
		return 0.75
	default:
		return 0.5
	}
}
