package recommend

import (
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
)

// Name identifies one of the four scoring strategies.
type Name string

const (
	Graph         Name = "graph"
	Content       Name = "content"
	Collaborative Name = "collaborative"
	Semantic      Name = "semantic"
)

// Names is the closed set of strategies in their reporting order.
var Names = []Name{Graph, Content, Collaborative, Semantic}

func (n Name) Valid() bool {
	switch n {
	case Graph, Content, Collaborative, Semantic:
		return true
	}
	return false
}

// Status is the per-request outcome of one strategy.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNoSignal    Status = "no_signal"
	StatusUnavailable Status = "unavailable"
)

// Context carries the caller's situation.
type Context struct {
	SkillLevel    common.SkillLevel `json:"skill_level"`
	Language      string            `json:"language"`
	BudgetCeiling *float64          `json:"budget_ceiling,omitempty"`
	ProjectType   string            `json:"project_type,omitempty"`
}

// Candidate is one strategy's opinion about one product. Score must lie in
// [0,1]; fusion clamps anything outside.
type Candidate struct {
	ProductID string
	Score     float64
	Reasoning string
}

// Accessory is a product reachable over a recommended or required
// compatibility edge.
type Accessory struct {
	Product     common.Product `json:"product"`
	Type        string         `json:"type"`
	Required    bool           `json:"required"`
	Recommended bool           `json:"recommended"`
}

type RankedItem struct {
	Product    common.Product `json:"product"`
	FinalScore float64        `json:"final_score"`
	// Confidence is the share of effective weight whose strategies returned
	// this product.
	Confidence            float64                  `json:"confidence"`
	PerSourceContribution map[Name]float64         `json:"per_source_contribution"`
	Reasoning             []string                 `json:"reasoning"`
	CompatibleAccessories []Accessory              `json:"compatible_accessories"`
	MandatorySafety       []common.SafetyEquipment `json:"mandatory_safety"`
}

type StrategyReport struct {
	Strategy        Name    `json:"strategy"`
	Status          Status  `json:"status"`
	Weight          float64 `json:"weight"`
	EffectiveWeight float64 `json:"effective_weight"`
	Candidates      int     `json:"candidates"`
	DurationMs      int64   `json:"duration_ms"`
	Reason          string  `json:"reason,omitempty"`
}

// RankedResult is the full answer to one recommend call. It carries no
// per-call data so that a cached copy is identical to a fresh one.
type RankedResult struct {
	Query                 string           `json:"query"`
	TaskID                string           `json:"task_id,omitempty"`
	Category              string           `json:"category,omitempty"`
	ClassificationVersion int64            `json:"classification_version"`
	Context               Context          `json:"context"`
	Items                 []RankedItem     `json:"items"`
	Strategies            []StrategyReport `json:"strategies"`
	EffectiveWeights      map[Name]float64 `json:"effective_weights"`
	WeightsVersion        string           `json:"weights_version"`
}
