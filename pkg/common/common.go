package common

import (
	"fmt"
	"strings"
)

// SkillLevel is the proficiency scale shared by users, products and skills.
// The zero value is invalid; levels are totally ordered so that
// beginner < intermediate < advanced < professional.
type SkillLevel int

const (
	SkillBeginner SkillLevel = iota + 1
	SkillIntermediate
	SkillAdvanced
	SkillProfessional
)

var skillLevelNames = map[SkillLevel]string{
	SkillBeginner:     "beginner",
	SkillIntermediate: "intermediate",
	SkillAdvanced:     "advanced",
	SkillProfessional: "professional",
}

// ParseSkillLevel converts the textual level used on the wire and in storage.
func ParseSkillLevel(s string) (SkillLevel, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for level, name := range skillLevelNames {
		if name == needle {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown skill level %q", s)
}

func (l SkillLevel) String() string {
	if name, ok := skillLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("SkillLevel(%d)", int(l))
}

// Valid reports whether l is one of the four defined levels.
func (l SkillLevel) Valid() bool {
	_, ok := skillLevelNames[l]
	return ok
}

// Permits reports whether a user at level l may receive a product whose
// declared difficulty is d.
func (l SkillLevel) Permits(d SkillLevel) bool {
	return d <= l
}

func (l SkillLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid skill level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *SkillLevel) UnmarshalText(b []byte) error {
	level, err := ParseSkillLevel(string(b))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// Product is a catalog item. The recommendation core only reads products;
// they are created by the catalog management process.
type Product struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Price        float64           `json:"price"`
	Currency     string            `json:"currency"`
	Category     string            `json:"category"`
	Brand        string            `json:"brand"`
	Keywords     []string          `json:"keywords"`
	Attributes   map[string]string `json:"attributes"`
	StockStatus  string            `json:"stock_status"`
	Difficulty   SkillLevel        `json:"difficulty"`
	Professional bool              `json:"professional"`
}

// Task is a discrete unit of work that products are used for.
type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Difficulty       SkillLevel `json:"difficulty"`
	SafetyTier       int        `json:"safety_tier"`
	EstimatedMinutes int        `json:"estimated_minutes"`
}

// Project groups tasks into an ordered plan.
type Project struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Steps      []ProjectStep `json:"steps"`
	BudgetTier string        `json:"budget_tier"`
	Setting    string        `json:"setting"`
}

// ProjectStep is the PART_OF edge from a task to its project.
type ProjectStep struct {
	TaskID       string `json:"task_id"`
	Sequence     int    `json:"sequence"`
	CriticalPath bool   `json:"critical_path"`
}

type Skill struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Level                 SkillLevel `json:"level"`
	CertificationRequired bool       `json:"certification_required"`
}

type SafetyEquipment struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Standards []string `json:"standards"`
	Mandatory bool     `json:"mandatory"`
}

// ClassificationFamily distinguishes the two code systems a product can be
// classified under.
type ClassificationFamily string

const (
	// FamilyCommodity is the hierarchical commodity code.
	FamilyCommodity ClassificationFamily = "commodity"
	// FamilyFeature is the multilingual technical-feature class.
	FamilyFeature ClassificationFamily = "feature"
)

func (f ClassificationFamily) Valid() bool {
	return f == FamilyCommodity || f == FamilyFeature
}

type ClassificationCode struct {
	Family       ClassificationFamily `json:"family"`
	Code         string               `json:"code"`
	Levels       []string             `json:"levels"`
	DisplayNames map[string]string    `json:"display_names"`
	Features     map[string]string    `json:"features"`
}

// Key identifies a code across both families.
func (c ClassificationCode) Key() string {
	return string(c.Family) + ":" + c.Code
}

// UsedFor is the Product -USED_FOR-> Task edge.
type UsedFor struct {
	TaskID         string  `json:"task_id"`
	Confidence     float64 `json:"confidence"`
	UsageFrequency float64 `json:"usage_frequency"`
	IsPrimaryTool  bool    `json:"is_primary_tool"`
}

// CompatibleWith is the directed Product -COMPATIBLE_WITH-> Product edge.
// The reverse direction is a separate edge with its own attributes.
type CompatibleWith struct {
	TargetID    string `json:"target_id"`
	Type        string `json:"type"`
	Recommended bool   `json:"recommended"`
	Required    bool   `json:"required"`
}

// RequiresSafety is the Product -REQUIRES_SAFETY-> SafetyEquipment edge.
type RequiresSafety struct {
	EquipmentID string `json:"equipment_id"`
	Mandatory   bool   `json:"mandatory"`
}

// RequiresSkill is the Task -REQUIRES_SKILL-> Skill edge.
type RequiresSkill struct {
	TaskID           string     `json:"task_id"`
	SkillID          string     `json:"skill_id"`
	ProficiencyLevel SkillLevel `json:"proficiency_level"`
	Mandatory        bool       `json:"mandatory"`
}

// ClassifiedAs is the Product -CLASSIFIED_AS-> ClassificationCode edge.
type ClassifiedAs struct {
	Family ClassificationFamily `json:"family"`
	Code   string               `json:"code"`
}

func (c ClassifiedAs) Key() string {
	return string(c.Family) + ":" + c.Code
}

// ProductRelationships holds every outgoing edge of one product. An upsert
// replaces all of them at once.
type ProductRelationships struct {
	UsedFor        []UsedFor            `json:"used_for"`
	CompatibleWith []CompatibleWith     `json:"compatible_with"`
	RequiresSafety []RequiresSafety     `json:"requires_safety"`
	ClassifiedAs   []ClassifiedAs       `json:"classified_as"`
	Codes          []ClassificationCode `json:"codes,omitempty"`
	Safety         []SafetyEquipment    `json:"safety,omitempty"`
}
