package memory

import (
	"fmt"
	"os"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/goccy/go-json"
)

// Seed is the JSON document the development store is loaded from. The same
// file may also carry classification keywords and co-occurrence statistics,
// which are read by their own sources.
type Seed struct {
	Generation int64                       `json:"generation"`
	Tasks      []common.Task               `json:"tasks"`
	Projects   []common.Project            `json:"projects"`
	Skills     []common.Skill              `json:"skills"`
	TaskSkills []common.RequiresSkill      `json:"task_skills"`
	Safety     []common.SafetyEquipment    `json:"safety"`
	Codes      []common.ClassificationCode `json:"codes"`
	Products   []SeedProduct               `json:"products"`
}

type SeedProduct struct {
	common.Product
	Relationships common.ProductRelationships `json:"relationships"`
}

// LoadSeed reads a Seed from a JSON file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	b, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &seed); err != nil {
		return seed, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}
