package neo4j

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/goccy/go-json"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// displayNamePrefix prefixes the per-language name properties of
// ClassificationCode nodes, e.g. name_de.
const displayNamePrefix = "name_"

// productProps flattens p into node properties. Neo4j has no map-valued
// properties, so attributes are stored as a JSON string.
func productProps(p common.Product) (map[string]any, error) {
	attrs := "{}"
	if len(p.Attributes) > 0 {
		b, err := json.Marshal(p.Attributes)
		if err != nil {
			return nil, fmt.Errorf("encode attributes of %s: %w", p.ID, err)
		}
		attrs = string(b)
	}
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"description":  p.Description,
		"price":        p.Price,
		"currency":     p.Currency,
		"category":     p.Category,
		"brand":        p.Brand,
		"keywords":     keywords,
		"attributes":   attrs,
		"stock_status": p.StockStatus,
		"difficulty":   int64(p.Difficulty),
		"professional": p.Professional,
		"search_text":  searchText(p),
	}, nil
}

func productFromMap(m map[string]any) (common.Product, error) {
	p := common.Product{
		ID:           asString(m["id"]),
		Name:         asString(m["name"]),
		Description:  asString(m["description"]),
		Price:        asFloat(m["price"]),
		Currency:     asString(m["currency"]),
		Category:     asString(m["category"]),
		Brand:        asString(m["brand"]),
		Keywords:     asStrings(m["keywords"]),
		StockStatus:  asString(m["stock_status"]),
		Difficulty:   common.SkillLevel(asInt(m["difficulty"])),
		Professional: asBool(m["professional"]),
	}
	if raw := asString(m["attributes"]); raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &p.Attributes); err != nil {
			return p, fmt.Errorf("decode attributes of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// searchText is the document indexed by product_fulltext.
func searchText(p common.Product) string {
	parts := []string{p.Name, p.Description, p.Brand, p.Category}
	parts = append(parts, p.Keywords...)
	return util.NormalizeText(strings.Join(parts, " "))
}

func taskProps(t common.Task) map[string]any {
	return map[string]any{
		"id":                t.ID,
		"name":              t.Name,
		"description":       t.Description,
		"difficulty":        int64(t.Difficulty),
		"safety_tier":       int64(t.SafetyTier),
		"estimated_minutes": int64(t.EstimatedMinutes),
		// tokens back free-text task matching
		"tokens": util.MatchTerms(t.Name, t.Description),
	}
}

func taskFromMap(m map[string]any) common.Task {
	return common.Task{
		ID:               asString(m["id"]),
		Name:             asString(m["name"]),
		Description:      asString(m["description"]),
		Difficulty:       common.SkillLevel(asInt(m["difficulty"])),
		SafetyTier:       int(asInt(m["safety_tier"])),
		EstimatedMinutes: int(asInt(m["estimated_minutes"])),
	}
}

func skillFromMap(m map[string]any) common.Skill {
	return common.Skill{
		ID:                    asString(m["id"]),
		Name:                  asString(m["name"]),
		Level:                 common.SkillLevel(asInt(m["level"])),
		CertificationRequired: asBool(m["certification_required"]),
	}
}

func safetyProps(eq common.SafetyEquipment) map[string]any {
	standards := eq.Standards
	if standards == nil {
		standards = []string{}
	}
	return map[string]any{
		"id":        eq.ID,
		"name":      eq.Name,
		"standards": standards,
		"mandatory": eq.Mandatory,
	}
}

func safetyFromMap(m map[string]any) common.SafetyEquipment {
	return common.SafetyEquipment{
		ID:        asString(m["id"]),
		Name:      asString(m["name"]),
		Standards: asStrings(m["standards"]),
		Mandatory: asBool(m["mandatory"]),
	}
}

// codeProps stores one name_<lang> property per display name so searches
// can address a language with c['name_' + $language].
func codeProps(c common.ClassificationCode) (map[string]any, error) {
	features, err := json.Marshal(c.Features)
	if err != nil {
		return nil, fmt.Errorf("encode features of %s: %w", c.Key(), err)
	}
	levels := c.Levels
	if levels == nil {
		levels = []string{}
	}
	props := map[string]any{
		"key":      c.Key(),
		"family":   string(c.Family),
		"code":     c.Code,
		"levels":   levels,
		"features": string(features),
	}
	for lang, name := range c.DisplayNames {
		props[displayNamePrefix+strings.ToLower(lang)] = name
	}
	return props, nil
}

func recordMap(rec *neo4jv5.Record, key string) map[string]any {
	v, ok := rec.Get(key)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func recordValue(rec *neo4jv5.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
