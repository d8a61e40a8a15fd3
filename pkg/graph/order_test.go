package graph

import (
	"testing"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/stretchr/testify/assert"
)

func sp(id string, conf, price float64, diff common.SkillLevel) ScoredProduct {
	return ScoredProduct{
		Product:    common.Product{ID: id, Name: id, Price: price, Difficulty: diff},
		Confidence: conf,
	}
}

func ids(in []ScoredProduct) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = p.Product.ID
	}
	return out
}

func TestSortConfidenceThenPrice(t *testing.T) {
	in := []ScoredProduct{
		sp("c", 0.5, 10, common.SkillBeginner),
		sp("b", 0.9, 30, common.SkillBeginner),
		sp("a", 0.9, 20, common.SkillBeginner),
		sp("d", 0.9, 20, common.SkillBeginner),
	}
	Sort(in, OrderConfidence)
	assert.Equal(t, []string{"a", "d", "b", "c"}, ids(in))
}

func TestSortPrice(t *testing.T) {
	in := []ScoredProduct{
		sp("a", 0.9, 20, common.SkillBeginner),
		sp("b", 0.1, 5, common.SkillBeginner),
	}
	Sort(in, OrderPrice)
	assert.Equal(t, []string{"b", "a"}, ids(in))
}

func TestFilterBySkill(t *testing.T) {
	levels := []common.SkillLevel{
		common.SkillBeginner, common.SkillIntermediate, common.SkillAdvanced, common.SkillProfessional,
	}
	for _, user := range levels {
		for _, diff := range levels {
			out := FilterBySkill([]ScoredProduct{sp("p", 1, 1, diff)}, user)
			if diff <= user {
				assert.Len(t, out, 1, "user %s product %s", user, diff)
			} else {
				assert.Empty(t, out, "user %s product %s", user, diff)
			}
		}
	}
}

func TestMergeMaxKeepsHighest(t *testing.T) {
	out := MergeMax([]ScoredProduct{
		sp("a", 0.4, 1, common.SkillBeginner),
		sp("b", 0.7, 1, common.SkillBeginner),
		sp("a", 0.8, 1, common.SkillBeginner),
	})
	assert.Equal(t, []string{"a", "b"}, ids(out))
	assert.Equal(t, 0.8, out[0].Confidence)
}

func TestLearningOrderNumbersSteps(t *testing.T) {
	steps := []TaskStep{
		{Task: common.Task{ID: "t2", Difficulty: common.SkillAdvanced}, RequiredLevel: common.SkillAdvanced},
		{Task: common.Task{ID: "t1", Difficulty: common.SkillBeginner}, RequiredLevel: common.SkillIntermediate},
	}
	LearningOrder(steps)
	assert.Equal(t, "t1", steps[0].Task.ID)
	assert.Equal(t, 1, steps[0].Step)
	assert.Equal(t, 2, steps[1].Step)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("")
	assert.NoError(t, err)
	assert.Equal(t, OrderConfidence, o)
	_, err = ParseOrder("random")
	assert.Error(t, err)
}

func TestGroupByEquipment(t *testing.T) {
	goggles := common.SafetyEquipment{ID: "goggles", Name: "Goggles", Mandatory: true}
	ear := common.SafetyEquipment{ID: "ear_protection", Name: "Ear protection", Mandatory: true}
	got := GroupByEquipment(map[string][]common.SafetyEquipment{
		"p-drill-pro":   {ear, goggles},
		"p-drill-basic": {goggles},
	})
	assert.Equal(t, []SafetyRequirement{
		{Equipment: ear, ProductIDs: []string{"p-drill-pro"}},
		{Equipment: goggles, ProductIDs: []string{"p-drill-basic", "p-drill-pro"}},
	}, got)
	assert.Empty(t, GroupByEquipment(nil))
}
