package memory

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeed(t *testing.T) *Store {
	t.Helper()
	s, err := Open("testdata/catalog.json", "en")
	require.NoError(t, err)
	return s
}

func productIDs(in []graph.ScoredProduct) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = p.Product.ID
	}
	return out
}

func TestFindProductsForTaskFiltersBySkill(t *testing.T) {
	s := openSeed(t)
	ctx := context.Background()

	got, err := s.FindProductsForTask(ctx, graph.TaskQuery{TaskID: "drill_wood"}, common.SkillBeginner, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-drill-basic", "p-bit-wood"}, productIDs(got))
	assert.Equal(t, 0.9, got[0].Confidence)

	got, err = s.FindProductsForTask(ctx, graph.TaskQuery{TaskID: "drill_wood"}, common.SkillProfessional, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-drill-pro", "p-drill-basic", "p-drill-mid", "p-bit-wood"}, productIDs(got))

	got, err = s.FindProductsForTask(ctx, graph.TaskQuery{TaskID: "drill_wood"}, common.SkillProfessional, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTaskTextIgnoresFillerWords(t *testing.T) {
	s := openSeed(t)

	assert.Equal(t, []string{"sand_wood"}, s.taskIDs(graph.TaskQuery{Text: "sanding in corners"}))
	assert.Empty(t, s.taskIDs(graph.TaskQuery{Text: "in and into"}))
	assert.Equal(t, []string{"drill_masonry", "drill_wood"}, s.taskIDs(graph.TaskQuery{Text: "drills"}))
}

func TestFindProductsForCategoryOrdersByPrice(t *testing.T) {
	s := openSeed(t)
	got, err := s.FindProductsForTask(context.Background(), graph.TaskQuery{Category: "drills"}, common.SkillIntermediate, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-drill-basic", "p-drill-mid"}, productIDs(got))
}

func TestFindProductsForProject(t *testing.T) {
	s := openSeed(t)
	got, err := s.FindProductsForProject(context.Background(), "workshop", common.SkillBeginner, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-drill-basic", "p-sander", "p-bit-wood"}, productIDs(got))
	assert.Contains(t, got[0].Reason, "critical path")
}

func TestFindCompatibleIsDirected(t *testing.T) {
	s := openSeed(t)
	ctx := context.Background()

	got, err := s.FindCompatible(ctx, "p-drill-basic", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-battery-12v", "p-bit-wood"}, productIDs(got))
	require.NotNil(t, got[0].Compatibility)
	assert.True(t, got[0].Compatibility.Required)

	got, err = s.FindCompatible(ctx, "p-drill-basic", "battery")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-battery-12v"}, productIDs(got))

	got, err = s.FindCompatible(ctx, "p-battery-12v", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.FindCompatible(ctx, "missing", "")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestFindMandatorySafety(t *testing.T) {
	s := openSeed(t)
	got, err := s.FindMandatorySafety(context.Background(), graph.TaskQuery{TaskID: "drill_masonry"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ear_protection", got[0].Equipment.ID)
	assert.Equal(t, []string{"p-drill-pro"}, got[0].ProductIDs)
	assert.Equal(t, "goggles", got[1].Equipment.ID)
	assert.Equal(t, []string{"p-drill-mid", "p-drill-pro"}, got[1].ProductIDs)
}

func TestMandatorySafetyIgnoresOptionalEdges(t *testing.T) {
	s := openSeed(t)
	got, err := s.MandatorySafetyForProducts(context.Background(), []string{"p-sander", "p-bit-wood"})
	require.NoError(t, err)
	require.Len(t, got["p-sander"], 1)
	assert.Equal(t, "dust_mask", got["p-sander"][0].ID)
	assert.Empty(t, got["p-bit-wood"])
}

func TestSearchAcrossLanguages(t *testing.T) {
	s := openSeed(t)
	ctx := context.Background()

	en, err := s.Search(ctx, "drill", "en", 20)
	require.NoError(t, err)
	zh, err := s.Search(ctx, "电钻", "zh", 20)
	require.NoError(t, err)
	de, err := s.Search(ctx, "Bohrmaschine", "de", 20)
	require.NoError(t, err)

	assert.Contains(t, productIDs(en), "p-drill-basic")
	assert.Contains(t, productIDs(zh), "p-drill-basic")
	assert.Equal(t, productIDs(zh), productIDs(de))
	assert.NotContains(t, productIDs(zh), "p-bit-wood")

	empty, err := s.Search(ctx, "  ", "en", 20)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLearningPath(t *testing.T) {
	s := openSeed(t)
	ctx := context.Background()

	steps, err := s.LearningPath(ctx, "woodworking", common.SkillBeginner)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "drill_masonry", steps[0].Task.ID)
	assert.Equal(t, 1, steps[0].Step)

	_, err = s.LearningPath(ctx, "knitting", common.SkillBeginner)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestUpsertBumpsGeneration(t *testing.T) {
	s := openSeed(t)
	ctx := context.Background()

	gen, err := s.CatalogGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	p := common.Product{ID: "p-new", Name: "Stud finder", Category: "measuring", Difficulty: common.SkillBeginner}
	gen, err = s.UpsertProduct(ctx, p, common.ProductRelationships{
		UsedFor:      []common.UsedFor{{TaskID: "drill_masonry", Confidence: 0.4}},
		ClassifiedAs: []common.ClassifiedAs{{Family: common.FamilyCommodity, Code: "41111601"}},
		Codes: []common.ClassificationCode{{
			Family: common.FamilyCommodity, Code: "41111601",
			DisplayNames: map[string]string{"en": "Stud finder", "zh": "探测仪"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	zh, err := s.Search(ctx, "探测仪", "zh", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-new"}, productIDs(zh))
}

func TestUpsertRejectsDanglingEdge(t *testing.T) {
	s := openSeed(t)
	ctx := context.Background()

	_, err := s.UpsertProduct(ctx, common.Product{ID: "p-bad"}, common.ProductRelationships{
		UsedFor: []common.UsedFor{{TaskID: "nope", Confidence: 1}},
	})
	assert.ErrorIs(t, err, graph.ErrInvalidEdge)

	got, err := s.GetProducts(ctx, []string{"p-bad"})
	require.NoError(t, err)
	assert.Empty(t, got)

	gen, _ := s.CatalogGeneration(ctx)
	assert.Equal(t, int64(1), gen)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := openSeed(t)
	require.NoError(t, s.Close())

	_, err := s.FindProductsForTask(context.Background(), graph.TaskQuery{TaskID: "drill_wood"}, common.SkillBeginner, 10)
	assert.ErrorIs(t, err, graph.ErrUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), graph.ErrUnavailable)
}
