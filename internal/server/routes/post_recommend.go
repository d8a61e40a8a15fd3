package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/recommend"

	"github.com/labstack/echo/v4"
)

// CacheHeader reports how the result cache served a recommendation.
const CacheHeader = "X-Cache"

// RecommendHandler ranks products for a free-text request.
func RecommendHandler(c echo.Context) error {
	type recommendBody struct {
		Query         string            `json:"query" validate:"required"`
		SkillLevel    common.SkillLevel `json:"skill_level" validate:"required"`
		Language      string            `json:"language"`
		BudgetCeiling *float64          `json:"budget_ceiling" validate:"omitempty,gte=0"`
		ProjectType   string            `json:"project_type"`
	}

	data := new(recommendBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	res, status, err := appOf(c).Engine.Recommend(c.Request().Context(), data.Query, recommend.Context{
		SkillLevel:    data.SkillLevel,
		Language:      data.Language,
		BudgetCeiling: data.BudgetCeiling,
		ProjectType:   data.ProjectType,
	})
	if err != nil {
		return respondError(c, err)
	}

	c.Response().Header().Set(CacheHeader, string(status))
	return c.JSON(http.StatusOK, res)
}
