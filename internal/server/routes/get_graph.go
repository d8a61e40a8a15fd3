package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"

	"github.com/labstack/echo/v4"
)

const defaultGraphLimit = 20

type taskQueryParams struct {
	TaskID   string `query:"task_id"`
	Category string `query:"category"`
	Text     string `query:"text"`
}

func (p taskQueryParams) toQuery() graph.TaskQuery {
	return graph.TaskQuery{TaskID: p.TaskID, Category: p.Category, Text: p.Text}
}

// GetTaskProductsHandler lists products used for a task, category or free
// text, filtered by skill level.
func GetTaskProductsHandler(c echo.Context) error {
	type getTaskProductsParams struct {
		taskQueryParams
		SkillLevel string `query:"skill_level" validate:"required"`
		Order      string `query:"order"`
		Limit      int    `query:"limit" validate:"gte=0,lte=200"`
	}

	type getTaskProductsResponse struct {
		Products []graph.ScoredProduct `json:"products"`
	}

	params := new(getTaskProductsParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}
	q := params.toQuery()
	if q.Empty() {
		return badRequest(c, "One of task_id, category or text is required")
	}
	level, err := common.ParseSkillLevel(params.SkillLevel)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if q.Order, err = graph.ParseOrder(params.Order); err != nil {
		return badRequest(c, err.Error())
	}
	limit := params.Limit
	if limit == 0 {
		limit = defaultGraphLimit
	}

	products, err := appOf(c).Graph.FindProductsForTask(c.Request().Context(), q, level, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, getTaskProductsResponse{Products: orEmpty(products)})
}

// GetCompatibleHandler lists the products a product is compatible with.
func GetCompatibleHandler(c echo.Context) error {
	type getCompatibleParams struct {
		ProductID string `param:"id" validate:"required"`
		Type      string `query:"type"`
	}

	type getCompatibleResponse struct {
		Products []graph.ScoredProduct `json:"products"`
	}

	params := new(getCompatibleParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid parameters")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid parameters: "+err.Error())
	}

	products, err := appOf(c).Graph.FindCompatible(c.Request().Context(), params.ProductID, params.Type)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, getCompatibleResponse{Products: orEmpty(products)})
}

// GetSafetyHandler lists the mandatory safety equipment for a task.
func GetSafetyHandler(c echo.Context) error {
	type getSafetyResponse struct {
		Requirements []graph.SafetyRequirement `json:"requirements"`
	}

	params := new(taskQueryParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	q := params.toQuery()
	if q.Empty() {
		return badRequest(c, "One of task_id, category or text is required")
	}

	reqs, err := appOf(c).Graph.FindMandatorySafety(c.Request().Context(), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, getSafetyResponse{Requirements: orEmpty(reqs)})
}

// SearchHandler searches products in any supported language.
func SearchHandler(c echo.Context) error {
	type searchParams struct {
		Query    string `query:"q" validate:"required"`
		Language string `query:"language"`
		Limit    int    `query:"limit" validate:"gte=0,lte=200"`
	}

	type searchResponse struct {
		Products []graph.ScoredProduct `json:"products"`
	}

	params := new(searchParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}
	limit := params.Limit
	if limit == 0 {
		limit = defaultGraphLimit
	}

	products, err := appOf(c).Graph.Search(c.Request().Context(), params.Query, params.Language, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, searchResponse{Products: orEmpty(products)})
}

// GetLearningPathHandler lists the tasks that lead from a level to mastery
// of a skill.
func GetLearningPathHandler(c echo.Context) error {
	type getLearningPathParams struct {
		SkillID string `param:"id" validate:"required"`
		Level   string `query:"level" validate:"required"`
	}

	type getLearningPathResponse struct {
		Steps []graph.TaskStep `json:"steps"`
	}

	params := new(getLearningPathParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid parameters")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid parameters: "+err.Error())
	}
	level, err := common.ParseSkillLevel(params.Level)
	if err != nil {
		return badRequest(c, err.Error())
	}

	steps, err := appOf(c).Graph.LearningPath(c.Request().Context(), params.SkillID, level)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, getLearningPathResponse{Steps: orEmpty(steps)})
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
