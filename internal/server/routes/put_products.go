package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// UpsertProductHandler stores a product with its outgoing edges, replacing
// any edges it had before. With ?async=true the upsert is validated and
// queued for the worker instead.
func UpsertProductHandler(c echo.Context) error {
	type upsertProductBody struct {
		Product       common.Product              `json:"product"`
		Relationships common.ProductRelationships `json:"relationships"`
	}

	type upsertProductResponse struct {
		ProductID  string `json:"product_id"`
		Generation int64  `json:"generation"`
	}

	type enqueueProductResponse struct {
		ProductID     string `json:"product_id"`
		CorrelationID string `json:"correlation_id"`
	}

	id := c.Param("id")
	data := new(upsertProductBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if data.Product.ID == "" {
		data.Product.ID = id
	}
	if data.Product.ID != id {
		return badRequest(c, "Product id does not match the path")
	}

	app := appOf(c)
	ctx := c.Request().Context()

	if c.QueryParam("async") == "true" {
		if app.Upserts == nil {
			return queueUnavailable(c)
		}
		if err := catalog.Validate(data.Product, data.Relationships); err != nil {
			return respondError(c, err)
		}
		msg := queue.QueueUpsertMsg{
			CorrelationID: requestIDOf(c),
			Product:       data.Product,
			Relationships: data.Relationships,
		}
		if err := app.Upserts.EnqueueUpsert(ctx, msg); err != nil {
			logger.Error("[Server] Failed to enqueue upsert", "product", id, "request_id", msg.CorrelationID, "err", err)
			return queueUnavailable(c)
		}
		return c.JSON(http.StatusAccepted, enqueueProductResponse{ProductID: id, CorrelationID: msg.CorrelationID})
	}

	gen, err := app.Catalog.UpsertProduct(ctx, data.Product, data.Relationships)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, upsertProductResponse{ProductID: id, Generation: gen})
}

func queueUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{
		Code:      CodeQueueUnavailable,
		Message:   "Asynchronous upserts are not available",
		RequestID: requestIDOf(c),
	})
}
