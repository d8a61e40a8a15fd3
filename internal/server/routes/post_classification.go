package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

func ResolveClassificationHandler(c echo.Context) error {
	type resolveBody struct {
		Text string `json:"text" validate:"required"`
	}

	data := new(resolveBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	res, err := appOf(c).Classifier.Resolve(data.Text)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ReloadClassificationHandler reloads the mapping on this instance and asks
// every peer to do the same. A failed reload keeps the previous snapshot.
func ReloadClassificationHandler(c echo.Context) error {
	type reloadResponse struct {
		Version  int64 `json:"version"`
		Entries  int   `json:"entries"`
		Notified bool  `json:"notified"`
	}

	app := appOf(c)
	ctx := c.Request().Context()

	snap, err := app.Classifier.Reload(ctx)
	if err != nil {
		logger.Error("[Server] Classification reload failed", "request_id", requestIDOf(c), "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{
			Code:      CodeClassificationUnavailable,
			Message:   err.Error(),
			RequestID: requestIDOf(c),
		})
	}

	notified := false
	if app.Publisher != nil {
		if err := app.Publisher.PublishEvent(ctx, catalog.NewEvent(catalog.EventClassificationReload, app.Origin)); err != nil {
			logger.Warn("[Server] Failed to announce classification reload", "err", err)
		} else {
			notified = true
		}
	}

	return c.JSON(http.StatusOK, reloadResponse{
		Version:  snap.Version(),
		Entries:  snap.Len(),
		Notified: notified,
	})
}

