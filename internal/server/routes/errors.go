package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/recommend"

	"github.com/labstack/echo/v4"
)

// Stable error codes returned in the "code" field.
const (
	CodeInvalidRequest            = "invalid_request"
	CodeRecommendationUnavailable = "recommendation_unavailable"
	CodeGraphUnavailable          = "graph_unavailable"
	CodeClassificationUnavailable = "classification_unavailable"
	CodeQueueUnavailable          = "queue_unavailable"
	CodeNotFound                  = "not_found"
	CodeRequestCanceled           = "request_canceled"
	CodeRequestTimeout            = "request_timeout"
	CodeInternal                  = "internal_error"
)

// statusClientClosedRequest is reported when the caller went away first.
const statusClientClosedRequest = 499

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// classifyError maps an error to its HTTP status and code. Order matters:
// a recommendation failure caused by the graph is still reported as a
// recommendation failure.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, CodeRequestCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeRequestTimeout
	case errors.Is(err, recommend.ErrInvalidRequest),
		errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, graph.ErrInvalidEdge):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, recommend.ErrRecommendationUnavailable):
		return http.StatusServiceUnavailable, CodeRecommendationUnavailable
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, graph.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeGraphUnavailable
	case errors.Is(err, classify.ErrNotLoaded), errors.Is(err, classify.ErrEmptyMapping):
		return http.StatusServiceUnavailable, CodeClassificationUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

func respondError(c echo.Context, err error) error {
	status, code := classifyError(err)
	requestID := requestIDOf(c)
	if status >= http.StatusInternalServerError {
		logger.Warn("[Server] Request failed", "path", c.Path(), "request_id", requestID, "code", code, "err", err)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	return c.JSON(status, errorResponse{Code: code, Message: message, RequestID: requestID})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{
		Code:      CodeInvalidRequest,
		Message:   message,
		RequestID: requestIDOf(c),
	})
}

func requestIDOf(c echo.Context) string {
	if ac, ok := c.(*middleware.AppContext); ok {
		return ac.RequestID
	}
	return ""
}

func appOf(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}
