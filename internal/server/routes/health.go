package routes

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports OK while the graph store answers.
func HealthHandler(c echo.Context) error {
	if p, ok := appOf(c).Graph.(pinger); ok {
		if err := p.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "graph unavailable")
		}
	}
	return c.String(http.StatusOK, "OK")
}
