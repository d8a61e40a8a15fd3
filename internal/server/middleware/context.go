package middleware

import (
	"context"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/catalog"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/classify"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/recommend"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RequestIDHeader carries the id of a request in both directions.
const RequestIDHeader = "X-Request-ID"

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// UpsertEnqueuer defers product upserts to the worker.
type UpsertEnqueuer interface {
	EnqueueUpsert(ctx context.Context, msg queue.QueueUpsertMsg) error
}

// App holds the long-lived dependencies shared by all handlers.
type App struct {
	Engine     *recommend.Engine
	Graph      graph.Reader
	Catalog    *catalog.Service
	Classifier *classify.Index
	// Publisher is nil when the process runs without a broker.
	Publisher catalog.Publisher
	// Upserts is nil when asynchronous upserts are unavailable.
	Upserts UpsertEnqueuer
	Origin  string

	// Key verifies admin JWTs. Nil disables JWT auth.
	Key          keyfunc.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App       *App
	User      *AppUser
	RequestID string
}

// AppContextMiddleware wraps every request in an AppContext and assigns a
// request id unless the caller sent one.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = gonanoid.Must()
			}
			c.Response().Header().Set(RequestIDHeader, id)
			cc := &AppContext{Context: c, App: app, RequestID: id}
			return next(cc)
		}
	}
}
