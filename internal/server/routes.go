package server

import (
	"github.com/OFFIS-RIT/toolgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api")

	// Recommendation routes
	apiRoutes.POST("/recommend", routes.RecommendHandler)

	// Graph routes
	apiRoutes.GET("/graph/tasks/products", routes.GetTaskProductsHandler)
	apiRoutes.GET("/graph/tasks/safety", routes.GetSafetyHandler)
	apiRoutes.GET("/graph/products/:id/compatible", routes.GetCompatibleHandler)
	apiRoutes.GET("/graph/search", routes.SearchHandler)
	apiRoutes.GET("/graph/skills/:id/path", routes.GetLearningPathHandler)

	// Classification routes
	apiRoutes.POST("/classification/resolve", routes.ResolveClassificationHandler)

	// Admin routes
	adminRoutes := apiRoutes.Group("/admin", middleware.AuthMiddleware)
	adminRoutes.PUT("/products/:id", routes.UpsertProductHandler, middleware.RequirePermission(middleware.PermissionCatalogWrite))
	adminRoutes.POST("/classification/reload", routes.ReloadClassificationHandler, middleware.RequirePermission(middleware.PermissionClassificationReload))
}
