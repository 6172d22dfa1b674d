package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mailwatchhq/mailwatch/api/handlers"
	"github.com/mailwatchhq/mailwatch/api/middleware"
	"github.com/mailwatchhq/mailwatch/internal/repository"
	"github.com/mailwatchhq/mailwatch/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())

	// Health check stays open for load balancer probes
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILWATCH-API-KEY",
		ValidAPIKey: apikey,
	})

	r.GET("/status", apiKeyMiddleware, handlers.Status(s.Worker, s.Coordinator, repos.DeliveryRepository))
}
