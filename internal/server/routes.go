package server

import (
	"github.com/gofiber/fiber/v2"

	"codegen/internal/core/job"
	"codegen/internal/core/pipeline"
	"codegen/internal/health"
	"codegen/internal/platform/redis"
)

type Dependencies struct {
	Pipeline *pipeline.Service
	Job      *job.Service
	Redis    *redis.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Redis)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	h := pipeline.NewHandler(d.Pipeline, d.Job)
	api.Post("/codegen", h.HandleCreate)
	api.Get("/codegen/:jobId", h.HandleGet)
	api.Get("/codegen/:jobId/stream", h.HandleStream)
	api.Post("/codegen/:jobId/clarify", h.HandleClarify)

	return healthHandler
}
