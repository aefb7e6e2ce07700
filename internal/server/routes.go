package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamvault/internal/auth"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Get("/", s.rootHandler)
	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Public routes
	s.App.Post("/auth/login", s.authH.Login)

	// Protected routes
	api := s.App.Group("/api", auth.Middleware(s.jwtService))

	api.Post("/recorder/start", s.startRecording)
	api.Post("/recorder/stop", s.stopRecording)
	api.Get("/recorder/status", s.recordingStatus)
	api.Get("/recorder/sessions/:id", s.sessionStatus)

	if s.recsH != nil {
		api.Get("/recordings", s.recsH.List)
		api.Get("/recordings/:session_id", s.recsH.Get)
	}
}

func (s *FiberServer) rootHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "streamvault",
	})
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	if s.health == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	return c.JSON(s.health.Health(c.Context()))
}
