package server

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rs/zerolog"

	"streamvault/internal/auth"
	"streamvault/internal/config"
	"streamvault/internal/recorder"
	"streamvault/internal/recordings"
)

// Controller is the orchestrator surface the control plane needs.
type Controller interface {
	Start(ctx context.Context, address string, duration time.Duration, destination string) (*recorder.Session, error)
	Stop(ctx context.Context, waitUpload bool) error
	Status() recorder.Status
	SessionStatus(id string) (recorder.Status, bool)
}

// HealthChecker reports backing-store health for /health.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type FiberServer struct {
	*fiber.App

	cfg        *config.Config
	controller Controller
	health     HealthChecker
	jwtService *auth.JWTService
	authH      *auth.Handler
	recsH      *recordings.Handler
	log        zerolog.Logger
}

func New(cfg *config.Config, controller Controller, health HealthChecker, recsH *recordings.Handler, log zerolog.Logger) *FiberServer {
	app := fiber.New(fiber.Config{
		ServerHeader: "streamvault",
		AppName:      "streamvault",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	jwtService := auth.NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Expiration)
	s := &FiberServer{
		App:        app,
		cfg:        cfg,
		controller: controller,
		health:     health,
		jwtService: jwtService,
		authH:      auth.NewHandler(jwtService, cfg.JWT.OperatorUser, cfg.JWT.OperatorPasswordHash),
		recsH:      recsH,
		log:        log,
	}
	s.applyMiddleware()

	return s
}

func (s *FiberServer) applyMiddleware() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(s.cfg.Security.CORSOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Use(limiter.New(limiter.Config{
		Max:        s.cfg.Security.RateLimit,
		Expiration: s.cfg.Security.RateWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
}
