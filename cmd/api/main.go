package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"streamvault/internal/capture"
	"streamvault/internal/config"
	"streamvault/internal/database"
	"streamvault/internal/ingest"
	"streamvault/internal/recorder"
	"streamvault/internal/recordings"
	"streamvault/internal/server"
	"streamvault/internal/uploader"
)

// rtmpConnectTimeout bounds how long one connect attempt waits for a
// publisher to push stream metadata to the intake listener.
const rtmpConnectTimeout = 30 * time.Second

// pipelineUploader narrows *uploader.Pipeline to the orchestrator's
// Uploader interface.
type pipelineUploader struct {
	p *uploader.Pipeline
}

func (u pipelineUploader) Handle(recErr error, file, destination string) recorder.UploadTask {
	return u.p.Handle(recErr, file, destination)
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("service", "streamvault").
		Logger()
}

func gracefulShutdown(fiberServer *server.FiberServer, orch *recorder.Orchestrator, db database.Service, log zerolog.Logger, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")
	stop() // Allow Ctrl+C to force shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown with error")
	}
	if err := orch.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("recorder did not stop cleanly")
	}
	if db != nil {
		if err := db.Close(ctx); err != nil {
			log.Error().Err(err).Msg("failed to close database connection")
		}
	}

	log.Info().Msg("server exiting")
	done <- true
}

func main() {
	log := newLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := os.MkdirAll(cfg.Recorder.RecordingsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Recorder.RecordingsDir).Msg("cannot create recordings directory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.New(ctx, cfg.Database.URI, cfg.Database.Name, log)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	catalog := recordings.NewCatalog(db.Database(), log)

	var (
		source  recorder.Source
		writers recorder.WriterOpener
	)
	switch cfg.Recorder.Driver {
	case "rtmp":
		source = ingest.NewSource(rtmpConnectTimeout, cfg.Recorder.ReadTimeout, log)
		writers = ingest.NewWriterOpener()
	default:
		source = capture.NewSource(cfg.Recorder.FFmpegPath, cfg.Recorder.FFprobePath, cfg.Recorder.ReadTimeout, log)
		writers = capture.NewWriterOpener(cfg.Recorder.FFmpegPath)
	}

	pipeline := uploader.New(cfg.Upload.Command, cfg.Upload.Timeout, log.With().Str("component", "uploader").Logger())

	orch := recorder.NewOrchestrator(recorder.Config{
		RecordingsDir:   cfg.Recorder.RecordingsDir,
		ConnectAttempts: cfg.Recorder.ConnectAttempts,
		ConnectBackoff:  cfg.Recorder.ConnectBackoff,
		MaxReconnects:   cfg.Recorder.MaxReconnects,
		Staleness:       cfg.Recorder.Staleness,
		StopGrace:       cfg.Recorder.StopGrace,
		FallbackFPS:     cfg.Recorder.FallbackFPS,
		SessionHistory:  cfg.Recorder.SessionHistory,
	}, source, writers, pipelineUploader{p: pipeline}, catalog, log.With().Str("component", "recorder").Logger())

	srv := server.New(cfg, orch, db, recordings.NewHandler(catalog), log.With().Str("component", "server").Logger())
	srv.RegisterFiberRoutes()

	done := make(chan bool, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info().Str("addr", addr).Str("driver", cfg.Recorder.Driver).Msg("server starting")
		if err := srv.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	go gracefulShutdown(srv, orch, db, log, done)

	<-done
	log.Info().Msg("graceful shutdown complete")
}
