package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Service interface {
	Health(ctx context.Context) map[string]string
	Database() *mongo.Database
	Close(ctx context.Context) error
}

type service struct {
	client *mongo.Client
	name   string
	log    zerolog.Logger
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, uri, name string, log zerolog.Logger) (Service, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info().Str("database", name).Msg("connected to MongoDB")
	return &service{client: client, name: name, log: log}, nil
}

func (s *service) Health(ctx context.Context) map[string]string {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		s.log.Warn().Err(err).Msg("MongoDB health check failed")
		return map[string]string{
			"message": "Database is unhealthy",
			"error":   err.Error(),
		}
	}
	return map[string]string{
		"message": "Database is healthy",
		"status":  "connected",
	}
}

func (s *service) Database() *mongo.Database {
	return s.client.Database(s.name)
}

func (s *service) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Disconnect(closeCtx)
}
