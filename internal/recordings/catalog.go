// Package recordings keeps a durable history of finished sessions so
// operators can audit what was recorded and whether it reached the archive.
package recordings

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"streamvault/internal/recorder"
)

type UploadState string

const (
	UploadPending UploadState = "PENDING"
	UploadSkipped UploadState = "SKIPPED"
	UploadDone    UploadState = "UPLOADED"
	UploadFailed  UploadState = "FAILED"
)

type Recording struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID   string             `bson:"session_id" json:"session_id"`
	Address     string             `bson:"address" json:"address"`
	OutputPath  string             `bson:"output_path" json:"output_path"`
	Destination string             `bson:"destination" json:"destination"`
	State       string             `bson:"state" json:"state"`
	Error       string             `bson:"error,omitempty" json:"error,omitempty"`
	Frames      int64              `bson:"frames" json:"frames"`
	StartedAt   time.Time          `bson:"started_at" json:"started_at"`
	EndedAt     time.Time          `bson:"ended_at" json:"ended_at"`
	Upload      UploadState        `bson:"upload" json:"upload"`
	UploadError string             `bson:"upload_error,omitempty" json:"upload_error,omitempty"`
	UploadedAt  *time.Time         `bson:"uploaded_at,omitempty" json:"uploaded_at,omitempty"`
}

type Catalog struct {
	coll *mongo.Collection
	log  zerolog.Logger
}

func NewCatalog(db *mongo.Database, log zerolog.Logger) *Catalog {
	c := &Catalog{
		coll: db.Collection("recordings"),
		log:  log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to ensure recordings index")
	}
	return c
}

// RecordFinished stores the terminal state of a session. It satisfies the
// recorder journal contract; failures are logged, never propagated.
func (c *Catalog) RecordFinished(ctx context.Context, entry recorder.JournalEntry) {
	upload := UploadPending
	if entry.Error != "" {
		upload = UploadSkipped
	}
	rec := Recording{
		SessionID:   entry.SessionID,
		Address:     entry.Address,
		OutputPath:  entry.OutputPath,
		Destination: entry.Destination,
		State:       entry.State,
		Error:       entry.Error,
		Frames:      entry.Frames,
		StartedAt:   entry.StartedAt,
		EndedAt:     entry.EndedAt,
		Upload:      upload,
	}
	if _, err := c.coll.InsertOne(ctx, rec); err != nil {
		c.log.Error().Err(err).Str("session_id", entry.SessionID).Msg("failed to record finished session")
	}
}

// RecordUpload stores the archival outcome for a session.
func (c *Catalog) RecordUpload(ctx context.Context, sessionID string, uploadErr error) {
	set := bson.M{"upload": UploadDone}
	if uploadErr != nil {
		set = bson.M{"upload": UploadFailed, "upload_error": uploadErr.Error()}
	} else {
		now := time.Now()
		set["uploaded_at"] = now
	}
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": set},
	)
	if err != nil {
		c.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to record upload outcome")
	}
}

// List returns the most recent recordings, newest first.
func (c *Catalog) List(ctx context.Context, limit int64) ([]Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)
	cursor, err := c.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []Recording
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Get returns one recording by session ID.
func (c *Catalog) Get(ctx context.Context, sessionID string) (*Recording, error) {
	var rec Recording
	if err := c.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
