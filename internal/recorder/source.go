package recorder

import (
	"context"
	"time"
)

// Geometry holds the stream properties negotiated at connect time. They are
// captured once per session and reused for the output writer.
type Geometry struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`
}

// Frame is an opaque media unit handed from a Connection to a Writer. The
// concrete type is an agreement between matching Source and Writer
// implementations; the recording loop never inspects it.
type Frame any

// Connection is one established link to a camera source.
type Connection interface {
	// ReadFrame returns the next frame, or ErrNoFrame when none arrived
	// within the source's read window. Any error is treated by the loop as a
	// miss and feeds staleness accounting.
	ReadFrame() (Frame, error)
	Geometry() Geometry
	Close() error
}

// Source opens connections to a camera address.
type Source interface {
	Open(ctx context.Context, address string) (Connection, error)
}

// Writer persists frames to the session's output file.
type Writer interface {
	Write(Frame) error
	Close() error
}

// WriterOpener opens the output writer for a session. Open must fail rather
// than accept a non-positive frame rate.
type WriterOpener interface {
	Open(path string, geo Geometry) (Writer, error)
	// Extension is the container suffix used when deriving output paths.
	Extension() string
}

// Uploader hands a finished session to the completion pipeline. Handle never
// blocks; the returned task resolves when archival has finished, or
// immediately when recErr is non-nil and nothing is uploaded.
type Uploader interface {
	Handle(recErr error, file, destination string) UploadTask
}

// UploadTask is the awaitable handle for one archival attempt.
type UploadTask interface {
	Wait(ctx context.Context) error
}

// Journal records finished sessions for later inspection. Implementations
// log their own failures; the orchestrator never blocks on them.
type Journal interface {
	RecordFinished(ctx context.Context, entry JournalEntry)
	RecordUpload(ctx context.Context, sessionID string, uploadErr error)
}

// JournalEntry is the journal's view of a terminal session.
type JournalEntry struct {
	SessionID   string
	Address     string
	OutputPath  string
	Destination string
	State       string
	Error       string
	Frames      int64
	StartedAt   time.Time
	EndedAt     time.Time
}
