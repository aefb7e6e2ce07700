package recorder

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	StateIdle       SessionState = "IDLE"
	StateConnecting SessionState = "CONNECTING"
	StateRecording  SessionState = "RECORDING"
	StateStopping   SessionState = "STOPPING"
	StateCompleted  SessionState = "COMPLETED"
	StateFailed     SessionState = "FAILED"
)

// Session is one bounded attempt to record and archive a stream. State
// transitions are owned by the Orchestrator; the recording loop only reads
// the immutable fields and the stop flag.
type Session struct {
	ID             string
	Address        string
	Destination    string
	TargetDuration time.Duration
	MaxReconnects  int

	// Assigned once when recording begins, before any frame is written.
	OutputPath string
	Geometry   Geometry
	StartedAt  time.Time

	// Guarded by the orchestrator mutex.
	state   SessionState
	err     error
	elapsed time.Duration
	frames  int64
	upload  UploadTask

	// reconnects is owned by the loop goroutine.
	reconnects int

	stopRequested atomic.Bool
	stopOnce      sync.Once

	// done is closed once the session reached a terminal state and its
	// completion pipeline handle is available.
	done chan struct{}
}

func newSession(address string, duration time.Duration, destination string, maxReconnects int) *Session {
	return &Session{
		ID:             uuid.New().String(),
		Address:        address,
		Destination:    destination,
		TargetDuration: duration,
		MaxReconnects:  maxReconnects,
		state:          StateConnecting,
		done:           make(chan struct{}),
	}
}

// RequestStop sets the stop flag. It is settable exactly once per session and
// safe to call from any goroutine.
func (s *Session) RequestStop() {
	s.stopOnce.Do(func() { s.stopRequested.Store(true) })
}

// StopRequested reports whether an early stop was requested.
func (s *Session) StopRequested() bool {
	return s.stopRequested.Load()
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) active() bool {
	switch s.state {
	case StateConnecting, StateRecording, StateStopping:
		return true
	}
	return false
}
