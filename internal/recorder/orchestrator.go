package recorder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"streamvault/internal/metrics"
)

// Config carries the orchestrator's tunables. The defaults in
// internal/config mirror the design values; tests compress them.
type Config struct {
	RecordingsDir   string
	ConnectAttempts int
	ConnectBackoff  time.Duration
	MaxReconnects   int
	Staleness       time.Duration
	StopGrace       time.Duration
	FallbackFPS     float64
	SessionHistory  int
}

// defaultSessionHistory caps the registry of finished sessions so a
// long-lived process does not accumulate them without bound.
const defaultSessionHistory = 100

// Status is the read-only view returned by Status. It never blocks on the
// recording loop.
type Status struct {
	SessionID      string       `json:"session_id,omitempty"`
	State          SessionState `json:"state"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
}

// Orchestrator owns at most one active recording session, sequences
// start/stop, and keeps a registry of past sessions keyed by ID.
type Orchestrator struct {
	cfg        Config
	supervisor *Supervisor
	loop       *Loop
	writers    WriterOpener
	uploader   Uploader
	journal    Journal
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  *Session
	sessions map[string]*Session
	history  []string
}

func NewOrchestrator(cfg Config, source Source, writers WriterOpener, up Uploader, journal Journal, log zerolog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.SessionHistory <= 0 {
		cfg.SessionHistory = defaultSessionHistory
	}
	supervisor := NewSupervisor(source, cfg.ConnectBackoff, cfg.FallbackFPS, log)
	return &Orchestrator{
		cfg:        cfg,
		supervisor: supervisor,
		loop:       NewLoop(supervisor, writers, cfg.Staleness, log),
		writers:    writers,
		uploader:   up,
		journal:    journal,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
	}
}

// Start begins a new recording session. Connection and geometry errors are
// surfaced synchronously; once recording begins the session runs on its own
// goroutine and failures are reported through Status.
func (o *Orchestrator) Start(ctx context.Context, address string, duration time.Duration, destination string) (*Session, error) {
	o.mu.Lock()
	if o.current != nil && o.current.active() {
		o.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	sess := newSession(address, duration, destination, o.cfg.MaxReconnects)
	o.current = sess
	o.sessions[sess.ID] = sess
	o.mu.Unlock()

	metrics.SessionActive.Set(1)
	o.log.Info().
		Str("session_id", sess.ID).
		Str("address", address).
		Dur("duration", duration).
		Msg("starting recording session")

	conn, geo, err := o.supervisor.Connect(ctx, address, o.cfg.ConnectAttempts)
	if err != nil {
		o.finish(sess, 0, err)
		return nil, err
	}

	// Stop during CONNECTING fails the session without entering STOPPING.
	if sess.StopRequested() || ctx.Err() != nil {
		_ = conn.Close()
		o.finish(sess, 0, ErrStopped)
		return nil, ErrStopped
	}

	now := time.Now()
	o.mu.Lock()
	sess.Geometry = geo
	sess.StartedAt = now
	sess.OutputPath = filepath.Join(o.cfg.RecordingsDir,
		fmt.Sprintf("recording_%s.%s", now.Format("20060102_150405"), o.writers.Extension()))
	sess.state = StateRecording
	o.mu.Unlock()

	o.log.Info().
		Str("session_id", sess.ID).
		Str("output", sess.OutputPath).
		Int("width", geo.Width).
		Int("height", geo.Height).
		Float64("fps", geo.FrameRate).
		Msg("connected, recording")

	go o.record(sess, conn)
	return sess, nil
}

func (o *Orchestrator) record(sess *Session, conn Connection) {
	outcome := o.loop.Run(o.ctx, sess, conn)
	o.finish(sess, outcome.Frames, outcome.Err)
}

// finish moves the session to its terminal state and hands the output to the
// completion pipeline. The pipeline handle is stored on the session before
// done is closed so a waiting Stop can observe it.
func (o *Orchestrator) finish(sess *Session, frames int64, recErr error) {
	ended := time.Now()
	o.mu.Lock()
	sess.frames = frames
	sess.err = recErr
	if !sess.StartedAt.IsZero() {
		sess.elapsed = ended.Sub(sess.StartedAt)
	}
	if recErr != nil {
		sess.state = StateFailed
	} else {
		sess.state = StateCompleted
	}
	state := sess.state
	if sess.OutputPath != "" {
		sess.upload = o.uploader.Handle(recErr, sess.OutputPath, sess.Destination)
	}
	task := sess.upload
	// Evict the oldest finished sessions once the registry is over its cap.
	o.history = append(o.history, sess.ID)
	for len(o.history) > o.cfg.SessionHistory {
		delete(o.sessions, o.history[0])
		o.history = o.history[1:]
	}
	o.mu.Unlock()

	metrics.SessionActive.Set(0)
	if recErr != nil {
		metrics.IncSession("failed")
		o.log.Error().Err(recErr).
			Str("session_id", sess.ID).
			Int64("frames", frames).
			Msg("recording session failed")
	} else {
		metrics.IncSession("completed")
		o.log.Info().
			Str("session_id", sess.ID).
			Int64("frames", frames).
			Dur("elapsed", sess.elapsed).
			Msg("recording session completed")
	}

	if o.journal != nil {
		entry := JournalEntry{
			SessionID:   sess.ID,
			Address:     sess.Address,
			OutputPath:  sess.OutputPath,
			Destination: sess.Destination,
			State:       string(state),
			Frames:      frames,
			StartedAt:   sess.StartedAt,
			EndedAt:     ended,
		}
		if recErr != nil {
			entry.Error = recErr.Error()
		}
		o.journal.RecordFinished(o.ctx, entry)
	}

	close(sess.done)

	if task != nil && o.journal != nil {
		go func() {
			uploadErr := task.Wait(context.Background())
			o.journal.RecordUpload(context.Background(), sess.ID, uploadErr)
		}()
	}
}

// Stop requests early termination of the active session. When the remaining
// budget is below the stop grace the loop is left to finish naturally so a
// near-complete recording is not truncated. With waitUpload set, Stop also
// blocks until the completion pipeline resolves, bounded by ctx.
func (o *Orchestrator) Stop(ctx context.Context, waitUpload bool) error {
	o.mu.Lock()
	sess := o.current
	if sess == nil {
		o.mu.Unlock()
		return ErrNotRecording
	}
	switch sess.state {
	case StateConnecting:
		// Policy: a stop during connect fails the session outright.
		sess.RequestStop()
		o.mu.Unlock()
		return nil
	case StateRecording, StateStopping:
	default:
		o.mu.Unlock()
		return ErrNotRecording
	}

	remaining := sess.TargetDuration - time.Since(sess.StartedAt)
	sess.state = StateStopping
	if remaining >= o.cfg.StopGrace {
		sess.RequestStop()
	} else {
		o.log.Info().
			Str("session_id", sess.ID).
			Dur("remaining", remaining).
			Msg("stop requested near completion, letting recording finish")
	}
	o.mu.Unlock()

	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if waitUpload {
		o.mu.Lock()
		task := sess.upload
		o.mu.Unlock()
		if task != nil {
			return task.Wait(ctx)
		}
	}
	return nil
}

// Status reports the current session's state and elapsed time. It is
// read-only and never blocks on the loop.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked(o.current)
}

// SessionStatus reports any registered session by ID.
func (o *Orchestrator) SessionStatus(id string) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[id]
	if !ok {
		return Status{State: StateIdle}, false
	}
	return o.statusLocked(sess), true
}

func (o *Orchestrator) statusLocked(sess *Session) Status {
	if sess == nil {
		return Status{State: StateIdle}
	}
	elapsed := sess.elapsed
	if sess.active() && !sess.StartedAt.IsZero() {
		elapsed = time.Since(sess.StartedAt)
	}
	return Status{
		SessionID:      sess.ID,
		State:          sess.state,
		ElapsedSeconds: elapsed.Seconds(),
	}
}

// Shutdown cancels the active loop cooperatively and waits for it to release
// its resources, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	o.mu.Lock()
	sess := o.current
	o.mu.Unlock()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
