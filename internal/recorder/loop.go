package recorder

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"streamvault/internal/metrics"
)

// readRetryDelay paces the loop when a read misses without blocking, such
// as after a failed reconnect leaves no connection up or the source's frame
// channel is drained and closed.
const readRetryDelay = 5 * time.Millisecond

// Outcome is the result of one recording loop run.
type Outcome struct {
	Frames int64
	Err    error
}

// Loop drives frame reads against the session's wall-clock duration budget,
// writes frames to the output file, and reconnects through the supervisor
// when the stream goes stale. It owns the writer and the connection
// exclusively; the stop flag is the only cross-goroutine field it reads.
type Loop struct {
	supervisor *Supervisor
	writers    WriterOpener
	staleness  time.Duration
	log        zerolog.Logger
}

func NewLoop(supervisor *Supervisor, writers WriterOpener, staleness time.Duration, log zerolog.Logger) *Loop {
	return &Loop{
		supervisor: supervisor,
		writers:    writers,
		staleness:  staleness,
		log:        log,
	}
}

// Run records until the duration budget elapses, a stop is requested, or the
// context is canceled. On any exit path the writer and connection are
// released before the outcome is reported.
func (l *Loop) Run(ctx context.Context, sess *Session, conn Connection) Outcome {
	writer, err := l.writers.Open(sess.OutputPath, sess.Geometry)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return Outcome{Err: fmt.Errorf("%w: %v", ErrWriterInit, err)}
	}

	var (
		frames    int64
		failErr   error
		lastFrame = time.Now()
	)

	for {
		// Single exit criterion; the duration check takes precedence over
		// any reconnect decision.
		if ctx.Err() != nil || sess.StopRequested() || time.Since(sess.StartedAt) >= sess.TargetDuration {
			break
		}

		readStart := time.Now()
		var frame Frame
		readErr := error(ErrNoFrame)
		if conn != nil {
			frame, readErr = conn.ReadFrame()
		}
		if readErr == nil {
			if werr := writer.Write(frame); werr != nil {
				failErr = fmt.Errorf("write frame: %w", werr)
				break
			}
			lastFrame = time.Now()
			sess.reconnects = 0
			frames++
			metrics.FramesWritten.Inc()
			continue
		}

		if time.Since(lastFrame) <= l.staleness {
			// Transient miss, not yet stale. A read that returned without
			// blocking must not spin the loop for the staleness window.
			if wait := readRetryDelay - time.Since(readStart); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
				}
			}
			continue
		}

		sess.reconnects++
		metrics.ReconnectsTotal.Inc()
		if sess.reconnects > sess.MaxReconnects {
			failErr = fmt.Errorf("%w: %d", ErrMaxReconnects, sess.MaxReconnects)
			break
		}

		l.log.Warn().
			Str("session_id", sess.ID).
			Int("reconnect", sess.reconnects).
			Int("max_reconnects", sess.MaxReconnects).
			Dur("stale_for", time.Since(lastFrame)).
			Msg("stream stale, reconnecting")

		if conn != nil {
			_ = conn.Close()
			conn = nil
		}
		next, _, cerr := l.supervisor.Connect(ctx, sess.Address, 1)
		if cerr != nil {
			l.log.Warn().Err(cerr).Str("session_id", sess.ID).Msg("reconnect failed")
		} else {
			conn = next
		}
		// Pace reconnect attempts at the staleness interval.
		lastFrame = time.Now()
	}

	if cerr := writer.Close(); cerr != nil && failErr == nil {
		failErr = fmt.Errorf("close writer: %w", cerr)
	}
	if conn != nil {
		_ = conn.Close()
	}

	if failErr == nil {
		// Protect downstream archival from a corrupt artifact.
		fi, serr := os.Stat(sess.OutputPath)
		if serr != nil || fi.Size() == 0 {
			failErr = ErrEmptyOutput
		}
	}

	return Outcome{Frames: frames, Err: failErr}
}
