package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Supervisor owns the reconnect-with-bounded-retry policy over a frame
// source. The same routine serves the initial connect and mid-session
// reconnects; the latter never touch the session's duration accounting.
type Supervisor struct {
	source      Source
	backoff     time.Duration
	fallbackFPS float64
	log         zerolog.Logger
}

func NewSupervisor(source Source, backoff time.Duration, fallbackFPS float64, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		source:      source,
		backoff:     backoff,
		fallbackFPS: fallbackFPS,
		log:         log,
	}
}

// Connect opens the source, retrying up to attempts times with a fixed
// backoff between attempts (none after the last). A connection reporting a
// non-positive width or height fails fast with ErrInvalidGeometry and is not
// retried. A non-positive negotiated frame rate is replaced by the fallback
// default so the writer is never opened with a zero rate.
func (s *Supervisor) Connect(ctx context.Context, address string, attempts int) (Connection, Geometry, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := s.source.Open(ctx, address)
		if err == nil {
			geo := conn.Geometry()
			if geo.Width <= 0 || geo.Height <= 0 {
				_ = conn.Close()
				return nil, Geometry{}, fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, geo.Width, geo.Height)
			}
			if geo.FrameRate <= 0 {
				s.log.Warn().
					Float64("reported_fps", geo.FrameRate).
					Float64("fallback_fps", s.fallbackFPS).
					Msg("source reported non-positive frame rate, using fallback")
				geo.FrameRate = s.fallbackFPS
			}
			return conn, geo, nil
		}

		lastErr = err
		s.log.Warn().
			Err(err).
			Str("address", address).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Msg("connection attempt failed")

		if attempt < attempts {
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return nil, Geometry{}, ctx.Err()
			}
		}
	}
	return nil, Geometry{}, fmt.Errorf("%w: %d attempts to %s: %v", ErrConnectionExhausted, attempts, address, lastErr)
}
