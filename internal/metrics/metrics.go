package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal tracks terminal session outcomes ("completed", "failed").
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamvault_sessions_total",
		Help: "Total number of recording sessions by terminal outcome",
	}, []string{"outcome"})

	// SessionActive is 1 while a recording session is connecting or recording.
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamvault_session_active",
		Help: "Whether a recording session is currently active",
	})

	// FramesWritten counts frames persisted to output files.
	FramesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamvault_frames_written_total",
		Help: "Total number of frames written across all sessions",
	})

	// ReconnectsTotal counts mid-session reconnect attempts.
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamvault_reconnects_total",
		Help: "Total number of mid-session reconnect attempts",
	})

	// UploadsTotal tracks archival outcomes ("success", "failed", "timeout").
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamvault_uploads_total",
		Help: "Total number of archival attempts by outcome",
	}, []string{"outcome"})

	// UploadDuration tracks how long the archival command ran.
	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamvault_upload_duration_seconds",
		Help:    "Wall-clock duration of archival command invocations",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
)

// IncSession records a terminal session outcome.
func IncSession(outcome string) {
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// IncUpload records an archival outcome.
func IncUpload(outcome string) {
	UploadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUploadDuration records the archival command runtime.
func ObserveUploadDuration(d time.Duration) {
	UploadDuration.Observe(d.Seconds())
}
