package recorder

import "errors"

var (
	// ErrNoFrame is returned by Connection.ReadFrame when no frame arrived
	// within the read window.
	ErrNoFrame = errors.New("recorder: no frame available")

	// ErrConnectionExhausted is returned by the supervisor after the
	// configured number of consecutive failed connection attempts.
	ErrConnectionExhausted = errors.New("recorder: connection attempts exhausted")

	// ErrInvalidGeometry is returned when the source reports a non-positive
	// frame dimension. The stream is broken or misreported and recording
	// must not proceed.
	ErrInvalidGeometry = errors.New("recorder: source reported invalid geometry")

	// ErrWriterInit is returned when the output writer cannot be opened.
	ErrWriterInit = errors.New("recorder: failed to open output writer")

	// ErrMaxReconnects is returned when a session exceeds its reconnect budget.
	ErrMaxReconnects = errors.New("recorder: max reconnects exceeded")

	// ErrEmptyOutput is returned when a session terminates normally but the
	// output file is missing or empty.
	ErrEmptyOutput = errors.New("recorder: output file empty or missing")

	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("recorder: a session is already active")

	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("recorder: no active recording session")

	// ErrStopped is the failure recorded when stop arrives while a session
	// is still connecting.
	ErrStopped = errors.New("recorder: stopped before recording began")
)
