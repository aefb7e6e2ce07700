// Package uploader hands finished recordings to the external archival
// command and removes the local copy only on confirmed success.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"streamvault/internal/metrics"
)

var (
	// ErrUploadFailed is returned when the archival command exits non-zero.
	ErrUploadFailed = errors.New("uploader: archival command failed")

	// ErrUploadTimeout is returned when the archival command outlives its
	// execution timeout. The local file is retained.
	ErrUploadTimeout = errors.New("uploader: archival command timed out")
)

// Task is the awaitable handle for one archival attempt. It resolves exactly
// once; the file is deleted only when Err resolves to nil.
type Task struct {
	File        string
	Destination string

	done chan struct{}
	err  error
}

// Wait blocks until the attempt resolves or ctx is canceled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pipeline runs archival attempts on their own goroutine so upload latency
// never delays the recording controller. One attempt per session, no hidden
// retry; retry is an operator decision.
type Pipeline struct {
	command string
	timeout time.Duration
	log     zerolog.Logger
}

func New(command string, timeout time.Duration, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		command: command,
		timeout: timeout,
		log:     log,
	}
}

// Handle accepts a finished session's outcome. When recErr is non-nil the
// file is retained and nothing is uploaded; the returned task resolves
// immediately. Otherwise the archival command is invoked asynchronously.
func (p *Pipeline) Handle(recErr error, file, destination string) *Task {
	task := &Task{
		File:        file,
		Destination: destination,
		done:        make(chan struct{}),
	}
	if recErr != nil {
		p.log.Warn().
			Err(recErr).
			Str("file", file).
			Msg("recording did not succeed, skipping upload and retaining file")
		close(task.done)
		return task
	}

	go p.run(task)
	return task
}

func (p *Pipeline) run(task *Task) {
	defer close(task.done)

	start := time.Now()
	p.log.Info().
		Str("file", task.File).
		Str("destination", task.Destination).
		Str("command", p.command).
		Msg("uploading recording")

	var stderr bytes.Buffer
	cmd := exec.Command(p.command, task.File, task.Destination)
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		task.err = fmt.Errorf("%w: %v", ErrUploadFailed, err)
		metrics.IncUpload("failed")
		p.log.Error().Err(err).Str("file", task.File).Msg("failed to start archival command")
		return
	}

	// The timeout abandons the attempt without killing the external
	// process; the goroutine below reaps it whenever it exits.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		metrics.ObserveUploadDuration(time.Since(start))
		if err != nil {
			task.err = fmt.Errorf("%w: %v: %s", ErrUploadFailed, err, bytes.TrimSpace(stderr.Bytes()))
			metrics.IncUpload("failed")
			p.log.Error().
				Err(err).
				Str("file", task.File).
				Str("stderr", stderr.String()).
				Msg("upload failed, retaining local file")
			return
		}
		if rmErr := os.Remove(task.File); rmErr != nil {
			p.log.Warn().Err(rmErr).Str("file", task.File).Msg("uploaded but failed to remove local file")
		}
		metrics.IncUpload("success")
		p.log.Info().
			Str("file", task.File).
			Str("destination", task.Destination).
			Dur("took", time.Since(start)).
			Msg("upload successful, removed local file")
	case <-timer.C:
		task.err = fmt.Errorf("%w after %s", ErrUploadTimeout, p.timeout)
		metrics.IncUpload("timeout")
		p.log.Error().
			Str("file", task.File).
			Dur("timeout", p.timeout).
			Msg("upload timed out, retaining local file")
	}
}
