package recorder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamvault/internal/uploader"
)

func framesSource(interval time.Duration) *fakeSource {
	return &fakeSource{
		openFn: func(context.Context, string) (Connection, error) {
			return &fakeConn{
				geo:    Geometry{Width: 640, Height: 480, FrameRate: 30},
				readFn: steadyFrames(interval),
			}, nil
		},
	}
}

func newTestOrchestrator(t *testing.T, source Source, up Uploader, journal Journal, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = t.TempDir()
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 2
	}
	if cfg.ConnectBackoff == 0 {
		cfg.ConnectBackoff = time.Millisecond
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 2
	}
	if cfg.Staleness == 0 {
		cfg.Staleness = 50 * time.Millisecond
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 10 * time.Millisecond
	}
	if cfg.FallbackFPS == 0 {
		cfg.FallbackFPS = 25
	}
	return NewOrchestrator(cfg, source, &fileWriterOpener{}, up, journal, zerolog.Nop())
}

func TestOrchestratorIdleStatus(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{})

	st := o.Status()

	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.SessionID)
	assert.Zero(t, st.ElapsedSeconds)
}

func TestOrchestratorSessionCompletes(t *testing.T) {
	up := &fakeUploader{}
	journal := newFakeJournal()
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), up, journal, Config{})

	sess, err := o.Start(context.Background(), "test://camera", 50*time.Millisecond, "archive:/dest")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(sess.OutputPath), "recording_")
	assert.True(t, strings.HasSuffix(sess.OutputPath, ".bin"))

	st := o.Status()
	assert.Equal(t, sess.ID, st.SessionID)
	assert.Equal(t, StateRecording, st.State)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}

	st, ok := o.SessionStatus(sess.ID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, st.State)
	assert.Positive(t, st.ElapsedSeconds)

	require.Equal(t, 1, up.callCount())
	call := up.call(0)
	assert.NoError(t, call.recErr)
	assert.Equal(t, sess.OutputPath, call.file)
	assert.Equal(t, "archive:/dest", call.destination)

	require.Equal(t, 1, journal.finishedCount())
	entry := journal.finishedEntry(0)
	assert.Equal(t, string(StateCompleted), entry.State)
	assert.Empty(t, entry.Error)
	assert.Positive(t, entry.Frames)

	assert.Eventually(t, func() bool {
		return journal.uploadRecorded(sess.ID)
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, journal.uploadErr(sess.ID))
}

func TestOrchestratorRejectsConcurrentStart(t *testing.T) {
	source := framesSource(2 * time.Millisecond)
	up := &fakeUploader{}
	o := newTestOrchestrator(t, source, up, newFakeJournal(), Config{})

	sess, err := o.Start(context.Background(), "test://camera", time.Second, "archive:/dest")
	require.NoError(t, err)

	_, err = o.Start(context.Background(), "test://other", time.Second, "archive:/dest")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	// The rejected start must not touch the source or the active session.
	assert.Equal(t, 1, source.openCount())
	assert.Equal(t, 0, up.callCount())

	require.NoError(t, o.Stop(context.Background(), false))
	<-sess.Done()
}

func TestOrchestratorStopWithoutSession(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{})

	assert.ErrorIs(t, o.Stop(context.Background(), false), ErrNotRecording)
}

func TestOrchestratorStopAfterCompletion(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{})

	sess, err := o.Start(context.Background(), "test://camera", 30*time.Millisecond, "archive:/dest")
	require.NoError(t, err)
	<-sess.Done()

	assert.ErrorIs(t, o.Stop(context.Background(), false), ErrNotRecording)
}

func TestOrchestratorConnectFailureSurfaced(t *testing.T) {
	source := &fakeSource{
		openFn: func(context.Context, string) (Connection, error) {
			return nil, errors.New("camera offline")
		},
	}
	up := &fakeUploader{}
	journal := newFakeJournal()
	o := newTestOrchestrator(t, source, up, journal, Config{})

	_, err := o.Start(context.Background(), "test://camera", time.Second, "archive:/dest")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionExhausted)
	assert.Equal(t, 2, source.openCount())

	st := o.Status()
	assert.Equal(t, StateFailed, st.State)

	// No output path was ever assigned, so nothing reaches the pipeline.
	assert.Equal(t, 0, up.callCount())
	require.Equal(t, 1, journal.finishedCount())
	assert.Equal(t, string(StateFailed), journal.finishedEntry(0).State)
	assert.Contains(t, journal.finishedEntry(0).Error, "camera offline")
}

func TestOrchestratorFailedSessionRetainsFile(t *testing.T) {
	// A session that fails mid-recording still hands its file to the
	// pipeline, which must see the failure and skip the upload.
	source := &fakeSource{
		openFn: func(context.Context, string) (Connection, error) {
			return &fakeConn{
				geo:    Geometry{Width: 640, Height: 480, FrameRate: 30},
				readFn: neverFrames(),
			}, nil
		},
	}
	up := &fakeUploader{}
	o := newTestOrchestrator(t, source, up, newFakeJournal(), Config{
		Staleness:     10 * time.Millisecond,
		MaxReconnects: 1,
	})

	sess, err := o.Start(context.Background(), "test://camera", time.Hour, "archive:/dest")
	require.NoError(t, err)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not fail")
	}

	st, _ := o.SessionStatus(sess.ID)
	assert.Equal(t, StateFailed, st.State)
	require.Equal(t, 1, up.callCount())
	assert.Error(t, up.call(0).recErr)
	assert.Equal(t, sess.OutputPath, up.call(0).file)
}

func TestOrchestratorStopDuringConnecting(t *testing.T) {
	source := &fakeSource{
		openFn: func(context.Context, string) (Connection, error) {
			time.Sleep(50 * time.Millisecond)
			return &fakeConn{
				geo:    Geometry{Width: 640, Height: 480, FrameRate: 30},
				readFn: steadyFrames(time.Millisecond),
			}, nil
		},
	}
	o := newTestOrchestrator(t, source, &fakeUploader{}, newFakeJournal(), Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Start(context.Background(), "test://camera", time.Second, "archive:/dest")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return o.Status().State == StateConnecting
	}, time.Second, time.Millisecond)

	require.NoError(t, o.Stop(context.Background(), false))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return")
	}
	assert.Equal(t, StateFailed, o.Status().State)
}

func TestOrchestratorStopEarly(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{
		StopGrace: 10 * time.Millisecond,
	})

	sess, err := o.Start(context.Background(), "test://camera", time.Hour, "archive:/dest")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, o.Stop(context.Background(), false))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, sess.StopRequested())
	st, _ := o.SessionStatus(sess.ID)
	assert.Equal(t, StateCompleted, st.State)
}

func TestOrchestratorStopNearCompletionLetsFinish(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{
		StopGrace: time.Hour,
	})

	sess, err := o.Start(context.Background(), "test://camera", 80*time.Millisecond, "archive:/dest")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, o.Stop(context.Background(), false))

	// The remaining budget was below the grace window, so the stop flag was
	// never raised and the session ran to its natural end.
	assert.False(t, sess.StopRequested())
	st, _ := o.SessionStatus(sess.ID)
	assert.Equal(t, StateCompleted, st.State)
}

func TestOrchestratorStopWaitsForUpload(t *testing.T) {
	uploadErr := errors.New("archive rejected the file")
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), &fakeUploader{taskErr: uploadErr}, newFakeJournal(), Config{})

	_, err := o.Start(context.Background(), "test://camera", time.Hour, "archive:/dest")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	err = o.Stop(context.Background(), true)
	assert.ErrorIs(t, err, uploadErr)
}

func TestOrchestratorEvictsOldestFinishedSessions(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{
		SessionHistory: 2,
	})

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := o.Start(context.Background(), "test://camera", 20*time.Millisecond, "archive:/dest")
		require.NoError(t, err)
		<-sess.Done()
		ids = append(ids, sess.ID)
	}

	_, ok := o.SessionStatus(ids[0])
	assert.False(t, ok, "oldest finished session must be evicted")
	for _, id := range ids[1:] {
		_, ok := o.SessionStatus(id)
		assert.True(t, ok)
	}
}

func TestOrchestratorShutdownCancelsActiveSession(t *testing.T) {
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), &fakeUploader{}, newFakeJournal(), Config{})

	sess, err := o.Start(context.Background(), "test://camera", time.Hour, "archive:/dest")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session still running after shutdown")
	}
}

// End to end against the real completion pipeline: a stub archival command
// records its invocation, the local file is deleted on success.
func TestSessionArchivesAndDeletesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub not portable to windows")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "invocations.log")
	script := filepath.Join(dir, "archive.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("#!/bin/sh\necho \"$1 $2\" >> \""+logPath+"\"\nexit 0\n"), 0o755))

	pipeline := uploader.New(script, 5*time.Second, zerolog.Nop())
	journal := newFakeJournal()
	o := newTestOrchestrator(t, framesSource(2*time.Millisecond), pipelineUploader{p: pipeline}, journal, Config{})

	sess, err := o.Start(context.Background(), "test://camera", 40*time.Millisecond, "archive:/vault/cam1")
	require.NoError(t, err)
	<-sess.Done()

	st, _ := o.SessionStatus(sess.ID)
	require.Equal(t, StateCompleted, st.State)

	require.Eventually(t, func() bool {
		return journal.uploadRecorded(sess.ID)
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, journal.uploadErr(sess.ID))

	// Invoked exactly once with the file and destination.
	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(logged)), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, sess.OutputPath+" archive:/vault/cam1", lines[0])

	// Confirmed success deletes the local copy.
	_, err = os.Stat(sess.OutputPath)
	assert.True(t, os.IsNotExist(err))
}

// pipelineUploader mirrors the wiring in cmd/api.
type pipelineUploader struct {
	p *uploader.Pipeline
}

func (u pipelineUploader) Handle(recErr error, file, destination string) UploadTask {
	return u.p.Handle(recErr, file, destination)
}
