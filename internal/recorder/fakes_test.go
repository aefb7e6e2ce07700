package recorder

import (
	"context"
	"os"
	"sync"
	"time"
)

// fakeConn yields frames from a user-supplied read function.
type fakeConn struct {
	geo    Geometry
	readFn func() (Frame, error)

	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	if c.readFn == nil {
		time.Sleep(time.Millisecond)
		return nil, ErrNoFrame
	}
	return c.readFn()
}

func (c *fakeConn) Geometry() Geometry { return c.geo }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// steadyFrames produces one small frame per call at the given interval.
func steadyFrames(interval time.Duration) func() (Frame, error) {
	return func() (Frame, error) {
		time.Sleep(interval)
		return []byte{0xde, 0xad}, nil
	}
}

// neverFrames simulates a stalled stream.
func neverFrames() func() (Frame, error) {
	return func() (Frame, error) {
		time.Sleep(time.Millisecond)
		return nil, ErrNoFrame
	}
}

// fakeSource hands out connections from openFn and counts attempts.
type fakeSource struct {
	openFn func(ctx context.Context, address string) (Connection, error)

	mu    sync.Mutex
	opens int
}

func (s *fakeSource) Open(ctx context.Context, address string) (Connection, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	return s.openFn(ctx, address)
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// fileWriterOpener writes byte-slice frames to a real file so the loop's
// output verification sees actual sizes.
type fileWriterOpener struct {
	openErr  error
	writeErr error
	closeErr error

	mu     sync.Mutex
	opened int
}

func (o *fileWriterOpener) Extension() string { return "bin" }

func (o *fileWriterOpener) Open(path string, geo Geometry) (Writer, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
	return &fileWriter{f: f, writeErr: o.writeErr, closeErr: o.closeErr}, nil
}

func (o *fileWriterOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

type fileWriter struct {
	f        *os.File
	writeErr error
	closeErr error
}

func (w *fileWriter) Write(frame Frame) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	buf, _ := frame.([]byte)
	_, err := w.f.Write(buf)
	return err
}

func (w *fileWriter) Close() error {
	_ = w.f.Close()
	return w.closeErr
}

type uploadCall struct {
	recErr      error
	file        string
	destination string
}

// immediateTask resolves as soon as it is created.
type immediateTask struct{ err error }

func (t immediateTask) Wait(context.Context) error { return t.err }

// fakeUploader records Handle calls and returns pre-resolved tasks.
type fakeUploader struct {
	taskErr error

	mu    sync.Mutex
	calls []uploadCall
}

func (u *fakeUploader) Handle(recErr error, file, destination string) UploadTask {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, uploadCall{recErr: recErr, file: file, destination: destination})
	return immediateTask{err: u.taskErr}
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func (u *fakeUploader) call(i int) uploadCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[i]
}

// fakeJournal records terminal sessions and upload outcomes in memory.
type fakeJournal struct {
	mu       sync.Mutex
	finished []JournalEntry
	uploads  map[string]error
	uploaded map[string]bool
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		uploads:  make(map[string]error),
		uploaded: make(map[string]bool),
	}
}

func (j *fakeJournal) RecordFinished(_ context.Context, entry JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = append(j.finished, entry)
}

func (j *fakeJournal) RecordUpload(_ context.Context, sessionID string, uploadErr error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.uploads[sessionID] = uploadErr
	j.uploaded[sessionID] = true
}

func (j *fakeJournal) finishedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.finished)
}

func (j *fakeJournal) finishedEntry(i int) JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished[i]
}

func (j *fakeJournal) uploadRecorded(sessionID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uploaded[sessionID]
}

func (j *fakeJournal) uploadErr(sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uploads[sessionID]
}
