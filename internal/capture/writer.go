package capture

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"

	"streamvault/internal/recorder"
)

// WriterOpener encodes raw frames into an MP4 file through an ffmpeg
// subprocess fed on stdin.
type WriterOpener struct {
	ffmpegPath string
}

func NewWriterOpener(ffmpegPath string) *WriterOpener {
	return &WriterOpener{ffmpegPath: ffmpegPath}
}

func (o *WriterOpener) Extension() string { return "mp4" }

func (o *WriterOpener) Open(path string, geo recorder.Geometry) (recorder.Writer, error) {
	// A zero rate makes writer timing undefined; the supervisor substitutes
	// the fallback before we get here, so treat this as a programming error.
	if geo.Width <= 0 || geo.Height <= 0 || geo.FrameRate <= 0 {
		return nil, errors.Errorf("capture: refusing writer with geometry %dx%d@%g", geo.Width, geo.Height, geo.FrameRate)
	}

	cmd := exec.Command(o.ffmpegPath, encodeArgs(path, geo)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "capture: stdin pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "capture: start encoder")
	}
	return &writer{cmd: cmd, stdin: stdin, stderr: &stderr}, nil
}

// encodeArgs builds the ffmpeg invocation that encodes raw bgr24 frames from
// stdin into an H.264 MP4 at the negotiated geometry.
func encodeArgs(path string, geo recorder.Geometry) []string {
	return []string{
		"-nostdin", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", geo.Width, geo.Height),
		"-r", strconv.FormatFloat(geo.FrameRate, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		path,
	}
}

type writer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func (w *writer) Write(frame recorder.Frame) error {
	buf, ok := frame.([]byte)
	if !ok {
		return errors.Errorf("capture: unexpected frame type %T", frame)
	}
	_, err := w.stdin.Write(buf)
	return err
}

// Close flushes the encoder and waits for it to finalize the container.
func (w *writer) Close() error {
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return errors.Wrapf(err, "capture: encoder exit: %s", bytes.TrimSpace(w.stderr.Bytes()))
	}
	return nil
}
