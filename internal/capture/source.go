// Package capture implements the frame source and writer contracts over
// ffmpeg/ffprobe subprocesses: ffprobe negotiates the stream geometry,
// ffmpeg decodes the camera stream to raw frames on a pipe, and a second
// ffmpeg process encodes raw frames back into an MP4 file.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"streamvault/internal/recorder"
)

// bytesPerPixel for the bgr24 pipe format.
const bytesPerPixel = 3

// Source opens pull-model camera streams (rtsp://, http://, local files for
// testing) through an ffmpeg decode subprocess.
type Source struct {
	ffmpegPath   string
	ffprobePath  string
	readTimeout  time.Duration
	probeTimeout time.Duration
	log          zerolog.Logger
}

func NewSource(ffmpegPath, ffprobePath string, readTimeout time.Duration, log zerolog.Logger) *Source {
	return &Source{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		readTimeout:  readTimeout,
		probeTimeout: 15 * time.Second,
		log:          log,
	}
}

func (s *Source) Open(ctx context.Context, address string) (recorder.Connection, error) {
	geo, err := s.probe(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "capture: probe")
	}

	cmd := exec.Command(s.ffmpegPath, decodeArgs(address)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "capture: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "capture: start ffmpeg")
	}

	conn := &connection{
		geo:         geo,
		readTimeout: s.readTimeout,
		cmd:         cmd,
		frames:      make(chan []byte, 4),
		closed:      make(chan struct{}),
	}
	go conn.readFrames(stdout)
	return conn, nil
}

// decodeArgs builds the ffmpeg invocation that turns the camera stream into
// raw bgr24 frames on stdout.
func decodeArgs(address string) []string {
	args := []string{"-nostdin", "-loglevel", "error"}
	if strings.HasPrefix(address, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", address,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-an",
		"pipe:1",
	)
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

func (s *Source) probe(ctx context.Context, address string) (recorder.Geometry, error) {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(pctx, s.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate",
		"-of", "json",
		address,
	)
	out, err := cmd.Output()
	if err != nil {
		return recorder.Geometry{}, errors.Wrapf(err, "ffprobe %s", address)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (recorder.Geometry, error) {
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return recorder.Geometry{}, errors.Wrap(err, "decode ffprobe output")
	}
	if len(parsed.Streams) == 0 {
		return recorder.Geometry{}, errors.New("no video stream reported")
	}
	st := parsed.Streams[0]
	return recorder.Geometry{
		Width:     st.Width,
		Height:    st.Height,
		FrameRate: parseRate(st.AvgFrameRate),
	}, nil
}

// parseRate turns ffprobe's rational rate ("30/1", "0/0") into a float.
// Unparseable or degenerate rates come back as 0 and are replaced by the
// supervisor's fallback.
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	if !found {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			return f
		}
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

type connection struct {
	geo         recorder.Geometry
	readTimeout time.Duration
	cmd         *exec.Cmd
	frames      chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// readFrames pumps full frames from the decode pipe into a bounded channel
// so ReadFrame can wait with a deadline. It exits when the pipe ends.
func (c *connection) readFrames(r io.Reader) {
	frameSize := c.geo.Width * c.geo.Height * bytesPerPixel
	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			close(c.frames)
			return
		}
		select {
		case c.frames <- buf:
		case <-c.closed:
			return
		}
	}
}

func (c *connection) ReadFrame() (recorder.Frame, error) {
	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return nil, recorder.ErrNoFrame
		}
		return frame, nil
	case <-timer.C:
		return nil, recorder.ErrNoFrame
	}
}

func (c *connection) Geometry() recorder.Geometry {
	return c.geo
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		c.closeErr = c.cmd.Wait()
	})
	return c.closeErr
}
