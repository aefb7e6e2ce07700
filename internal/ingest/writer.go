package ingest

import (
	"os"

	"github.com/pkg/errors"
	flv "github.com/yutopp/go-flv"
	flvtag "github.com/yutopp/go-flv/tag"

	"streamvault/internal/recorder"
)

// WriterOpener persists FLV tags from the RTMP intake to an FLV file.
type WriterOpener struct{}

func NewWriterOpener() *WriterOpener { return &WriterOpener{} }

func (o *WriterOpener) Extension() string { return "flv" }

func (o *WriterOpener) Open(path string, geo recorder.Geometry) (recorder.Writer, error) {
	if geo.Width <= 0 || geo.Height <= 0 || geo.FrameRate <= 0 {
		return nil, errors.Errorf("ingest: refusing writer with geometry %dx%d@%g", geo.Width, geo.Height, geo.FrameRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "ingest: create output")
	}
	enc, err := flv.NewEncoder(f, flv.FlagsAudio|flv.FlagsVideo)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "ingest: flv encoder")
	}
	return &writer{file: f, enc: enc}, nil
}

type writer struct {
	file *os.File
	enc  *flv.Encoder
}

func (w *writer) Write(frame recorder.Frame) error {
	tag, ok := frame.(*flvtag.FlvTag)
	if !ok {
		return errors.Errorf("ingest: unexpected frame type %T", frame)
	}
	return w.enc.Encode(tag)
}

func (w *writer) Close() error {
	return w.file.Close()
}
