package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yutopp/go-amf0"
	flvtag "github.com/yutopp/go-flv/tag"

	"streamvault/internal/recorder"
)

func TestGeometryFromScript(t *testing.T) {
	objects := map[string]amf0.ECMAArray{
		"onMetaData": {
			"width":     1280.0,
			"height":    720.0,
			"framerate": 30.0,
			"encoder":   "obs-studio",
		},
	}

	geo, ok := geometryFromScript(objects)

	require.True(t, ok)
	assert.Equal(t, recorder.Geometry{Width: 1280, Height: 720, FrameRate: 30}, geo)
}

func TestGeometryFromScriptMissingMetadata(t *testing.T) {
	_, ok := geometryFromScript(map[string]amf0.ECMAArray{"somethingElse": {}})
	assert.False(t, ok)
}

func TestGeometryFromScriptPartialMetadata(t *testing.T) {
	// A publisher that omits dimensions yields zero geometry, which the
	// supervisor rejects downstream.
	geo, ok := geometryFromScript(map[string]amf0.ECMAArray{
		"onMetaData": {"framerate": 25.0},
	})

	require.True(t, ok)
	assert.Zero(t, geo.Width)
	assert.Zero(t, geo.Height)
	assert.Equal(t, 25.0, geo.FrameRate)
}

func TestWriterOpenerExtension(t *testing.T) {
	assert.Equal(t, "flv", NewWriterOpener().Extension())
}

func TestWriterOpenerRefusesBadGeometry(t *testing.T) {
	o := NewWriterOpener()
	_, err := o.Open(filepath.Join(t.TempDir(), "out.flv"), recorder.Geometry{})
	assert.Error(t, err)
}

func TestWriterRoundTrip(t *testing.T) {
	o := NewWriterOpener()
	path := filepath.Join(t.TempDir(), "out.flv")

	w, err := o.Open(path, recorder.Geometry{Width: 1280, Height: 720, FrameRate: 30})
	require.NoError(t, err)

	tag := &flvtag.FlvTag{
		TagType:   flvtag.TagTypeScriptData,
		Timestamp: 0,
		Data:      &flvtag.ScriptData{Objects: map[string]amf0.ECMAArray{}},
	}
	require.NoError(t, w.Write(tag))
	require.NoError(t, w.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, fi.Size(), "flv header and tag must be on disk")
}

func TestWriterRejectsForeignFrameType(t *testing.T) {
	o := NewWriterOpener()
	path := filepath.Join(t.TempDir(), "out.flv")

	w, err := o.Open(path, recorder.Geometry{Width: 1280, Height: 720, FrameRate: 30})
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Write([]byte{0x01}))
}
