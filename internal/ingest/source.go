// Package ingest implements the frame source contract for push cameras and
// encoders: it accepts a single RTMP publisher on the session address and
// surfaces its FLV tags as frames. Geometry is negotiated from the
// publisher's onMetaData script object, so publishers must send metadata.
package ingest

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/yutopp/go-amf0"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"streamvault/internal/recorder"
)

// Source listens on the session address and waits for one publisher.
type Source struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	log            zerolog.Logger
}

func NewSource(connectTimeout, readTimeout time.Duration, log zerolog.Logger) *Source {
	return &Source{
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		log:            log,
	}
}

func (s *Source) Open(ctx context.Context, address string) (recorder.Connection, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "ingest: listen")
	}

	conn := &connection{
		readTimeout: s.readTimeout,
		listener:    ln,
		tags:        make(chan *flvtag.FlvTag, 64),
		ready:       make(chan struct{}),
		closed:      make(chan struct{}),
	}
	conn.server = rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(nc net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			return nc, &rtmp.ConnConfig{
				Handler: &handler{conn: conn, log: s.log},
			}
		},
	})
	go func() {
		if serr := conn.server.Serve(ln); serr != nil {
			s.log.Debug().Err(serr).Str("address", address).Msg("rtmp intake stopped")
		}
	}()

	select {
	case <-conn.ready:
		return conn, nil
	case <-time.After(s.connectTimeout):
		_ = conn.Close()
		return nil, errors.Errorf("ingest: no publisher with metadata on %s within %s", address, s.connectTimeout)
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

type connection struct {
	readTimeout time.Duration
	server      *rtmp.Server
	listener    net.Listener
	tags        chan *flvtag.FlvTag

	readyOnce sync.Once
	ready     chan struct{}

	mu  sync.Mutex
	geo recorder.Geometry

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *connection) setGeometry(geo recorder.Geometry) {
	c.mu.Lock()
	c.geo = geo
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *connection) push(tag *flvtag.FlvTag) {
	select {
	case c.tags <- tag:
	case <-c.closed:
	}
}

func (c *connection) ReadFrame() (recorder.Frame, error) {
	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()
	select {
	case tag := <-c.tags:
		return tag, nil
	case <-timer.C:
		return nil, recorder.ErrNoFrame
	case <-c.closed:
		return nil, recorder.ErrNoFrame
	}
}

func (c *connection) Geometry() recorder.Geometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geo
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.server.Close()
		_ = c.listener.Close()
	})
	return nil
}

type handler struct {
	rtmp.DefaultHandler
	conn *connection
	log  zerolog.Logger
}

func (h *handler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	if cmd.PublishingName == "" {
		return errors.New("ingest: publishing name is required")
	}
	h.log.Info().Str("name", cmd.PublishingName).Msg("rtmp publisher connected")
	return nil
}

func (h *handler) OnSetDataFrame(timestamp uint32, data *rtmpmsg.NetStreamSetDataFrame) error {
	r := bytes.NewReader(data.Payload)
	var script flvtag.ScriptData
	if err := flvtag.DecodeScriptData(r, &script); err != nil {
		return errors.Wrap(err, "ingest: decode script data")
	}

	if geo, ok := geometryFromScript(script.Objects); ok {
		h.conn.setGeometry(geo)
	}

	h.conn.push(&flvtag.FlvTag{
		TagType:   flvtag.TagTypeScriptData,
		Timestamp: timestamp,
		Data:      &script,
	})
	return nil
}

// geometryFromScript pulls width/height/framerate out of the publisher's
// onMetaData object. AMF numbers arrive as float64.
func geometryFromScript(objects map[string]amf0.ECMAArray) (recorder.Geometry, bool) {
	meta, ok := objects["onMetaData"]
	if !ok {
		return recorder.Geometry{}, false
	}
	num := func(key string) float64 {
		v, _ := meta[key].(float64)
		return v
	}
	geo := recorder.Geometry{
		Width:     int(num("width")),
		Height:    int(num("height")),
		FrameRate: num("framerate"),
	}
	return geo, true
}

func (h *handler) OnVideo(timestamp uint32, payload io.Reader) error {
	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return err
	}
	body := new(bytes.Buffer)
	if _, err := io.Copy(body, video.Data); err != nil {
		return err
	}
	video.Data = body

	h.conn.push(&flvtag.FlvTag{
		TagType:   flvtag.TagTypeVideo,
		Timestamp: timestamp,
		Data:      &video,
	})
	return nil
}

func (h *handler) OnAudio(timestamp uint32, payload io.Reader) error {
	var audio flvtag.AudioData
	if err := flvtag.DecodeAudioData(payload, &audio); err != nil {
		return err
	}
	body := new(bytes.Buffer)
	if _, err := io.Copy(body, audio.Data); err != nil {
		return err
	}
	audio.Data = body

	h.conn.push(&flvtag.FlvTag{
		TagType:   flvtag.TagTypeAudio,
		Timestamp: timestamp,
		Data:      &audio,
	})
	return nil
}

func (h *handler) OnClose() {
	h.log.Info().Msg("rtmp publisher disconnected")
}
