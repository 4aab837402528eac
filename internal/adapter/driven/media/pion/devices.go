package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var (
	_ port.MediaDevices = (*Devices)(nil)
	_ LocalTrack        = (*SampleTrack)(nil)
)

const opusFrame = 20 * time.Millisecond

// opusSilence is a complete Opus packet encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Devices stands in for camera and microphone on hosts without capture
// hardware. Audio sends Opus silence; video is negotiated but sends no
// frames.
type Devices struct {
	streamID string
	logger   zerolog.Logger
}

func NewDevices(logger zerolog.Logger) *Devices {
	return &Devices{streamID: "telecall-" + uuid.NewString(), logger: logger}
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]port.CaptureTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []port.CaptureTrack
	if c.Audio {
		t, err := newSampleTrack(domain.TrackAudio, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, d.streamID, opusSilence, d.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if c.Video {
		t, err := newSampleTrack(domain.TrackVideo, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, d.streamID, nil, d.logger)
		if err != nil {
			for _, started := range out {
				_ = started.Stop()
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// SampleTrack writes a fixed frame every 20ms while enabled.
type SampleTrack struct {
	kind  domain.TrackKind
	track *webrtc.TrackLocalStaticSample
	frame []byte

	mu      sync.Mutex
	enabled bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSampleTrack(kind domain.TrackKind, codec webrtc.RTPCodecCapability, streamID string, frame []byte, logger zerolog.Logger) (*SampleTrack, error) {
	id := fmt.Sprintf("%s-%s", kind, uuid.NewString())
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &SampleTrack{
		kind:    kind,
		track:   track,
		frame:   frame,
		enabled: true,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.pump(logger)
	return t, nil
}

func (t *SampleTrack) pump(logger zerolog.Logger) {
	defer close(t.done)
	if t.frame == nil {
		<-t.quit
		return
	}
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.quit:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := t.track.WriteSample(media.Sample{Data: t.frame, Duration: opusFrame}); err != nil {
				logger.Debug().Err(err).Str("track", t.track.ID()).Msg("Failed to write sample")
			}
		}
	}
}

func (t *SampleTrack) ID() string             { return t.track.ID() }
func (t *SampleTrack) Kind() domain.TrackKind { return t.kind }

func (t *SampleTrack) TrackLocal() webrtc.TrackLocal {
	return t.track
}

func (t *SampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *SampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *SampleTrack) Stop() error {
	t.stopOnce.Do(func() {
		close(t.quit)
	})
	<-t.done
	return nil
}
