// Package media owns the local capture tracks of a call.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

// Session holds the local audio and video tracks. Muting flips the enabled
// flag on the live track so the transport never has to renegotiate.
type Session struct {
	devices port.MediaDevices
	logger  zerolog.Logger

	mu       sync.Mutex
	tracks   []port.CaptureTrack
	released bool
}

func NewSession(devices port.MediaDevices, logger zerolog.Logger) *Session {
	return &Session{
		devices: devices,
		logger:  logger,
	}
}

// Initialize acquires capture tracks. A session acquires at most once;
// later calls return the tracks already held.
func (s *Session) Initialize(ctx context.Context, constraints domain.MediaConstraints) ([]port.CaptureTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, domain.NewCallError("initialize media", domain.ErrClosed)
	}
	if s.tracks != nil {
		return append([]port.CaptureTrack(nil), s.tracks...), nil
	}
	if constraints.Empty() {
		return nil, domain.WrapCallError("initialize media", domain.ErrMediaAccess, errors.New("no audio or video requested"))
	}

	tracks, err := s.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		s.logger.Error().Err(err).Msg("media acquisition failed")
		if errors.Is(err, domain.ErrMediaAccess) {
			return nil, err
		}
		return nil, domain.WrapCallError("initialize media", domain.ErrMediaAccess, err)
	}
	if len(tracks) == 0 {
		return nil, domain.WrapCallError("initialize media", domain.ErrMediaAccess, errors.New("no capture device available"))
	}

	s.tracks = tracks
	s.logger.Info().Int("tracks", len(tracks)).Msg("local media acquired")
	return append([]port.CaptureTrack(nil), tracks...), nil
}

func (s *Session) Tracks() []port.CaptureTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]port.CaptureTrack(nil), s.tracks...)
}

func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks != nil && !s.released
}

func (s *Session) SetAudioEnabled(enabled bool) {
	s.setEnabled(domain.TrackAudio, enabled)
}

func (s *Session) SetVideoEnabled(enabled bool) {
	s.setEnabled(domain.TrackVideo, enabled)
}

func (s *Session) setEnabled(kind domain.TrackKind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	for _, t := range s.tracks {
		if t.Kind() != kind || t.Enabled() == enabled {
			continue
		}
		t.SetEnabled(enabled)
		s.logger.Debug().Str("kind", string(kind)).Bool("enabled", enabled).Msg("track toggled")
	}
}

// AudioEnabled reports whether any audio track is live.
func (s *Session) AudioEnabled() bool {
	return s.anyEnabled(domain.TrackAudio)
}

func (s *Session) VideoEnabled() bool {
	return s.anyEnabled(domain.TrackVideo)
}

func (s *Session) anyEnabled(kind domain.TrackKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

// Release stops every track. Only the first call does anything.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	var err error
	for _, t := range s.tracks {
		err = multierr.Append(err, t.Stop())
	}
	s.logger.Info().Int("tracks", len(s.tracks)).Msg("local media released")
	s.tracks = nil
	return err
}

func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
