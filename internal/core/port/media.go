package port

import (
	"context"

	"github.com/tbcare/telecall/internal/core/domain"
)

type CaptureTrack interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	// SetEnabled mutes or unmutes in place; the track keeps running.
	SetEnabled(enabled bool)
	Stop() error
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) ([]CaptureTrack, error)
}
