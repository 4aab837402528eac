package porttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var (
	_ port.MediaDevices = (*FakeDevices)(nil)
	_ port.CaptureTrack = (*FakeTrack)(nil)
)

type FakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.TrackKind
	enabled bool
	toggles int
	stops   int
}

func NewFakeTrack(id string, kind domain.TrackKind) *FakeTrack {
	return &FakeTrack{id: id, kind: kind, enabled: true}
}

func (t *FakeTrack) ID() string             { return t.id }
func (t *FakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *FakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *FakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	t.toggles++
}

func (t *FakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

// Toggles counts SetEnabled calls.
func (t *FakeTrack) Toggles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toggles
}

func (t *FakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// FakeDevices hands out fresh fake tracks on each GetUserMedia call.
type FakeDevices struct {
	mu     sync.Mutex
	calls  int
	tracks []*FakeTrack

	Err error
}

func (d *FakeDevices) GetUserMedia(_ context.Context, c domain.MediaConstraints) ([]port.CaptureTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, d.Err
	}
	var out []port.CaptureTrack
	if c.Audio {
		t := NewFakeTrack(fmt.Sprintf("audio-%d", d.calls), domain.TrackAudio)
		d.tracks = append(d.tracks, t)
		out = append(out, t)
	}
	if c.Video {
		t := NewFakeTrack(fmt.Sprintf("video-%d", d.calls), domain.TrackVideo)
		d.tracks = append(d.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

func (d *FakeDevices) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Tracks returns every track handed out so far.
func (d *FakeDevices) Tracks() []*FakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeTrack(nil), d.tracks...)
}
