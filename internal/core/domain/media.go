package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type MediaConstraints struct {
	Audio bool
	Video bool
}

func (c MediaConstraints) Empty() bool {
	return !c.Audio && !c.Video
}

// RemoteTrack describes media the peer started sending.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     TrackKind
	Codec    string
}
