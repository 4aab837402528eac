package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/adapter/driven/signaling/memory"
	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port/porttest"
)

var both = domain.MediaConstraints{Audio: true, Video: true}

type participant struct {
	service   *CallService
	factory   *porttest.FakeFactory
	devices   *porttest.FakeDevices
	transport *porttest.FakeTransport
	room      domain.RoomConfig
}

func newParticipant(store *memory.Store, identity domain.Identity, role domain.Role) *participant {
	clk := newMockClock()
	p := &participant{
		transport: porttest.NewFakeTransport(string(identity)),
		devices:   &porttest.FakeDevices{},
		room: domain.RoomConfig{
			RoomID:   testRoom,
			Identity: identity,
			Role:     role,
		},
	}
	p.factory = &porttest.FakeFactory{Transport: p.transport}
	p.service = NewCallService(newChannel(store, clk), p.factory, p.devices, clk, zerolog.Nop(), CallOptions{})
	return p
}

func (p *participant) join(t *testing.T) *Session {
	t.Helper()
	sess, err := p.service.Join(context.Background(), p.room, JoinOptions{Constraints: both})
	if err != nil {
		t.Fatalf("Join(%s): %v", p.room.Identity, err)
	}
	t.Cleanup(func() { _ = sess.Leave() })
	return sess
}

func (p *participant) assertReleased(t *testing.T) {
	t.Helper()
	tracks := p.devices.Tracks()
	if len(tracks) == 0 {
		t.Fatal("no tracks were acquired")
	}
	for _, tr := range tracks {
		if got := tr.Stops(); got != 1 {
			t.Errorf("%s stopped %d times, want 1", tr.ID(), got)
		}
	}
}

func signalsFrom(t *testing.T, store *memory.Store, sender domain.Identity, kind domain.SignalKind) []domain.SignalMessage {
	t.Helper()
	all, err := store.Since(context.Background(), testRoom, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	var out []domain.SignalMessage
	for _, m := range all {
		if m.Sender == sender && m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func drainEvents(sess *Session) []domain.CallEvent {
	var out []domain.CallEvent
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestJoinOffersWhenRoomIsEmpty(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	sess := doctor.join(t)

	if got := sess.Status(); got != domain.StatusJoining {
		t.Errorf("Status() = %s, want %s", got, domain.StatusJoining)
	}
	offers := signalsFrom(t, store, doctorID, domain.SignalDescription)
	if len(offers) != 1 {
		t.Fatalf("published %d descriptions, want 1", len(offers))
	}
	desc, err := offers[0].Description()
	if err != nil {
		t.Fatal(err)
	}
	if desc.Type != domain.SDPOffer {
		t.Errorf("published %s, want offer", desc.Type)
	}
	if got := len(doctor.transport.Tracks()); got != 2 {
		t.Errorf("attached tracks = %d, want 2", got)
	}
	if got := store.Subscribers(testRoom); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
}

func TestLateJoinerReplaysBacklog(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	offer := storedSignal(t, doctorID, domain.SignalDescription,
		domain.SessionDescription{Type: domain.SDPOffer, SDP: "doctor-offer-1"}, epoch.Add(-30*time.Second))
	c1 := storedSignal(t, doctorID, domain.SignalCandidate, domain.ICECandidate{Candidate: "c1"}, epoch.Add(-29*time.Second))
	c2 := storedSignal(t, doctorID, domain.SignalCandidate, domain.ICECandidate{Candidate: "c2"}, epoch.Add(-28*time.Second))
	for _, m := range []domain.SignalMessage{c2, c1, offer} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	p := newParticipant(store, patient, domain.RoleResponder)
	p.join(t)

	calls := p.transport.Calls()
	var order []string
	for _, c := range calls {
		switch c {
		case "set-remote:offer:doctor-offer-1", "add-candidate:c1", "add-candidate:c2":
			order = append(order, c)
		}
	}
	want := []string{"set-remote:offer:doctor-offer-1", "add-candidate:c1", "add-candidate:c2"}
	if len(order) != len(want) {
		t.Fatalf("transport calls = %v", calls)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, order[i], want[i])
		}
	}
	if got := p.transport.CountCalls("create-offer"); got != 0 {
		t.Errorf("late joiner created %d offers, want 0", got)
	}
	answers := signalsFrom(t, store, patient, domain.SignalDescription)
	if len(answers) != 1 {
		t.Fatalf("published %d descriptions, want 1 answer", len(answers))
	}
	if desc, _ := answers[0].Description(); desc.Type != domain.SDPAnswer {
		t.Errorf("published %s, want answer", desc.Type)
	}
}

func TestTwoParticipantsConverge(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	p := newParticipant(store, patient, domain.RoleResponder)

	doctor.join(t)
	p.join(t)

	eventually(t, "doctor applies the answer", func() bool {
		return doctor.transport.RemoteDescription() != nil
	})
	remote := doctor.transport.RemoteDescription()
	if remote.Type != domain.SDPAnswer || remote.SDP != "patient-answer-to-doctor-offer-1" {
		t.Errorf("doctor remote = %+v, want answer to doctor-offer-1", remote)
	}
	if got := doctor.transport.SignalingState(); got != domain.SignalingStable {
		t.Errorf("doctor signaling = %s, want stable", got)
	}
	if got := doctor.transport.CountCalls("set-remote:offer"); got != 0 {
		t.Errorf("doctor accepted %d offers, want 0", got)
	}
}

func TestOwnSignalsAreNotProcessed(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	sess := doctor.join(t)

	// Fire a local candidate; it is published and must not come back.
	c := domain.ICECandidate{Candidate: "local-1"}
	doctor.transport.Fire(domain.TransportEvent{Type: domain.TransportICECandidate, Candidate: &c})
	eventually(t, "candidate published", func() bool {
		return len(signalsFrom(t, store, doctorID, domain.SignalCandidate)) == 1
	})

	if err := sess.Leave(); err != nil {
		t.Fatal(err)
	}
	for _, ev := range drainEvents(sess) {
		if ev.Type == domain.EventOfferIgnored {
			t.Error("own offer was delivered back")
		}
	}
	if got := doctor.transport.CountCalls("add-candidate"); got != 0 {
		t.Errorf("own candidates applied = %d, want 0", got)
	}
}

func TestTransportEventsBecomeCallEvents(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	sess := doctor.join(t)

	doctor.transport.Fire(domain.TransportEvent{Type: domain.TransportConnectionState, Connection: domain.ConnectionConnected})
	eventually(t, "connected status", func() bool {
		return sess.Status() == domain.StatusConnected
	})

	track := &domain.RemoteTrack{ID: "remote-video", Kind: domain.TrackVideo}
	doctor.transport.Fire(domain.TransportEvent{Type: domain.TransportTrack, Track: track})

	if err := sess.Leave(); err != nil {
		t.Fatal(err)
	}
	var sawTrack bool
	var statuses []domain.CallStatus
	for ev := range sess.Events() {
		if ev.RoomID != testRoom {
			t.Errorf("event room = %s, want %s", ev.RoomID, testRoom)
		}
		switch ev.Type {
		case domain.EventRemoteTrack:
			sawTrack = ev.Track != nil && ev.Track.ID == "remote-video"
		case domain.EventStatus:
			statuses = append(statuses, ev.Status)
		}
	}
	if !sawTrack {
		t.Error("remote track event not emitted")
	}
	want := []domain.CallStatus{domain.StatusJoining, domain.StatusConnected, domain.StatusLeft}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestLeaveReleasesEverythingOnce(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	sess := doctor.join(t)

	for i := 0; i < 2; i++ {
		if err := sess.Leave(); err != nil {
			t.Fatalf("Leave #%d: %v", i+1, err)
		}
	}
	doctor.assertReleased(t)
	if got := doctor.transport.CloseCount(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
	if got := store.Subscribers(testRoom); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
	if got := sess.Status(); got != domain.StatusLeft {
		t.Errorf("Status() = %s, want %s", got, domain.StatusLeft)
	}
	select {
	case <-sess.Done():
	default:
		t.Error("session loop still running")
	}
}

func TestJoinRollsBackWhenTransportCreationFails(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	doctor.factory.Err = errors.New("no ice servers")

	_, err := doctor.service.Join(context.Background(), doctor.room, JoinOptions{Constraints: both})
	if !errors.Is(err, domain.ErrTransportFailed) {
		t.Fatalf("err = %v, want ErrTransportFailed", err)
	}
	doctor.assertReleased(t)
	if got := store.Subscribers(testRoom); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
}

func TestJoinRollsBackWhenTrackAttachFails(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	doctor.transport.AddTrackErr = errors.New("codec mismatch")

	_, err := doctor.service.Join(context.Background(), doctor.room, JoinOptions{Constraints: both})
	if !errors.Is(err, domain.ErrTransportFailed) {
		t.Fatalf("err = %v, want ErrTransportFailed", err)
	}
	doctor.assertReleased(t)
	if got := doctor.transport.CloseCount(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
}

func TestJoinRollsBackWhenSubscribeFails(t *testing.T) {
	store := memory.NewStore()
	store.SubscribeErr = errors.New("realtime unavailable")
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)

	if _, err := doctor.service.Join(context.Background(), doctor.room, JoinOptions{Constraints: both}); err == nil {
		t.Fatal("Join succeeded without a subscription")
	}
	doctor.assertReleased(t)
	if got := doctor.transport.CloseCount(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
}

func TestJoinFailsOnMediaAccess(t *testing.T) {
	store := memory.NewStore()
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	doctor.devices.Err = errors.New("NotAllowedError")

	_, err := doctor.service.Join(context.Background(), doctor.room, JoinOptions{Constraints: both})
	if !errors.Is(err, domain.ErrMediaAccess) {
		t.Fatalf("err = %v, want ErrMediaAccess", err)
	}
	if got := doctor.factory.Created(); got != 0 {
		t.Errorf("transports created = %d, want 0", got)
	}
}

func TestJoinContinuesWithoutBacklog(t *testing.T) {
	store := memory.NewStore()
	store.SinceErr = errors.New("query timeout")
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	doctor.join(t)

	if got := doctor.transport.CountCalls("create-offer"); got != 1 {
		t.Errorf("offers = %d, want 1", got)
	}
}

func TestPublishFailureKeepsSessionAlive(t *testing.T) {
	store := memory.NewStore()
	store.InsertErr = errors.New("write refused")
	doctor := newParticipant(store, doctorID, domain.RoleInitiator)
	sess := doctor.join(t)

	if err := sess.Leave(); err != nil {
		t.Fatal(err)
	}
	var failed int
	for ev := range sess.Events() {
		if ev.Type == domain.EventPublishFailed {
			failed++
			if !errors.Is(ev.Err, domain.ErrSignalingPublish) {
				t.Errorf("publish_failed err = %v, want ErrSignalingPublish", ev.Err)
			}
		}
	}
	if failed != 1 {
		t.Errorf("publish_failed events = %d, want 1", failed)
	}
}

func TestJoinAdoptsPreview(t *testing.T) {
	store := memory.NewStore()
	p := newParticipant(store, patient, domain.RoleResponder)

	preview, err := p.service.Preview(context.Background(), both)
	if err != nil {
		t.Fatal(err)
	}
	preview.SetVideoEnabled(false)

	sess, err := p.service.Join(context.Background(), p.room, JoinOptions{Constraints: both, Preview: preview})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Leave()

	if got := p.devices.Calls(); got != 1 {
		t.Errorf("GetUserMedia calls = %d, want 1", got)
	}
	if sess.Media() != preview {
		t.Error("session did not adopt the preview media")
	}
	if sess.Media().VideoEnabled() {
		t.Error("video re-enabled by join")
	}

	sess.SetVideoEnabled(true)
	if !preview.VideoEnabled() {
		t.Error("video not restored")
	}
	video := p.devices.Tracks()[1]
	if got := video.Stops(); got != 0 {
		t.Errorf("video stopped %d times before leave, want 0", got)
	}
}

func TestJoinAppliesStartMuted(t *testing.T) {
	store := memory.NewStore()
	p := newParticipant(store, patient, domain.RoleResponder)
	sess, err := p.service.Join(context.Background(), p.room, JoinOptions{Constraints: both, AudioMuted: true})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Leave()
	if sess.Media().AudioEnabled() {
		t.Error("audio enabled, want muted")
	}
	if !sess.Media().VideoEnabled() {
		t.Error("video muted, want enabled")
	}
}

func TestJoinRejectsInvalidRoom(t *testing.T) {
	store := memory.NewStore()
	p := newParticipant(store, patient, domain.RoleResponder)
	p.room.Role = "observer"
	_, err := p.service.Join(context.Background(), p.room, JoinOptions{Constraints: both})
	if !errors.Is(err, domain.ErrInvalidRoom) {
		t.Errorf("err = %v, want ErrInvalidRoom", err)
	}
	if got := p.devices.Calls(); got != 0 {
		t.Errorf("GetUserMedia calls = %d, want 0", got)
	}
}

func TestJoinPrunesExpiredSignals(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	old := storedSignal(t, doctorID, domain.SignalDescription,
		domain.SessionDescription{Type: domain.SDPOffer, SDP: "abandoned"}, epoch.Add(-11*time.Minute))
	if err := store.Insert(ctx, old); err != nil {
		t.Fatal(err)
	}

	p := newParticipant(store, patient, domain.RoleResponder)
	p.join(t)

	if got := p.transport.CountCalls("set-remote"); got != 0 {
		t.Errorf("applied %d expired descriptions, want 0", got)
	}
	for _, m := range signalsFrom(t, store, doctorID, domain.SignalDescription) {
		if m.ID == old.ID {
			t.Error("expired signal not pruned")
		}
	}
}

func TestSeenSignalsForgottenAfterBacklogWindow(t *testing.T) {
	clk := newMockClock()
	room := domain.RoomConfig{RoomID: testRoom, Identity: patient, Role: domain.RoleResponder}
	sess := newSession(context.Background(), room, nil, nil, clk, zerolog.Nop(), 1, DefaultBacklogWindow)
	defer sess.stop()

	first := storedSignal(t, doctorID, domain.SignalCandidate, domain.ICECandidate{Candidate: "c1"}, epoch)
	if !sess.remember(first) {
		t.Fatal("first delivery reported as duplicate")
	}
	if sess.remember(first) {
		t.Error("redelivery not reported as duplicate")
	}

	clk.Add(DefaultBacklogWindow + time.Second)
	second := storedSignal(t, doctorID, domain.SignalCandidate, domain.ICECandidate{Candidate: "c2"}, clk.Now())
	if !sess.remember(second) {
		t.Fatal("second delivery reported as duplicate")
	}
	if got := len(sess.seen); got != 1 {
		t.Errorf("remembered signals = %d, want 1", got)
	}
	if _, ok := sess.seen[second.ID]; !ok {
		t.Error("fresh signal forgotten")
	}
}
