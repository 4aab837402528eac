package negotiation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port/porttest"
)

type published struct {
	kind    domain.SignalKind
	payload any
}

type testPeer struct {
	n          *Negotiator
	transport  *porttest.FakeTransport
	out        []published
	events     []domain.CallEvent
	publishErr error
}

func newTestPeer(name string, polite bool) *testPeer {
	p := &testPeer{transport: porttest.NewFakeTransport(name)}
	p.n = New(Config{
		Transport: p.transport,
		Polite:    polite,
		Logger:    zerolog.Nop(),
		Publish: func(_ context.Context, kind domain.SignalKind, payload any) error {
			if p.publishErr != nil {
				return p.publishErr
			}
			p.out = append(p.out, published{kind: kind, payload: payload})
			return nil
		},
		Emit: func(ev domain.CallEvent) {
			p.events = append(p.events, ev)
		},
	})
	return p
}

// lastDescription returns the most recent description this peer published.
func (p *testPeer) lastDescription(t *testing.T) domain.SessionDescription {
	t.Helper()
	for i := len(p.out) - 1; i >= 0; i-- {
		if p.out[i].kind == domain.SignalDescription {
			return p.out[i].payload.(domain.SessionDescription)
		}
	}
	t.Fatal("no description published")
	return domain.SessionDescription{}
}

func (p *testPeer) countEvents(typ domain.CallEventType) int {
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func offer(sdp string) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: sdp}
}

func answer(sdp string) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: sdp}
}

func TestNegotiatePublishesOffer(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)

	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got := doctor.n.State(); got != domain.NegotiationHaveLocalOffer {
		t.Errorf("State() = %s, want %s", got, domain.NegotiationHaveLocalOffer)
	}
	desc := doctor.lastDescription(t)
	if desc.Type != domain.SDPOffer || desc.SDP != "doctor-offer-1" {
		t.Errorf("published = %+v, want doctor-offer-1 offer", desc)
	}
}

func TestNegotiateDefersUntilStable(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)

	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if got := doctor.transport.CountCalls("create-offer"); got != 1 {
		t.Fatalf("offers before answer = %d, want 1", got)
	}

	outcome, err := doctor.n.HandleDescription(ctx, answer("patient-answer"))
	if err != nil {
		t.Fatalf("HandleDescription: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeApplied)
	}
	if got := doctor.transport.CountCalls("create-offer"); got != 2 {
		t.Errorf("offers after answer = %d, want 2", got)
	}
	if got := doctor.n.State(); got != domain.NegotiationHaveLocalOffer {
		t.Errorf("State() = %s, want %s", got, domain.NegotiationHaveLocalOffer)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)

	for _, c := range []string{"c1", "c2", "c3"} {
		if err := patient.n.HandleCandidate(candidate(c)); err != nil {
			t.Fatalf("HandleCandidate(%s): %v", c, err)
		}
	}
	if got := patient.n.Queue().Len(); got != 3 {
		t.Errorf("queued = %d, want 3", got)
	}
	if got := patient.transport.CountCalls("add-candidate"); got != 0 {
		t.Fatalf("transport saw %d candidates before a remote description", got)
	}

	outcome, err := patient.n.HandleDescription(ctx, offer("doctor-offer-1"))
	if err != nil {
		t.Fatalf("HandleDescription: %v", err)
	}
	if outcome != OutcomeAnswered {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeAnswered)
	}

	applied := patient.transport.AppliedCandidates()
	if len(applied) != 3 {
		t.Fatalf("applied = %d candidates, want 3", len(applied))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if applied[i].Candidate != want {
			t.Errorf("applied[%d] = %s, want %s", i, applied[i].Candidate, want)
		}
	}
	if got := patient.n.Queue().Len(); got != 0 {
		t.Errorf("queue after drain = %d, want 0", got)
	}

	// Candidates are applied before the answer is produced.
	calls := patient.transport.Calls()
	setRemote, firstCandidate, createAnswer := -1, -1, -1
	for i, c := range calls {
		switch {
		case c == "set-remote:offer:doctor-offer-1":
			setRemote = i
		case c == "add-candidate:c1" && firstCandidate < 0:
			firstCandidate = i
		case c == "create-answer":
			createAnswer = i
		}
	}
	if !(setRemote < firstCandidate && firstCandidate < createAnswer) {
		t.Errorf("call order = %v", calls)
	}
}

func TestSingleQueuedCandidateAppliedOnce(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)

	if err := patient.n.HandleCandidate(candidate("c1")); err != nil {
		t.Fatal(err)
	}
	if got := patient.n.Queue().Len(); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
	if got := len(patient.transport.Calls()); got != 0 {
		t.Fatalf("transport calls = %d, want 0", got)
	}

	if _, err := patient.n.HandleDescription(ctx, offer("doctor-offer-1")); err != nil {
		t.Fatal(err)
	}
	if got := patient.n.Queue().Len(); got != 0 {
		t.Errorf("queued = %d, want 0", got)
	}
	if got := patient.transport.CountCalls("add-candidate:c1"); got != 1 {
		t.Errorf("add-candidate calls = %d, want 1", got)
	}
}

func TestCandidateAppliedImmediatelyWithRemoteDescription(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)
	if _, err := patient.n.HandleDescription(ctx, offer("doctor-offer-1")); err != nil {
		t.Fatal(err)
	}

	if err := patient.n.HandleCandidate(candidate("late")); err != nil {
		t.Fatal(err)
	}
	if got := patient.n.Queue().Len(); got != 0 {
		t.Errorf("queued = %d, want 0", got)
	}
	if got := patient.transport.CountCalls("add-candidate:late"); got != 1 {
		t.Errorf("add-candidate calls = %d, want 1", got)
	}
}

func TestCandidateFailureDoesNotStopDrain(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)
	patient.transport.FailCandidates["bad"] = true

	for _, c := range []string{"good-1", "bad", "good-2"} {
		_ = patient.n.HandleCandidate(candidate(c))
	}
	outcome, err := patient.n.HandleDescription(ctx, offer("doctor-offer-1"))
	if err != nil {
		t.Fatalf("HandleDescription: %v", err)
	}
	if outcome != OutcomeAnswered {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeAnswered)
	}
	if got := len(patient.transport.AppliedCandidates()); got != 2 {
		t.Errorf("applied = %d, want 2", got)
	}
	if got := patient.countEvents(domain.EventCandidateFailed); got != 1 {
		t.Errorf("candidate_failed events = %d, want 1", got)
	}

	err = patient.n.HandleCandidate(candidate("bad"))
	if !errors.Is(err, domain.ErrCandidateApply) {
		t.Errorf("err = %v, want ErrCandidateApply", err)
	}
	var cerr *domain.CallError
	if !errors.As(err, &cerr) || cerr.Details == "" {
		t.Errorf("err = %#v, want CallError with details", err)
	}
}

func TestImpoliteIgnoresCollidingOffer(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	published := len(doctor.out)

	outcome, err := doctor.n.HandleDescription(ctx, offer("patient-offer-1"))
	if err != nil {
		t.Fatalf("HandleDescription: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeIgnored)
	}
	if got := doctor.transport.CountCalls("set-remote"); got != 0 {
		t.Errorf("set-remote calls = %d, want 0", got)
	}
	if got := doctor.transport.CountCalls("rollback"); got != 0 {
		t.Errorf("rollback calls = %d, want 0", got)
	}
	if len(doctor.out) != published {
		t.Errorf("published %d extra signals for an ignored offer", len(doctor.out)-published)
	}
	if got := doctor.transport.LocalDescription(); got == nil || got.SDP != "doctor-offer-1" {
		t.Errorf("local description = %+v, want doctor-offer-1", got)
	}
	if got := doctor.countEvents(domain.EventOfferIgnored); got != 1 {
		t.Errorf("offer_ignored events = %d, want 1", got)
	}
}

func TestIgnoredOfferCandidatesAreSilent(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	doctor.transport.FailCandidates["stale"] = true

	// Reach stable with a remote description first.
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := doctor.n.HandleDescription(ctx, answer("patient-answer-1")); err != nil {
		t.Fatal(err)
	}
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if outcome, _ := doctor.n.HandleDescription(ctx, offer("patient-offer-2")); outcome != OutcomeIgnored {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeIgnored)
	}

	if err := doctor.n.HandleCandidate(candidate("stale")); err != nil {
		t.Errorf("HandleCandidate = %v, want nil while offer ignored", err)
	}
	if got := doctor.countEvents(domain.EventCandidateFailed); got != 0 {
		t.Errorf("candidate_failed events = %d, want 0", got)
	}
}

func TestPoliteRollsBackOnCollision(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)
	if err := patient.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}

	outcome, err := patient.n.HandleDescription(ctx, offer("doctor-offer-1"))
	if err != nil {
		t.Fatalf("HandleDescription: %v", err)
	}
	if outcome != OutcomeAnswered {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeAnswered)
	}
	if got := patient.transport.CountCalls("rollback"); got != 1 {
		t.Errorf("rollback calls = %d, want 1", got)
	}
	desc := patient.lastDescription(t)
	if desc.Type != domain.SDPAnswer || desc.SDP != "patient-answer-to-doctor-offer-1" {
		t.Errorf("published = %+v, want answer to doctor-offer-1", desc)
	}
	if got := patient.n.State(); got != domain.NegotiationStable {
		t.Errorf("State() = %s, want %s", got, domain.NegotiationStable)
	}
}

func TestSimultaneousOffersImpoliteWins(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	patient := newTestPeer("patient", true)

	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := patient.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	o1 := doctor.lastDescription(t)
	o2 := patient.lastDescription(t)

	// Both offers cross on the wire.
	if outcome, err := patient.n.HandleDescription(ctx, o1); err != nil || outcome != OutcomeAnswered {
		t.Fatalf("patient HandleDescription(O1) = %s, %v", outcome, err)
	}
	if outcome, err := doctor.n.HandleDescription(ctx, o2); err != nil || outcome != OutcomeIgnored {
		t.Fatalf("doctor HandleDescription(O2) = %s, %v", outcome, err)
	}

	a1 := patient.lastDescription(t)
	if outcome, err := doctor.n.HandleDescription(ctx, a1); err != nil || outcome != OutcomeApplied {
		t.Fatalf("doctor HandleDescription(A1) = %s, %v", outcome, err)
	}

	if got := doctor.transport.LocalDescription(); got == nil || got.SDP != o1.SDP {
		t.Errorf("doctor local = %+v, want %s", got, o1.SDP)
	}
	if got := doctor.transport.RemoteDescription(); got == nil || got.SDP != "patient-answer-to-doctor-offer-1" {
		t.Errorf("doctor remote = %+v, want answer to O1", got)
	}
	if got := patient.transport.RemoteDescription(); got == nil || got.SDP != o1.SDP {
		t.Errorf("patient remote = %+v, want %s", got, o1.SDP)
	}
	for name, p := range map[string]*testPeer{"doctor": doctor, "patient": patient} {
		if got := p.transport.SignalingState(); got != domain.SignalingStable {
			t.Errorf("%s signaling = %s, want stable", name, got)
		}
	}
}

func TestStaleAnswerIgnored(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)

	outcome, err := doctor.n.HandleDescription(ctx, answer("old-answer"))
	if err != nil {
		t.Fatalf("HandleDescription: %v", err)
	}
	if outcome != OutcomeStale {
		t.Errorf("outcome = %s, want %s", outcome, OutcomeStale)
	}
	if got := len(doctor.transport.Calls()); got != 0 {
		t.Errorf("transport calls = %d, want 0", got)
	}
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	doctor.publishErr = domain.NewCallError("publish", domain.ErrSignalingPublish)

	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatalf("Negotiate = %v, want nil", err)
	}
	if got := doctor.n.State(); got != domain.NegotiationHaveLocalOffer {
		t.Errorf("State() = %s, want %s", got, domain.NegotiationHaveLocalOffer)
	}
	if got := doctor.countEvents(domain.EventPublishFailed); got != 1 {
		t.Errorf("publish_failed events = %d, want 1", got)
	}
}

func TestFailureRestartsIceOnceThenGivesUp(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := doctor.n.HandleDescription(ctx, answer("patient-answer-1")); err != nil {
		t.Fatal(err)
	}
	doctor.n.HandleConnectionState(ctx, domain.ConnectionConnected)
	if got := doctor.n.State(); got != domain.NegotiationConnected {
		t.Fatalf("State() = %s, want %s", got, domain.NegotiationConnected)
	}

	doctor.n.HandleConnectionState(ctx, domain.ConnectionFailed)
	if got := doctor.transport.CountCalls("create-offer:restart"); got != 1 {
		t.Fatalf("restart offers = %d, want 1", got)
	}
	if got := doctor.countEvents(domain.EventTransportFailed); got != 0 {
		t.Fatalf("transport_failed after first failure = %d, want 0", got)
	}

	doctor.n.HandleConnectionState(ctx, domain.ConnectionFailed)
	if got := doctor.n.State(); got != domain.NegotiationFailed {
		t.Errorf("State() = %s, want %s", got, domain.NegotiationFailed)
	}
	if got := doctor.transport.CountCalls("create-offer:restart"); got != 1 {
		t.Errorf("restart offers = %d, want 1", got)
	}
	var failed *domain.CallEvent
	for i := range doctor.events {
		if doctor.events[i].Type == domain.EventTransportFailed {
			failed = &doctor.events[i]
		}
	}
	if failed == nil || !errors.Is(failed.Err, domain.ErrTransportFailed) {
		t.Errorf("transport_failed event = %+v, want ErrTransportFailed", failed)
	}
	last := doctor.events[len(doctor.events)-1]
	if last.Type != domain.EventStatus || last.Status != domain.StatusFailed {
		t.Errorf("last event = %+v, want failed status", last)
	}
}

func TestReconnectAllowsAnotherRestart(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := doctor.n.HandleDescription(ctx, answer("a1")); err != nil {
		t.Fatal(err)
	}

	doctor.n.HandleConnectionState(ctx, domain.ConnectionFailed)
	if _, err := doctor.n.HandleDescription(ctx, answer("a2")); err != nil {
		t.Fatal(err)
	}
	doctor.n.HandleConnectionState(ctx, domain.ConnectionConnected)
	doctor.n.HandleConnectionState(ctx, domain.ConnectionFailed)

	if got := doctor.transport.CountCalls("create-offer:restart"); got != 2 {
		t.Errorf("restart offers = %d, want 2", got)
	}
	if got := doctor.countEvents(domain.EventTransportFailed); got != 0 {
		t.Errorf("transport_failed events = %d, want 0", got)
	}
}

func TestCloseClearsQueueAndRejectsInput(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)
	_ = patient.n.HandleCandidate(candidate("c1"))

	patient.n.Close()
	if got := patient.n.Queue().Len(); got != 0 {
		t.Errorf("queued = %d, want 0", got)
	}
	if err := patient.n.HandleCandidate(candidate("c2")); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("HandleCandidate = %v, want ErrClosed", err)
	}
	if _, err := patient.n.HandleDescription(ctx, offer("o")); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("HandleDescription = %v, want ErrClosed", err)
	}
	if err := patient.n.Negotiate(ctx); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("Negotiate = %v, want ErrClosed", err)
	}
}

func TestPoliteWaitsForPeerIceRestart(t *testing.T) {
	ctx := context.Background()
	doctor := newTestPeer("doctor", false)
	patient := newTestPeer("patient", true)
	if err := doctor.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := patient.n.HandleDescription(ctx, doctor.lastDescription(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := doctor.n.HandleDescription(ctx, patient.lastDescription(t)); err != nil {
		t.Fatal(err)
	}

	// Both sides see the failure at once.
	doctor.n.HandleConnectionState(ctx, domain.ConnectionFailed)
	patient.n.HandleConnectionState(ctx, domain.ConnectionFailed)

	if got := patient.transport.CountCalls("create-offer"); got != 0 {
		t.Errorf("patient offers = %d, want 0", got)
	}
	if got := doctor.transport.CountCalls("create-offer:restart"); got != 1 {
		t.Fatalf("doctor restart offers = %d, want 1", got)
	}

	outcome, err := patient.n.HandleDescription(ctx, doctor.lastDescription(t))
	if err != nil || outcome != OutcomeAnswered {
		t.Fatalf("patient HandleDescription(restart) = %s, %v", outcome, err)
	}
	if _, err := doctor.n.HandleDescription(ctx, patient.lastDescription(t)); err != nil {
		t.Fatal(err)
	}
	for name, p := range map[string]*testPeer{"doctor": doctor, "patient": patient} {
		if got := p.countEvents(domain.EventTransportFailed); got != 0 {
			t.Errorf("%s transport_failed events = %d, want 0", name, got)
		}
		if got := p.transport.SignalingState(); got != domain.SignalingStable {
			t.Errorf("%s signaling = %s, want stable", name, got)
		}
	}

	// A second failure before reconnecting ends the call for the polite side too.
	patient.n.HandleConnectionState(ctx, domain.ConnectionFailed)
	if got := patient.n.State(); got != domain.NegotiationFailed {
		t.Errorf("patient State() = %s, want %s", got, domain.NegotiationFailed)
	}
}

func TestPoliteCannotRollBackEstablishedConnection(t *testing.T) {
	ctx := context.Background()
	patient := newTestPeer("patient", true)
	if _, err := patient.n.HandleDescription(ctx, offer("doctor-offer-1")); err != nil {
		t.Fatal(err)
	}
	if err := patient.n.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := patient.n.HandleDescription(ctx, offer("doctor-offer-2"))
	if !errors.Is(err, domain.ErrTransportFailed) {
		t.Errorf("err = %v, want ErrTransportFailed", err)
	}
	if err == nil || !strings.Contains(err.Error(), porttest.ErrFakeEstablished.Error()) {
		t.Errorf("err = %v, want established rollback refusal", err)
	}
}
