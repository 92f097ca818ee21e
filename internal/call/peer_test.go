package call

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

// mockPC stands in for *webrtc.PeerConnection and records every call.
type mockPC struct {
	mu         sync.Mutex
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     int

	offerErr     error
	answerErr    error
	candidateErr error

	onICE   func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)
}

func (m *mockPC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if m.offerErr != nil {
		return webrtc.SessionDescription{}, m.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (m *mockPC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if m.answerErr != nil {
		return webrtc.SessionDescription{}, m.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (m *mockPC) SetLocalDescription(d webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localDesc = &d
	return nil
}

func (m *mockPC) SetRemoteDescription(d webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteDesc = &d
	return nil
}

func (m *mockPC) AddICECandidate(c webrtc.ICECandidateInit) error {
	if m.candidateErr != nil {
		return m.candidateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *mockPC) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, t)
	return nil, nil
}

func (m *mockPC) OnICECandidate(fn func(*webrtc.ICECandidate)) { m.onICE = fn }
func (m *mockPC) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.onTrack = fn
}
func (m *mockPC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { m.onState = fn }

func (m *mockPC) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockPC) applied() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(m.candidates))
	copy(out, m.candidates)
	return out
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestCalleeBuffersUntilAnswer(t *testing.T) {
	pc := &mockPC{}
	sess := NewSession(pc, "c1", 2)

	sess.AddRemoteCandidate(cand("a"))
	sess.AddRemoteCandidate(cand("b"))
	if got := pc.applied(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	if err := sess.ApplyRemoteOffer(offer); err != nil {
		t.Fatalf("ApplyRemoteOffer: %v", err)
	}
	// Applying the offer alone must not drain; the answer does.
	if got := pc.applied(); len(got) != 0 {
		t.Fatalf("candidates drained before answer: %v", got)
	}
	sess.AddRemoteCandidate(cand("c"))

	if _, err := sess.CreateAnswer(); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	got := pc.applied()
	if len(got) != 3 || got[0].Candidate != "a" || got[1].Candidate != "b" || got[2].Candidate != "c" {
		t.Fatalf("drain order = %v, want a,b,c", got)
	}
}

func TestCallerDrainsOnRemoteAnswer(t *testing.T) {
	pc := &mockPC{}
	sess := NewSession(pc, "c1", 2)

	if _, err := sess.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	sess.AddRemoteCandidate(cand("x"))
	sess.AddRemoteCandidate(cand("y"))
	if got := pc.applied(); len(got) != 0 {
		t.Fatalf("candidates applied before remote answer: %v", got)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	if err := sess.ApplyRemoteAnswer(answer); err != nil {
		t.Fatalf("ApplyRemoteAnswer: %v", err)
	}
	got := pc.applied()
	if len(got) != 2 || got[0].Candidate != "x" || got[1].Candidate != "y" {
		t.Fatalf("drain order = %v, want x,y", got)
	}

	// After the drain, candidates apply immediately.
	sess.AddRemoteCandidate(cand("z"))
	if got := pc.applied(); len(got) != 3 || got[2].Candidate != "z" {
		t.Fatalf("late candidate not applied: %v", got)
	}
}

func TestPreloadKeepsArrivalOrder(t *testing.T) {
	pc := &mockPC{}
	sess := NewSession(pc, "c1", 2)

	sess.Preload([]webrtc.ICECandidateInit{cand("1"), cand("2")})
	sess.AddRemoteCandidate(cand("3"))

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	if err := sess.ApplyRemoteOffer(offer); err != nil {
		t.Fatalf("ApplyRemoteOffer: %v", err)
	}
	if _, err := sess.CreateAnswer(); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}

	got := pc.applied()
	if len(got) != 3 || got[0].Candidate != "1" || got[1].Candidate != "2" || got[2].Candidate != "3" {
		t.Fatalf("order = %v, want 1,2,3", got)
	}
}

func TestBadCandidateDoesNotKillCall(t *testing.T) {
	pc := &mockPC{candidateErr: errors.New("malformed candidate")}
	sess := NewSession(pc, "c1", 2)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	if err := sess.ApplyRemoteOffer(offer); err != nil {
		t.Fatalf("ApplyRemoteOffer: %v", err)
	}
	sess.AddRemoteCandidate(cand("bad"))
	if _, err := sess.CreateAnswer(); err != nil {
		t.Fatalf("CreateAnswer after bad candidate: %v", err)
	}
	if sess.State() != SessionNegotiating {
		t.Fatalf("state = %s, want negotiating", sess.State())
	}
}

func TestStateGuards(t *testing.T) {
	pc := &mockPC{}
	sess := NewSession(pc, "c1", 2)

	if _, err := sess.CreateAnswer(); err == nil {
		t.Fatal("CreateAnswer without a remote offer must fail")
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	if err := sess.ApplyRemoteAnswer(answer); err == nil {
		t.Fatal("ApplyRemoteAnswer without a local offer must fail")
	}

	if _, err := sess.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := sess.CreateOffer(); err == nil {
		t.Fatal("second CreateOffer must fail")
	}
}

func TestCloseIsIdempotentAndSilencesCallbacks(t *testing.T) {
	pc := &mockPC{}
	sess := NewSession(pc, "c1", 2)

	var emitted int
	sess.OnCandidate(func(webrtc.ICECandidateInit) { emitted++ })
	var disconnects int
	sess.OnDisconnected(func() { disconnects++ })

	sess.Close()
	sess.Close()
	if pc.closed != 1 {
		t.Fatalf("pc closed %d times, want 1", pc.closed)
	}
	if sess.State() != SessionClosed {
		t.Fatalf("state = %s, want closed", sess.State())
	}

	pc.onICE(&webrtc.ICECandidate{})
	pc.onState(webrtc.PeerConnectionStateDisconnected)
	if emitted != 0 || disconnects != 0 {
		t.Fatalf("callbacks fired after close: emitted=%d disconnects=%d", emitted, disconnects)
	}
}

func TestConnectionStateCallbacks(t *testing.T) {
	pc := &mockPC{}
	sess := NewSession(pc, "c1", 2)

	var connected, disconnected int
	sess.OnConnected(func() { connected++ })
	sess.OnDisconnected(func() { disconnected++ })

	pc.onState(webrtc.PeerConnectionStateConnected)
	if connected != 1 || sess.State() != SessionConnected {
		t.Fatalf("connected=%d state=%s", connected, sess.State())
	}
	pc.onState(webrtc.PeerConnectionStateFailed)
	if disconnected != 1 || sess.State() != SessionFailed {
		t.Fatalf("disconnected=%d state=%s", disconnected, sess.State())
	}
}
