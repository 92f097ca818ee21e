package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/fastsock/fastsock/internal/util"
)

// SessionState tracks offer/answer progress for a single peer connection.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionHasLocalOffer
	SessionHasRemoteOffer
	SessionNegotiating
	SessionConnected
	SessionClosed
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionHasLocalOffer:
		return "have-local-offer"
	case SessionHasRemoteOffer:
		return "have-remote-offer"
	case SessionNegotiating:
		return "negotiating"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PeerConn is the slice of *webrtc.PeerConnection the session uses.
// Tests substitute a mock.
type PeerConn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(func(*webrtc.ICECandidate))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// Session owns one peer connection for the lifetime of one call.
//
// Remote ICE candidates arriving before the remote description is set are
// buffered and applied in arrival order once it is; candidates arriving
// after that point are applied immediately, but only once the buffer has
// drained so ordering survives the handoff.
type Session struct {
	mu        sync.Mutex
	pc        PeerConn
	state     SessionState
	callID    string
	peerID    int
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	onCandidate    func(webrtc.ICECandidateInit)
	onConnected    func()
	onDisconnected func()
	onRemoteTrack  func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// NewSession wires the session callbacks onto the peer connection.
func NewSession(pc PeerConn, callID string, peerID int) *Session {
	s := &Session{pc: pc, state: SessionNew, callID: callID, peerID: peerID}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end-of-candidates marker
		}
		s.mu.Lock()
		cb := s.onCandidate
		closed := s.state == SessionClosed
		s.mu.Unlock()
		if cb != nil && !closed {
			cb(c.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		s.mu.Lock()
		cb := s.onRemoteTrack
		s.mu.Unlock()
		if cb != nil {
			cb(track, recv)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			if s.state != SessionClosed {
				s.state = SessionConnected
			}
			cb := s.onConnected
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			s.mu.Lock()
			alreadyClosed := s.state == SessionClosed
			if !alreadyClosed && state == webrtc.PeerConnectionStateFailed {
				s.state = SessionFailed
			}
			cb := s.onDisconnected
			s.mu.Unlock()
			if cb != nil && !alreadyClosed {
				cb()
			}
		}
	})

	return s
}

// CallID returns the call this session belongs to.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// State returns the current negotiation state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnCandidate registers the outbound trickle-ICE callback.
func (s *Session) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

// OnConnected fires once the peer connection reaches connected.
func (s *Session) OnConnected(fn func()) {
	s.mu.Lock()
	s.onConnected = fn
	s.mu.Unlock()
}

// OnDisconnected fires when the connection fails, disconnects or closes.
func (s *Session) OnDisconnected(fn func()) {
	s.mu.Lock()
	s.onDisconnected = fn
	s.mu.Unlock()
}

// OnRemoteTrack fires for each inbound media track.
func (s *Session) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	s.mu.Lock()
	s.onRemoteTrack = fn
	s.mu.Unlock()
}

// AttachLocal adds the local capture tracks to the connection. Must run
// before CreateOffer/CreateAnswer so the SDP carries the media sections.
func (s *Session) AttachLocal(tracks []webrtc.TrackLocal) error {
	for _, t := range tracks {
		if _, err := s.pc.AddTrack(t); err != nil {
			return fmt.Errorf("adding local track: %w", err)
		}
	}
	return nil
}

// CreateOffer produces and installs the local offer (caller side).
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionNew {
		return webrtc.SessionDescription{}, fmt.Errorf("cannot offer in state %s", s.state)
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting local offer: %w", err)
	}
	s.state = SessionHasLocalOffer
	return offer, nil
}

// ApplyRemoteOffer installs the caller's offer (callee side). Buffered
// candidates stay queued until CreateAnswer runs.
func (s *Session) ApplyRemoteOffer(offer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionNew {
		return fmt.Errorf("cannot apply remote offer in state %s", s.state)
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("setting remote offer: %w", err)
	}
	s.remoteSet = true
	s.state = SessionHasRemoteOffer
	return nil
}

// CreateAnswer produces and installs the local answer, then drains the
// candidate buffer.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionHasRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("cannot answer in state %s", s.state)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting local answer: %w", err)
	}
	s.state = SessionNegotiating
	s.drainLocked()
	return answer, nil
}

// ApplyRemoteAnswer installs the callee's answer (caller side), then
// drains the candidate buffer.
func (s *Session) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionHasLocalOffer {
		return fmt.Errorf("cannot apply remote answer in state %s", s.state)
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote answer: %w", err)
	}
	s.remoteSet = true
	s.state = SessionNegotiating
	s.drainLocked()
	return nil
}

// AddRemoteCandidate applies or buffers a remote ICE candidate. A failing
// candidate is logged and skipped; a single bad candidate must not kill
// the call.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return
	}
	if !s.remoteSet || len(s.pending) > 0 {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		util.LogWarning("adding ICE candidate: %v", err)
	}
}

// Preload seeds the candidate buffer with candidates that arrived before
// the session existed, preserving their arrival order.
func (s *Session) Preload(candidates []webrtc.ICECandidateInit) {
	s.mu.Lock()
	s.pending = append(s.pending, candidates...)
	s.mu.Unlock()
}

func (s *Session) drainLocked() {
	for _, c := range s.pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			util.LogWarning("adding buffered ICE candidate: %v", err)
		}
	}
	s.pending = nil
}

// Close tears the connection down. Idempotent; outbound candidate
// emission is suppressed afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosed
	s.pending = nil
	s.onCandidate = nil
	s.onConnected = nil
	s.onDisconnected = nil
	s.onRemoteTrack = nil
	pc := s.pc
	s.mu.Unlock()

	if err := pc.Close(); err != nil {
		util.LogDebug("closing peer connection: %v", err)
	}
}
