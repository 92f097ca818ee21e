package call

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/fastsock/fastsock/internal/channel"
	"github.com/fastsock/fastsock/internal/notify"
	"github.com/fastsock/fastsock/internal/util"
)

// Status is the call lifecycle phase. One call at a time; an invite
// arriving in any phase but Idle is answered with busy.
type Status int

const (
	StatusIdle Status = iota
	StatusOutgoing
	StatusIncoming
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusOutgoing:
		return "outgoing"
	case StatusIncoming:
		return "incoming"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// LocalStream is the capture-side surface the machine needs. Satisfied
// by *media.Stream.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	HasVideo() bool
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	Stop()
}

// Media acquires local capture. Satisfied by *media.Acquirer via a small
// adapter in the caller.
type Media interface {
	Acquire(wantVideo bool) (LocalStream, error)
}

// IncomingCall is a ringing invite awaiting accept or reject.
type IncomingCall struct {
	CallID     string
	FromUserID int
	RoomID     *int
	Offer      webrtc.SessionDescription
	Media      MediaFlags
}

// Machine drives the call lifecycle: placing and answering calls, routing
// inbound signaling, and tearing everything down exactly once per call.
type Machine struct {
	sig       *Signaler
	media     Media
	newPeer   func() (PeerConn, error)
	notifier  notify.Notifier
	connected func() bool

	mu         sync.Mutex
	status     Status
	callID     string
	peerID     int
	roomID     *int
	incoming   *IncomingCall
	session    *Session
	local      LocalStream
	accepting  bool
	muted      bool
	cameraOff  bool
	hangupSent bool

	// Candidates for the ringing call, received before a session exists.
	pendingCand []webrtc.ICECandidateInit

	remoteTracks []*webrtc.TrackRemote
}

// Config carries the machine's collaborators.
type Config struct {
	Signaler *Signaler
	Media    Media
	// NewPeer builds a fresh peer connection per call.
	NewPeer  func() (PeerConn, error)
	Notifier notify.Notifier
	// Connected reports whether the event channel is open.
	Connected func() bool
}

func NewMachine(cfg Config) *Machine {
	n := cfg.Notifier
	if n == nil {
		n = notify.Discard{}
	}
	return &Machine{
		sig:       cfg.Signaler,
		media:     cfg.Media,
		newPeer:   cfg.NewPeer,
		notifier:  n,
		connected: cfg.Connected,
	}
}

// ---------------------------------------------------------------------------
// Placing a call
// ---------------------------------------------------------------------------

// StartCall places an outgoing call to peerID, requesting audio+video and
// falling back to audio-only when the camera is unavailable. roomID tags
// the invite with a room context when non-nil.
func (m *Machine) StartCall(peerID int, roomID *int) error {
	if m.connected != nil && !m.connected() {
		return fmt.Errorf("not connected to chat")
	}

	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return fmt.Errorf("already in a call (%s)", m.status)
	}
	callID := uuid.NewString()
	m.status = StatusOutgoing
	m.callID = callID
	m.peerID = peerID
	m.roomID = roomID
	m.hangupSent = false
	m.mu.Unlock()

	local, err := m.media.Acquire(true)
	if err != nil {
		m.abortStart(callID)
		return fmt.Errorf("acquiring media: %w", err)
	}
	if !local.HasVideo() {
		m.notifier.Info("Camera unavailable, continuing with audio only")
	}

	pc, err := m.newPeer()
	if err != nil {
		local.Stop()
		m.abortStart(callID)
		return fmt.Errorf("creating peer connection: %w", err)
	}
	sess := NewSession(pc, callID, peerID)
	m.wireSession(sess, callID, peerID)

	if err := sess.AttachLocal(local.Tracks()); err != nil {
		local.Stop()
		sess.Close()
		m.abortStart(callID)
		return err
	}
	offer, err := sess.CreateOffer()
	if err != nil {
		local.Stop()
		sess.Close()
		m.abortStart(callID)
		return err
	}

	m.mu.Lock()
	if m.callID != callID || m.status != StatusOutgoing {
		// Torn down while we were acquiring media or negotiating.
		m.mu.Unlock()
		local.Stop()
		sess.Close()
		return fmt.Errorf("call cancelled")
	}
	m.session = sess
	m.local = local
	m.muted = false
	m.cameraOff = !local.HasVideo()
	m.mu.Unlock()

	m.sig.Invite(callID, peerID, roomID, offer, MediaFlags{Audio: true, Video: local.HasVideo()})
	util.Stats.AddPlaced()
	m.notifier.Info(fmt.Sprintf("Calling user %d...", peerID))
	return nil
}

// abortStart resets state after a failed StartCall, but only if the call
// in flight is still ours.
func (m *Machine) abortStart(callID string) {
	m.mu.Lock()
	if m.callID == callID && m.status == StatusOutgoing && m.session == nil {
		m.resetLocked()
	}
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Answering
// ---------------------------------------------------------------------------

// AcceptCall answers the ringing call. Re-entrant calls while an accept
// is already in flight are no-ops.
func (m *Machine) AcceptCall() error {
	m.mu.Lock()
	if m.status != StatusIncoming || m.incoming == nil {
		m.mu.Unlock()
		return fmt.Errorf("no incoming call")
	}
	if m.accepting {
		m.mu.Unlock()
		return nil
	}
	m.accepting = true
	inc := *m.incoming
	m.mu.Unlock()

	wantVideo := inc.Media.Video
	local, err := m.media.Acquire(wantVideo)
	if err != nil {
		m.clearAccepting()
		return fmt.Errorf("acquiring media: %w", err)
	}
	if wantVideo && !local.HasVideo() {
		m.notifier.Info("Camera unavailable, continuing with audio only")
	}

	pc, err := m.newPeer()
	if err != nil {
		local.Stop()
		m.clearAccepting()
		return fmt.Errorf("creating peer connection: %w", err)
	}
	sess := NewSession(pc, inc.CallID, inc.FromUserID)
	m.wireSession(sess, inc.CallID, inc.FromUserID)

	// Hand the ringing-phase candidates to the session before it becomes
	// visible so late arrivals queue behind them in order.
	m.mu.Lock()
	if m.status != StatusIncoming || m.callID != inc.CallID {
		m.mu.Unlock()
		local.Stop()
		sess.Close()
		return fmt.Errorf("call ended before it could be accepted")
	}
	sess.Preload(m.pendingCand)
	m.pendingCand = nil
	m.session = sess
	m.local = local
	m.mu.Unlock()

	answer, err := m.answerOffer(sess, local, inc.Offer)
	if err != nil {
		m.Teardown(false)
		return err
	}

	m.mu.Lock()
	if m.callID != inc.CallID {
		m.mu.Unlock()
		return fmt.Errorf("call ended before it could be accepted")
	}
	m.status = StatusActive
	m.incoming = nil
	m.accepting = false
	m.muted = false
	m.cameraOff = !local.HasVideo()
	m.mu.Unlock()

	m.sig.Accept(inc.CallID, inc.FromUserID, answer, MediaFlags{Audio: true, Video: local.HasVideo()})
	util.Stats.AddAnswered()
	m.notifier.Success("Call accepted")
	return nil
}

func (m *Machine) answerOffer(sess *Session, local LocalStream, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := sess.AttachLocal(local.Tracks()); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := sess.ApplyRemoteOffer(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := sess.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (m *Machine) clearAccepting() {
	m.mu.Lock()
	m.accepting = false
	m.mu.Unlock()
}

// RejectCall declines the ringing call.
func (m *Machine) RejectCall() error {
	m.mu.Lock()
	if m.status != StatusIncoming || m.incoming == nil {
		m.mu.Unlock()
		return fmt.Errorf("no incoming call")
	}
	callID, from := m.incoming.CallID, m.incoming.FromUserID
	m.mu.Unlock()

	m.sig.Reject(callID, from)
	m.Teardown(false)
	return nil
}

// Hangup ends the current call, notifying the peer.
func (m *Machine) Hangup() {
	m.Teardown(true)
}

// ---------------------------------------------------------------------------
// Inbound signaling
// ---------------------------------------------------------------------------

// HandleEvent routes a call.* envelope. Non-call envelopes are ignored,
// making it safe to subscribe directly to the event channel.
func (m *Machine) HandleEvent(env channel.Envelope) {
	msg, ok := DecodeEvent(env)
	if !ok {
		return
	}

	switch msg.Event {
	case EventInvite:
		m.handleInvite(msg)
	case EventAccept:
		m.handleAccept(msg)
	case EventICE:
		m.handleICE(msg)
	case EventReject:
		if m.matchesCall(msg.CallID) {
			m.notifier.Info("Call rejected")
			m.Teardown(false)
		}
	case EventHangup:
		if m.matchesCall(msg.CallID) {
			m.notifier.Info("Call ended by peer")
			m.Teardown(false)
		}
	case EventBusy:
		if m.matchesCall(msg.CallID) {
			m.notifier.Info("User is busy")
			m.Teardown(false)
		}
	case EventError:
		m.notifier.Error(fmt.Sprintf("Call error: %s", msg.ErrorText))
		m.Teardown(false)
	}
}

func (m *Machine) handleInvite(msg Message) {
	m.mu.Lock()
	if m.status != StatusIdle {
		busy := m.callID != msg.CallID
		m.mu.Unlock()
		if busy {
			m.sig.Busy(msg.CallID, msg.FromUserID)
		}
		return
	}
	m.status = StatusIncoming
	m.callID = msg.CallID
	m.peerID = msg.FromUserID
	m.roomID = msg.RoomID
	m.hangupSent = false
	inc := &IncomingCall{
		CallID:     msg.CallID,
		FromUserID: msg.FromUserID,
		RoomID:     msg.RoomID,
		Offer:      *msg.Offer,
	}
	if msg.Media != nil {
		inc.Media = *msg.Media
	} else {
		inc.Media = MediaFlags{Audio: true}
	}
	m.incoming = inc
	m.mu.Unlock()

	kind := "voice"
	if inc.Media.Video {
		kind = "video"
	}
	m.notifier.Info(fmt.Sprintf("Incoming %s call from user %d (accept/reject)", kind, msg.FromUserID))
}

func (m *Machine) handleAccept(msg Message) {
	m.mu.Lock()
	if m.status != StatusOutgoing || m.callID != msg.CallID || m.session == nil {
		m.mu.Unlock()
		util.LogDebug("dropping accept for %s (status %s)", msg.CallID, m.status)
		return
	}
	sess := m.session
	m.mu.Unlock()

	if msg.Answer == nil {
		return
	}
	if err := sess.ApplyRemoteAnswer(*msg.Answer); err != nil {
		util.LogError("applying remote answer: %v", err)
		m.sig.Error("Failed to apply answer")
		m.notifier.Error("Could not establish the call")
		m.Teardown(false)
		return
	}

	m.mu.Lock()
	if m.callID == msg.CallID {
		m.status = StatusActive
	}
	m.mu.Unlock()
	m.notifier.Success("Call accepted by peer")
}

func (m *Machine) handleICE(msg Message) {
	m.mu.Lock()
	if m.callID != msg.CallID || msg.Candidate == nil {
		m.mu.Unlock()
		return
	}
	sess := m.session
	if sess == nil {
		// Ringing phase: hold candidates until the session exists.
		m.pendingCand = append(m.pendingCand, *msg.Candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	sess.AddRemoteCandidate(*msg.Candidate)
}

func (m *Machine) matchesCall(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID != "" && m.callID == callID
}

// ---------------------------------------------------------------------------
// Session wiring
// ---------------------------------------------------------------------------

func (m *Machine) wireSession(sess *Session, callID string, peerID int) {
	sess.OnCandidate(func(c webrtc.ICECandidateInit) {
		if m.matchesCall(callID) {
			m.sig.ICE(callID, peerID, c)
		}
	})
	sess.OnConnected(func() {
		if m.matchesCall(callID) {
			m.notifier.Success("Call connected")
		}
	})
	sess.OnDisconnected(func() {
		if m.matchesCall(callID) {
			m.notifier.Info("Call connection lost")
			m.Teardown(false)
		}
	})
	sess.OnRemoteTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.mu.Lock()
		if m.callID == callID {
			m.remoteTracks = append(m.remoteTracks, track)
		}
		m.mu.Unlock()
		util.LogInfo("remote %s track received", track.Kind())
	})
}

// ---------------------------------------------------------------------------
// Teardown and controls
// ---------------------------------------------------------------------------

// Teardown ends the current call. With sendHangup set the peer is
// notified at most once per call. Idempotent; safe with no call active.
func (m *Machine) Teardown(sendHangup bool) {
	m.mu.Lock()
	if m.status == StatusIdle && m.session == nil && m.local == nil {
		m.mu.Unlock()
		return
	}
	callID, peerID := m.callID, m.peerID
	notifyPeer := sendHangup && !m.hangupSent && callID != ""
	if notifyPeer {
		m.hangupSent = true
	}
	sess, local := m.session, m.local
	m.resetLocked()
	m.mu.Unlock()

	if notifyPeer {
		m.sig.Hangup(callID, peerID)
	}
	if sess != nil {
		sess.Close()
	}
	if local != nil {
		local.Stop()
	}
}

// resetLocked returns the machine to idle. Caller holds m.mu.
func (m *Machine) resetLocked() {
	m.status = StatusIdle
	m.callID = ""
	m.peerID = 0
	m.roomID = nil
	m.incoming = nil
	m.session = nil
	m.local = nil
	m.accepting = false
	m.muted = false
	m.cameraOff = false
	m.pendingCand = nil
	m.remoteTracks = nil
}

// HandleAuthLost tears the call down when the session's credentials are
// revoked; no outbound hangup since the channel is gone anyway.
func (m *Machine) HandleAuthLost() {
	m.mu.Lock()
	active := m.status != StatusIdle
	m.mu.Unlock()
	if active {
		m.notifier.Info("Signed out, ending call")
		m.Teardown(false)
	}
}

// ToggleMute flips the microphone. No-op without a local stream.
func (m *Machine) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return false
	}
	m.muted = !m.muted
	m.local.SetAudioEnabled(!m.muted)
	return m.muted
}

// ToggleCamera flips the camera. No-op without a local video track.
func (m *Machine) ToggleCamera() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || !m.local.HasVideo() {
		return m.cameraOff
	}
	m.cameraOff = !m.cameraOff
	m.local.SetVideoEnabled(!m.cameraOff)
	return m.cameraOff
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) CallID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callID
}

func (m *Machine) PeerID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerID
}

// Incoming returns the ringing invite, or nil.
func (m *Machine) Incoming() *IncomingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incoming == nil {
		return nil
	}
	inc := *m.incoming
	return &inc
}

func (m *Machine) IsMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Machine) IsCameraOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraOff
}

// RemoteTracks returns the inbound media tracks received so far.
func (m *Machine) RemoteTracks() []*webrtc.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(m.remoteTracks))
	copy(out, m.remoteTracks)
	return out
}
