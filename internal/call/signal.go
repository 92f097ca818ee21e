// Package call implements one-to-one audio/video calling on top of the
// event channel: the typed signaling messages, the peer session wrapping
// a single peer connection, and the state machine orchestrating both.
package call

import (
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/fastsock/fastsock/internal/channel"
	"github.com/fastsock/fastsock/internal/util"
)

// Signaling event names. Every payload is scoped by call_id plus
// to_user_id (outbound) / from_user_id (inbound).
const (
	EventInvite = "call.invite"
	EventAccept = "call.accept"
	EventReject = "call.reject"
	EventHangup = "call.hangup"
	EventBusy   = "call.busy"
	EventICE    = "call.ice"
	EventError  = "call.error"

	eventPrefix = "call."
)

// MediaFlags describes which track kinds a party is sending.
type MediaFlags struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// invitePayload is the call.invite wire shape.
type invitePayload struct {
	CallID     string                    `json:"call_id"`
	ToUserID   int                       `json:"to_user_id,omitempty"`
	FromUserID int                       `json:"from_user_id,omitempty"`
	RoomID     *int                      `json:"room_id,omitempty"`
	Offer      webrtc.SessionDescription `json:"sdp_offer"`
	Media      MediaFlags                `json:"media"`
}

// acceptPayload is the call.accept wire shape.
type acceptPayload struct {
	CallID     string                    `json:"call_id"`
	ToUserID   int                       `json:"to_user_id,omitempty"`
	FromUserID int                       `json:"from_user_id,omitempty"`
	Answer     webrtc.SessionDescription `json:"sdp_answer"`
	Media      *MediaFlags               `json:"media,omitempty"`
}

// controlPayload covers call.reject, call.hangup and call.busy.
type controlPayload struct {
	CallID     string `json:"call_id"`
	ToUserID   int    `json:"to_user_id,omitempty"`
	FromUserID int    `json:"from_user_id,omitempty"`
}

// icePayload is the call.ice wire shape. The candidate keeps pion's
// camelCase JSON tags, matching the browser's RTCIceCandidateInit.
type icePayload struct {
	CallID     string                  `json:"call_id"`
	ToUserID   int                     `json:"to_user_id,omitempty"`
	FromUserID int                     `json:"from_user_id,omitempty"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Sender is the outbound half of the event channel.
type Sender interface {
	Send(event string, data interface{})
}

// Signaler sends typed call-control messages over the event channel.
// Sends are fire-and-forget, inheriting the channel's drop-when-closed
// semantics.
type Signaler struct {
	ch Sender
}

func NewSignaler(ch Sender) *Signaler {
	return &Signaler{ch: ch}
}

func (s *Signaler) Invite(callID string, toUserID int, roomID *int, offer webrtc.SessionDescription, media MediaFlags) {
	s.ch.Send(EventInvite, invitePayload{
		CallID:   callID,
		ToUserID: toUserID,
		RoomID:   roomID,
		Offer:    offer,
		Media:    media,
	})
}

func (s *Signaler) Accept(callID string, toUserID int, answer webrtc.SessionDescription, media MediaFlags) {
	s.ch.Send(EventAccept, acceptPayload{
		CallID:   callID,
		ToUserID: toUserID,
		Answer:   answer,
		Media:    &media,
	})
}

func (s *Signaler) Reject(callID string, toUserID int) {
	s.ch.Send(EventReject, controlPayload{CallID: callID, ToUserID: toUserID})
}

func (s *Signaler) Hangup(callID string, toUserID int) {
	s.ch.Send(EventHangup, controlPayload{CallID: callID, ToUserID: toUserID})
}

func (s *Signaler) Busy(callID string, toUserID int) {
	s.ch.Send(EventBusy, controlPayload{CallID: callID, ToUserID: toUserID})
}

func (s *Signaler) ICE(callID string, toUserID int, candidate webrtc.ICECandidateInit) {
	s.ch.Send(EventICE, icePayload{CallID: callID, ToUserID: toUserID, Candidate: candidate})
}

func (s *Signaler) Error(message string) {
	s.ch.Send(EventError, errorPayload{Message: message})
}

// Message is a decoded inbound signaling message.
type Message struct {
	Event      string
	CallID     string
	FromUserID int
	RoomID     *int
	Offer      *webrtc.SessionDescription
	Answer     *webrtc.SessionDescription
	Media      *MediaFlags
	Candidate  *webrtc.ICECandidateInit
	ErrorText  string
}

// DecodeEvent parses a call.* envelope. It returns false for envelopes
// outside the call namespace or with undecodable payloads; such messages
// are dropped without surfacing anything.
func DecodeEvent(env channel.Envelope) (Message, bool) {
	if !strings.HasPrefix(env.Event, eventPrefix) {
		return Message{}, false
	}

	msg := Message{Event: env.Event}
	switch env.Event {
	case EventInvite:
		var p invitePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.CallID == "" || p.FromUserID == 0 {
			return Message{}, false
		}
		offer := p.Offer
		msg.CallID = p.CallID
		msg.FromUserID = p.FromUserID
		msg.RoomID = p.RoomID
		msg.Offer = &offer
		media := p.Media
		msg.Media = &media

	case EventAccept:
		var p acceptPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.CallID == "" {
			return Message{}, false
		}
		answer := p.Answer
		msg.CallID = p.CallID
		msg.FromUserID = p.FromUserID
		msg.Answer = &answer
		msg.Media = p.Media

	case EventICE:
		var p icePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.CallID == "" {
			return Message{}, false
		}
		cand := p.Candidate
		msg.CallID = p.CallID
		msg.FromUserID = p.FromUserID
		msg.Candidate = &cand

	case EventReject, EventHangup, EventBusy:
		var p controlPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.CallID == "" {
			return Message{}, false
		}
		msg.CallID = p.CallID
		msg.FromUserID = p.FromUserID

	case EventError:
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Message{}, false
		}
		msg.ErrorText = p.Message

	default:
		util.LogDebug("unknown call event %q", env.Event)
		return Message{}, false
	}

	return msg, true
}
