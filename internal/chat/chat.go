// Package chat tracks conversation state fed by the event channel:
// presence, typing indicators and message traffic, with automatic
// delivered receipts for direct messages.
package chat

import (
	"encoding/json"
	"sync"

	"github.com/fastsock/fastsock/internal/channel"
	"github.com/fastsock/fastsock/internal/util"
)

const (
	EventMessageReceive   = "message.receive"
	EventMessageSend      = "message.send"
	EventMessageDelivered = "message.delivered"
	EventMessageRead      = "message.read"
	EventMessageReaction  = "message.reaction"
	EventTypingStart      = "typing.start"
	EventTypingStop       = "typing.stop"
	EventPresenceUpdate   = "presence.update"
)

// Channel is the slice of the event channel the tracker needs.
type Channel interface {
	Send(event string, data interface{})
	Subscribe(fn func(channel.Envelope)) func()
}

// Message is an inbound chat message. RoomID nil means a direct message.
type Message struct {
	MessageID int    `json:"message_id"`
	SenderID  int    `json:"sender_id"`
	RoomID    *int   `json:"room_id,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type sendPayload struct {
	Content    string `json:"content"`
	ReceiverID int    `json:"receiver_id,omitempty"`
	RoomID     *int   `json:"room_id,omitempty"`
}

type receiptPayload struct {
	MessageID int `json:"message_id"`
	SenderID  int `json:"sender_id"`
}

type reactionPayload struct {
	MessageID int    `json:"message_id"`
	Reaction  string `json:"reaction"`
}

type typingPayload struct {
	SenderID   int  `json:"sender_id,omitempty"`
	ReceiverID int  `json:"receiver_id,omitempty"`
	RoomID     *int `json:"room_id,omitempty"`
}

type presencePayload struct {
	UserID int    `json:"user_id"`
	Status string `json:"status"`
}

// Tracker subscribes to the event channel and maintains presence and
// typing state. Construct with NewTracker, release with Close.
type Tracker struct {
	ch    Channel
	unsub func()

	mu     sync.Mutex
	online map[int]bool
	typing map[int]bool

	onMessage func(Message)
}

func NewTracker(ch Channel) *Tracker {
	t := &Tracker{
		ch:     ch,
		online: make(map[int]bool),
		typing: make(map[int]bool),
	}
	t.unsub = ch.Subscribe(t.handle)
	return t
}

// OnMessage registers the inbound-message callback. Call before traffic
// starts; the tracker does not buffer messages.
func (t *Tracker) OnMessage(fn func(Message)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *Tracker) handle(env channel.Envelope) {
	switch env.Event {
	case EventMessageReceive:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			util.LogDebug("bad message payload: %v", err)
			return
		}

		// Direct messages get an automatic delivered receipt; room
		// messages are acknowledged by read state instead.
		if msg.RoomID == nil && msg.MessageID != 0 {
			t.ch.Send(EventMessageDelivered, receiptPayload{
				MessageID: msg.MessageID,
				SenderID:  msg.SenderID,
			})
		}

		t.mu.Lock()
		delete(t.typing, msg.SenderID)
		cb := t.onMessage
		t.mu.Unlock()
		if cb != nil {
			cb(msg)
		}

	case EventTypingStart, EventTypingStop:
		var p typingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.SenderID == 0 {
			return
		}
		t.mu.Lock()
		if env.Event == EventTypingStart {
			t.typing[p.SenderID] = true
		} else {
			delete(t.typing, p.SenderID)
		}
		t.mu.Unlock()

	case EventPresenceUpdate:
		var p presencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.UserID == 0 {
			return
		}
		t.mu.Lock()
		if p.Status == "online" {
			t.online[p.UserID] = true
		} else {
			delete(t.online, p.UserID)
			delete(t.typing, p.UserID)
		}
		t.mu.Unlock()
	}
}

// SendMessage sends a direct message when roomID is nil, otherwise a room
// message.
func (t *Tracker) SendMessage(content string, receiverID int, roomID *int) {
	p := sendPayload{Content: content, RoomID: roomID}
	if roomID == nil {
		p.ReceiverID = receiverID
	}
	t.ch.Send(EventMessageSend, p)
}

// SendTyping emits a typing start or stop indicator.
func (t *Tracker) SendTyping(receiverID int, roomID *int, active bool) {
	event := EventTypingStop
	if active {
		event = EventTypingStart
	}
	p := typingPayload{RoomID: roomID}
	if roomID == nil {
		p.ReceiverID = receiverID
	}
	t.ch.Send(event, p)
}

// MarkRead reports a message as read to its sender.
func (t *Tracker) MarkRead(messageID, senderID int) {
	t.ch.Send(EventMessageRead, receiptPayload{MessageID: messageID, SenderID: senderID})
}

// React attaches an emoji reaction to a message.
func (t *Tracker) React(messageID int, reaction string) {
	t.ch.Send(EventMessageReaction, reactionPayload{MessageID: messageID, Reaction: reaction})
}

// Online returns the ids currently reported online.
func (t *Tracker) Online() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether a user has an online presence.
func (t *Tracker) IsOnline(userID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// TypingUsers returns the ids currently typing.
func (t *Tracker) TypingUsers() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	return out
}

// Close detaches the tracker from the event channel.
func (t *Tracker) Close() {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}
