package message

import (
	"time"

	"github.com/google/uuid"
)

// Message types understood by the relay.
const (
	TypeChannel       = "message"
	TypePrivate       = "private_message"
	TypeChannelJoin   = "channel_join"
	TypeChannelLeave  = "channel_leave"
	TypePeerDiscovery = "peer_discovery"
)

// DefaultTTL is the hop budget given to locally originated messages.
const DefaultTTL = 7

// Message describes the payload exchanged between relays.
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	TTL       int    `json:"ttl"`
	Encrypted bool   `json:"encrypted,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Time converts the epoch-millis timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Hop returns the copy forwarded to neighbours, with one hop spent.
func (m Message) Hop() Message {
	m.TTL--
	return m
}

// NewID produces a fresh identifier for outbound messages.
func NewID() string {
	return uuid.NewString()
}

// New builds a locally originated message with a fresh id, the default hop
// budget and the current time.
func New(kind, sender, content string) Message {
	return Message{
		ID:        NewID(),
		Type:      kind,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		TTL:       DefaultTTL,
	}
}

// KnownType reports whether t is one of the five protocol message types.
func KnownType(t string) bool {
	switch t {
	case TypeChannel, TypePrivate, TypeChannelJoin, TypeChannelLeave, TypePeerDiscovery:
		return true
	}
	return false
}
