package relay

// EventKind names an application-facing notification.
type EventKind string

const (
	EventChannelMessage   EventKind = "channel_message"
	EventPrivateMessage   EventKind = "private_message"
	EventChannelJoin      EventKind = "channel_join"
	EventChannelLeave     EventKind = "channel_leave"
	EventPeerDiscovered   EventKind = "peer_discovered"
	EventPeerDisconnected EventKind = "peer_disconnected"
)

// Event is emitted to the hosting application for every accepted message and
// for peer lifecycle changes. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind `json:"kind"`
	Channel   string    `json:"channel,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	User      string    `json:"user,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Peer      *Peer     `json:"peer,omitempty"`
	PeerID    string    `json:"peerId,omitempty"`
}

// Sink receives relay events. Publish is called from the engine loop and
// must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(evt Event) { f(evt) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
