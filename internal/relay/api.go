package relay

import (
	"context"
	"fmt"
	"strings"

	"meshrelay/internal/message"
)

// SendChannelMessage broadcasts a channel message originated by sender.
func (e *Engine) SendChannelMessage(ctx context.Context, channel, sender, content string) (message.Message, error) {
	msg := e.newMessage(message.TypeChannel, sender, content)
	msg.Channel = strings.TrimSpace(channel)
	return e.originate(ctx, msg)
}

// SendPrivateMessage broadcasts a private message; the network floods it like
// any other message and the recipient's relay surfaces it.
func (e *Engine) SendPrivateMessage(ctx context.Context, sender, recipient, content string) (message.Message, error) {
	msg := e.newMessage(message.TypePrivate, sender, content)
	msg.Recipient = strings.TrimSpace(recipient)
	return e.originate(ctx, msg)
}

func (e *Engine) JoinChannel(ctx context.Context, user, channel string) (message.Message, error) {
	msg := e.newMessage(message.TypeChannelJoin, user, "")
	msg.Channel = strings.TrimSpace(channel)
	return e.originate(ctx, msg)
}

func (e *Engine) LeaveChannel(ctx context.Context, user, channel string) (message.Message, error) {
	msg := e.newMessage(message.TypeChannelLeave, user, "")
	msg.Channel = strings.TrimSpace(channel)
	return e.originate(ctx, msg)
}

// AnnounceDiscovery broadcasts a fresh peer_discovery to every connection.
func (e *Engine) AnnounceDiscovery(ctx context.Context) (message.Message, error) {
	var msg message.Message
	err := e.do(ctx, func() {
		msg = e.discoveryMessage()
		e.cache.Add(msg)
		e.transport.Broadcast(msg, "")
		e.metrics.Originated.WithLabelValues(msg.Type).Inc()
	})
	return msg, err
}

func (e *Engine) ListChannels(ctx context.Context) ([]Channel, error) {
	var out []Channel
	err := e.do(ctx, func() { out = e.channels.Snapshot() })
	return out, err
}

func (e *Engine) ListPeers(ctx context.Context) ([]Peer, error) {
	var out []Peer
	err := e.do(ctx, func() { out = e.peers.Snapshot() })
	return out, err
}

// Channel returns a provisioned channel or ErrUnknownChannel.
func (e *Engine) Channel(ctx context.Context, name string) (Channel, error) {
	var (
		out Channel
		ok  bool
	)
	if err := e.do(ctx, func() { out, ok = e.channels.Get(name) }); err != nil {
		return Channel{}, err
	}
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return out, nil
}

// ChannelMessages returns the retained history of channel. Channels without
// retention return an empty list.
func (e *Engine) ChannelMessages(ctx context.Context, channel string) ([]message.Message, error) {
	var (
		out  []message.Message
		lerr error
	)
	if err := e.do(ctx, func() { out, lerr = e.channels.Messages(channel) }); err != nil {
		return nil, err
	}
	return out, lerr
}

// ProvisionChannel adds a channel at runtime.
func (e *Engine) ProvisionChannel(ctx context.Context, spec ChannelSpec) (Channel, error) {
	var (
		out  Channel
		perr error
	)
	if err := e.do(ctx, func() { out, perr = e.channels.Provision(spec, e.now()) }); err != nil {
		return Channel{}, err
	}
	return out, perr
}

// VerifyChannelPassword checks a join password for a protected channel.
func (e *Engine) VerifyChannelPassword(ctx context.Context, channel, password string) error {
	var verr error
	if err := e.do(ctx, func() { verr = e.channels.VerifyPassword(channel, password) }); err != nil {
		return err
	}
	return verr
}

func (e *Engine) newMessage(kind, sender, content string) message.Message {
	msg := message.New(kind, strings.TrimSpace(sender), content)
	msg.Timestamp = e.now().UnixMilli()
	msg.TTL = e.ttl
	return msg
}

// originate validates a locally built message, marks it as seen so echoes
// from neighbours are dropped, and floods it to every connection.
func (e *Engine) originate(ctx context.Context, msg message.Message) (message.Message, error) {
	if _, err := message.NewFrame(msg).Validate(); err != nil {
		return message.Message{}, fmt.Errorf("originate %s: %w", msg.Type, err)
	}
	err := e.do(ctx, func() {
		e.cache.Add(msg)
		if msg.Type == message.TypeChannel {
			e.channels.RecordMessage(msg, e.now())
		}
		e.transport.Broadcast(msg, "")
		e.metrics.Originated.WithLabelValues(msg.Type).Inc()
	})
	if err != nil {
		return message.Message{}, err
	}
	return msg, nil
}
