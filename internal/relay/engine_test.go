package relay

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/message"
)

func TestEndToEndKitchenScenario(t *testing.T) {
	e, transport, sink := newTestEngine(t, "A", "B", "C")
	for _, c := range []string{"A", "B", "C"} {
		e.handleConnect(c, "websocket")
	}

	m1 := chatMsg("m1", "#kitchen", "order up", 7)
	e.process("A", frameOf(m1))

	cached, ok := e.cache.Get("m1")
	require.True(t, ok, "m1 should be cached")
	assert.Equal(t, "order up", cached.Content)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventChannelMessage, events[0].Kind)
	assert.Equal(t, "#kitchen", events[0].Channel)
	assert.Equal(t, "line-cook", events[0].Sender)
	assert.Equal(t, "order up", events[0].Content)

	relayed := func(conn string) []message.Message {
		var out []message.Message
		for _, msg := range transport.To(conn) {
			if msg.ID == "m1" {
				out = append(out, msg)
			}
		}
		return out
	}
	assert.Empty(t, relayed("A"), "must not echo back to the sender")
	for _, c := range []string{"B", "C"} {
		got := relayed(c)
		require.Len(t, got, 1, "conn %s", c)
		assert.Equal(t, 6, got[0].TTL)
	}

	e.process("B", frameOf(m1))
	assert.Len(t, sink.Events(), 1, "echo must not emit a second event")
	assert.Len(t, relayed("A"), 0)
	assert.Len(t, relayed("C"), 1, "echo must not be relayed again")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Dropped.WithLabelValues(dropDuplicate)))
}

func TestTTLOneDeliveredButNotRelayed(t *testing.T) {
	e, transport, sink := newTestEngine(t, "A", "B")
	e.process("A", frameOf(chatMsg("m-ttl1", "#orders", "table 3", 1)))
	assert.Equal(t, []EventKind{EventChannelMessage}, sink.Kinds())
	assert.Empty(t, transport.Broadcasts())
}

func TestTTLRelayCountIsBounded(t *testing.T) {
	// A chain of relays each hands the relayed copy to the next hop.
	const hops = 5
	msg := chatMsg("m-chain", "#orders", "x", 3)
	relays := 0
	for i := 0; i < hops; i++ {
		e, transport, _ := newTestEngine(t, "next")
		e.process("prev", frameOf(msg))
		out := transport.Broadcasts()
		if len(out) == 0 {
			break
		}
		relays++
		msg = out[0]
	}
	assert.Equal(t, 2, relays, "ttl 3 yields two relay copies (ttl 2 and 1)")
}

func TestExpiredMessageDroppedBeforeInterpretation(t *testing.T) {
	e, transport, sink := newTestEngine(t, "A", "B")
	join := message.Message{ID: "j0", Type: message.TypeChannelJoin, Sender: "host", Channel: "#kitchen", Timestamp: 1, TTL: 0}
	e.process("A", frameOf(join))

	ch, _ := e.channels.Get("#kitchen")
	assert.Equal(t, 0, ch.MemberCount)
	assert.Empty(t, sink.Events())
	assert.Empty(t, transport.Broadcasts())
	assert.False(t, e.cache.Seen("j0"), "expired messages are not cached")

	join.TTL = 2
	e.process("A", frameOf(join))
	ch, _ = e.channels.Get("#kitchen")
	assert.Equal(t, 1, ch.MemberCount)
}

func TestInvalidMessageLeavesStateUntouched(t *testing.T) {
	e, transport, sink := newTestEngine(t, "A", "B")
	before := e.channels.Snapshot()
	bad := chatMsg("m-bad", "#kitchen", "no sender", 7)
	bad.Sender = ""
	e.process("A", frameOf(bad))

	assert.Equal(t, 0, e.cache.Len())
	assert.Equal(t, before, e.channels.Snapshot())
	assert.Equal(t, 0, e.peers.Len())
	assert.Empty(t, sink.Events())
	assert.Empty(t, transport.Broadcasts())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Dropped.WithLabelValues(dropInvalid)))
}

func TestChannelLeaveNeverGoesNegative(t *testing.T) {
	e, _, sink := newTestEngine(t, "A")
	for i, id := range []string{"l1", "l2", "l3"} {
		leave := message.Message{ID: id, Type: message.TypeChannelLeave, Sender: "runner", Channel: "#staff", Timestamp: int64(i), TTL: 3}
		e.process("A", frameOf(leave))
	}
	ch, ok := e.channels.Get("#staff")
	require.True(t, ok)
	assert.Equal(t, 0, ch.MemberCount)
	assert.Len(t, sink.Events(), 3, "leave events are emitted regardless")
}

func TestJoinThenLeaveCounts(t *testing.T) {
	e, _, _ := newTestEngine(t, "A")
	e.process("A", frameOf(message.Message{ID: "j1", Type: message.TypeChannelJoin, Sender: "a", Channel: "#orders", Timestamp: 1, TTL: 3}))
	e.process("A", frameOf(message.Message{ID: "j2", Type: message.TypeChannelJoin, Sender: "b", Channel: "#orders", Timestamp: 2, TTL: 3}))
	e.process("A", frameOf(message.Message{ID: "l1", Type: message.TypeChannelLeave, Sender: "a", Channel: "#orders", Timestamp: 3, TTL: 3}))
	ch, _ := e.channels.Get("#orders")
	assert.Equal(t, 1, ch.MemberCount)
	assert.Equal(t, testNow, ch.LastActivity)
}

func TestUnknownChannelIsCachedAndRelayedWithoutEvent(t *testing.T) {
	e, transport, sink := newTestEngine(t, "A", "B")
	e.process("A", frameOf(chatMsg("m-x", "#bar", "two mojitos", 4)))
	assert.True(t, e.cache.Seen("m-x"))
	assert.Empty(t, sink.Events())
	require.Len(t, transport.Broadcasts(), 1)
	_, ok := e.channels.Get("#bar")
	assert.False(t, ok, "unknown channels are not created")

	e.process("A", frameOf(message.Message{ID: "j-x", Type: message.TypeChannelJoin, Sender: "a", Channel: "#bar", Timestamp: 1, TTL: 3}))
	assert.Equal(t, []EventKind{EventChannelJoin}, sink.Kinds(), "join is emitted even for unknown channels")
}

func TestPrivateMessageEmitted(t *testing.T) {
	e, transport, sink := newTestEngine(t, "A", "B")
	dm := message.Message{ID: "dm1", Type: message.TypePrivate, Sender: "host", Recipient: "server-2", Content: "table 9 seated", Timestamp: 42, TTL: 7}
	e.process("A", frameOf(dm))
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventPrivateMessage, Sender: "host", Recipient: "server-2", Content: "table 9 seated", Timestamp: 42}, events[0])
	assert.Len(t, transport.To("B"), 1)
}

func TestRetainedChannelsKeepHistory(t *testing.T) {
	e, _, _ := newTestEngine(t, "A")
	e.process("A", frameOf(chatMsg("k1", "#kitchen", "fire table 2", 5)))
	e.process("A", frameOf(chatMsg("s1", "#staff", "break at 4", 5)))

	kitchen, err := e.channels.Messages("#kitchen")
	require.NoError(t, err)
	require.Len(t, kitchen, 1)
	assert.Equal(t, "k1", kitchen[0].ID)

	staff, err := e.channels.Messages("#staff")
	require.NoError(t, err)
	assert.Empty(t, staff)
}

func TestPeerDiscoveryUpsertAndDisconnect(t *testing.T) {
	e, _, sink := newTestEngine(t, "A")
	e.handleConnect("A", "websocket")
	disc := message.Message{ID: "d1", Type: message.TypePeerDiscovery, Sender: "bar-relay", Content: "pk-bar", Timestamp: 1, TTL: 7}
	e.process("A", frameOf(disc))

	peer, ok := e.peers.Get("A")
	require.True(t, ok)
	assert.Equal(t, "bar-relay", peer.Nickname)
	assert.Equal(t, "pk-bar", peer.PublicKey)
	assert.Equal(t, "websocket", peer.ConnectionType)
	assert.Equal(t, testNow, peer.LastSeen)

	disc.ID, disc.Sender = "d2", "bar-relay-2"
	e.process("A", frameOf(disc))
	peer, _ = e.peers.Get("A")
	assert.Equal(t, "bar-relay-2", peer.Nickname)
	assert.Equal(t, 1, e.peers.Len())

	e.handleDisconnect("A")
	_, ok = e.peers.Get("A")
	assert.False(t, ok)

	events := sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventPeerDiscovered, events[0].Kind)
	require.NotNil(t, events[0].Peer)
	assert.Equal(t, "A", events[0].Peer.ID)
	assert.Equal(t, Event{Kind: EventPeerDisconnected, PeerID: "A"}, events[2])
}

func TestNeighbourChannelMembershipTracked(t *testing.T) {
	e, _, _ := newTestEngine(t, "A")
	e.process("A", frameOf(message.Message{ID: "d", Type: message.TypePeerDiscovery, Sender: "expo", Content: "k", Timestamp: 1, TTL: 7}))
	e.process("A", frameOf(message.Message{ID: "j", Type: message.TypeChannelJoin, Sender: "expo", Channel: "#kitchen", Timestamp: 1, TTL: 7}))
	e.process("A", frameOf(message.Message{ID: "j2", Type: message.TypeChannelJoin, Sender: "someone-else", Channel: "#orders", Timestamp: 1, TTL: 7}))
	peer, _ := e.peers.Get("A")
	assert.Equal(t, []string{"#kitchen"}, peer.Channels)
}

func TestConnectSendsDiscoveryAndEchoIsDropped(t *testing.T) {
	e, _, sink := newTestEngine(t, "A")
	e.handleConnect("A", "websocket")
	got := lastSent(t, e, "A")
	assert.Equal(t, message.TypePeerDiscovery, got.Type)
	assert.Equal(t, message.DefaultTTL, got.TTL)
	assert.Equal(t, "kitchen-relay", got.Sender)
	assert.Equal(t, "pk-kitchen", got.Content)

	echo := got.Hop()
	e.process("A", frameOf(echo))
	assert.Empty(t, sink.Events(), "own discovery must not register ourselves as a peer")
}

func lastSent(t *testing.T, e *Engine, conn string) message.Message {
	t.Helper()
	rt, ok := e.transport.(*recordingTransport)
	require.True(t, ok)
	msgs := rt.To(conn)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}
