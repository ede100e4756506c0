package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/message"
)

type delivery struct {
	conn string
	msg  message.Message
}

// recordingTransport simulates a set of open connections and records every
// frame each of them would have received.
type recordingTransport struct {
	mu         sync.Mutex
	conns      []string
	broadcasts []message.Message
	delivered  []delivery
}

func newRecordingTransport(conns ...string) *recordingTransport {
	return &recordingTransport{conns: conns}
}

func (r *recordingTransport) Broadcast(msg message.Message, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, msg)
	for _, c := range r.conns {
		if c == except {
			continue
		}
		r.delivered = append(r.delivered, delivery{conn: c, msg: msg})
	}
}

func (r *recordingTransport) Send(connID string, msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, delivery{conn: connID, msg: msg})
	return nil
}

func (r *recordingTransport) Broadcasts() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]message.Message, len(r.broadcasts))
	copy(out, r.broadcasts)
	return out
}

func (r *recordingTransport) To(conn string) []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message.Message
	for _, d := range r.delivered {
		if d.conn == conn {
			out = append(out, d.msg)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) Kinds() []EventKind {
	var out []EventKind
	for _, evt := range s.Events() {
		out = append(out, evt.Kind)
	}
	return out
}

var testNow = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, conns ...string) (*Engine, *recordingTransport, *recordingSink) {
	t.Helper()
	transport := newRecordingTransport(conns...)
	sink := &recordingSink{}
	e, err := NewEngine(Options{
		Transport:   transport,
		Sink:        sink,
		Logger:      zerolog.Nop(),
		NodeName:    "kitchen-relay",
		PublicKey:   "pk-kitchen",
		Channels:    DefaultChannels(),
		HistorySize: 16,
		Now:         func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, transport, sink
}

// startEngine runs the engine loop until the test finishes.
func startEngine(t *testing.T, e *Engine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return cancel
}

func chatMsg(id, channel, content string, ttl int) message.Message {
	return message.Message{
		ID:        id,
		Type:      message.TypeChannel,
		Sender:    "line-cook",
		Channel:   channel,
		Content:   content,
		Timestamp: testNow.UnixMilli(),
		TTL:       ttl,
	}
}

func frameOf(msg message.Message) message.Frame {
	return message.NewFrame(msg)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
