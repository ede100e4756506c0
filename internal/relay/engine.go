package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/message"
)

// ErrStopped is returned by calls made after the engine loop has exited.
var ErrStopped = errors.New("relay engine stopped")

const defaultInboxSize = 256

// Transport is the engine's view of the connection layer.
type Transport interface {
	// Broadcast sends msg to every open connection except the one named.
	Broadcast(msg message.Message, except string)
	// Send delivers msg to a single connection.
	Send(connID string, msg message.Message) error
}

// Options describes the dependencies needed to construct an Engine.
type Options struct {
	Transport   Transport
	Sink        Sink
	Logger      zerolog.Logger
	Metrics     *Metrics
	NodeName    string
	PublicKey   string
	// TTL is the hop limit of API sends; discovery always uses
	// message.DefaultTTL.
	TTL         int
	Channels    []ChannelSpec
	CacheSize   int
	CacheWindow time.Duration
	HistorySize int
	InboxSize   int
	Now         func() time.Time
}

type inboundKind int

const (
	inboundFrame inboundKind = iota
	inboundConnect
	inboundDisconnect
)

type inbound struct {
	kind     inboundKind
	connID   string
	connType string
	frame    message.Frame
}

// Engine is the relay state machine. A single goroutine running Run owns the
// registries and the cache; everything else submits work to it.
type Engine struct {
	transport Transport
	sink      Sink
	log       zerolog.Logger
	metrics   *Metrics
	node      string
	publicKey string
	ttl       int
	now       func() time.Time

	peers    *PeerRegistry
	channels *ChannelRegistry
	cache    *MsgCache
	conns    map[string]string

	inbox    chan inbound
	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewEngine builds an engine and provisions opts.Channels.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("relay: transport required")
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if opts.TTL <= 0 {
		opts.TTL = message.DefaultTTL
	}
	if opts.NodeName == "" {
		opts.NodeName = "relay"
	}
	e := &Engine{
		transport: opts.Transport,
		sink:      opts.Sink,
		log:       opts.Logger.With().Str("component", "relay").Logger(),
		metrics:   opts.Metrics,
		node:      opts.NodeName,
		publicKey: opts.PublicKey,
		ttl:       opts.TTL,
		now:       opts.Now,
		peers:     NewPeerRegistry(),
		channels:  NewChannelRegistry(opts.HistorySize),
		cache:     NewMsgCache(opts.CacheSize, opts.CacheWindow),
		conns:     make(map[string]string),
		inbox:     make(chan inbound, opts.InboxSize),
		ops:       make(chan func()),
		done:      make(chan struct{}),
	}
	for _, spec := range opts.Channels {
		if _, err := e.channels.Provision(spec, e.now()); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Run processes inbound traffic and API calls until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer e.stopOnce.Do(func() { close(e.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-e.inbox:
			e.dispatch(in)
		case op := <-e.ops:
			op()
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Connected registers a new connection; the engine answers with a discovery.
func (e *Engine) Connected(connID, connType string) {
	e.submit(inbound{kind: inboundConnect, connID: connID, connType: connType})
}

// Disconnected removes the peer bound to connID.
func (e *Engine) Disconnected(connID string) {
	e.submit(inbound{kind: inboundDisconnect, connID: connID})
}

// Deliver hands a decoded frame received on connID to the engine.
func (e *Engine) Deliver(connID string, f message.Frame) {
	e.submit(inbound{kind: inboundFrame, connID: connID, frame: f})
}

func (e *Engine) submit(in inbound) {
	select {
	case e.inbox <- in:
	case <-e.done:
	}
}

// do runs fn on the engine goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.ops <- op:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (e *Engine) dispatch(in inbound) {
	switch in.kind {
	case inboundConnect:
		e.handleConnect(in.connID, in.connType)
	case inboundDisconnect:
		e.handleDisconnect(in.connID)
	default:
		e.process(in.connID, in.frame)
	}
}

func (e *Engine) handleConnect(connID, connType string) {
	e.conns[connID] = connType
	msg := e.discoveryMessage()
	e.cache.Add(msg)
	if err := e.transport.Send(connID, msg); err != nil {
		e.log.Warn().Err(err).Str("conn", connID).Msg("initial discovery failed")
		return
	}
	e.metrics.Originated.WithLabelValues(msg.Type).Inc()
}

func (e *Engine) handleDisconnect(connID string) {
	delete(e.conns, connID)
	e.peers.Remove(connID)
	e.metrics.Peers.Set(float64(e.peers.Len()))
	e.emit(Event{Kind: EventPeerDisconnected, PeerID: connID})
}

// process runs the relay pipeline for one frame: validate, TTL, dedup,
// cache, dispatch by type, relay.
func (e *Engine) process(connID string, f message.Frame) {
	msg, err := f.Validate()
	if err != nil {
		e.drop(dropInvalid, connID, "", err)
		return
	}
	if msg.TTL <= 0 {
		e.drop(dropExpired, connID, msg.ID, nil)
		return
	}
	if e.cache.Seen(msg.ID) {
		e.drop(dropDuplicate, connID, msg.ID, nil)
		return
	}
	e.cache.Add(msg)
	e.metrics.CacheSize.Set(float64(e.cache.Len()))
	e.metrics.Accepted.WithLabelValues(msg.Type).Inc()

	now := e.now()
	switch msg.Type {
	case message.TypeChannel:
		if e.channels.RecordMessage(msg, now) {
			e.emit(Event{
				Kind:      EventChannelMessage,
				Channel:   msg.Channel,
				Sender:    msg.Sender,
				Content:   msg.Content,
				Timestamp: msg.Timestamp,
			})
		}
	case message.TypePrivate:
		e.emit(Event{
			Kind:      EventPrivateMessage,
			Sender:    msg.Sender,
			Recipient: msg.Recipient,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	case message.TypeChannelJoin:
		e.channels.Join(msg.Channel, now)
		e.peers.TrackJoin(connID, msg.Sender, msg.Channel)
		e.emit(Event{Kind: EventChannelJoin, Channel: msg.Channel, User: msg.Sender, Timestamp: msg.Timestamp})
	case message.TypeChannelLeave:
		e.channels.Leave(msg.Channel, now)
		e.peers.TrackLeave(connID, msg.Sender, msg.Channel)
		e.emit(Event{Kind: EventChannelLeave, Channel: msg.Channel, User: msg.Sender, Timestamp: msg.Timestamp})
	case message.TypePeerDiscovery:
		peer := e.peers.Upsert(connID, msg.Sender, msg.Content, e.conns[connID], now)
		e.metrics.Peers.Set(float64(e.peers.Len()))
		e.emit(Event{Kind: EventPeerDiscovered, Peer: &peer})
	}

	e.relay(connID, msg)
}

func (e *Engine) relay(from string, msg message.Message) {
	hop := msg.Hop()
	if hop.TTL <= 0 {
		return
	}
	e.transport.Broadcast(hop, from)
	e.metrics.Relayed.Inc()
}

func (e *Engine) emit(evt Event) {
	e.metrics.Events.WithLabelValues(string(evt.Kind)).Inc()
	e.sink.Publish(evt)
}

func (e *Engine) drop(reason, connID, id string, err error) {
	e.metrics.Dropped.WithLabelValues(reason).Inc()
	ev := e.log.Debug()
	if reason == dropInvalid {
		ev = e.log.Warn()
	}
	ev = ev.Str("reason", reason).Str("conn", connID)
	if id != "" {
		ev = ev.Str("id", id)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("message dropped")
}

func (e *Engine) discoveryMessage() message.Message {
	msg := message.New(message.TypePeerDiscovery, e.node, e.publicKey)
	msg.Timestamp = e.now().UnixMilli()
	msg.TTL = message.DefaultTTL
	return msg
}
