package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"meshrelay/internal/message"
)

// ConnType is reported to the handler for every connection the bridge owns.
const ConnType = "websocket"

const (
	defaultSendQueue    = 64
	defaultWriteTimeout = 10 * time.Second
	dialTimeout         = 5 * time.Second
	defaultMaxFrame     = 1 << 20
)

var (
	ErrUnknownConn = errors.New("unknown connection")
	ErrQueueFull   = errors.New("send queue full")
	ErrClosed      = errors.New("bridge closed")
)

// Handler receives connection lifecycle and decoded frames. Calls for a
// single connection are made in order: Connected, Deliver..., Disconnected.
type Handler interface {
	Connected(connID, connType string)
	Deliver(connID string, f message.Frame)
	Disconnected(connID string)
}

type Options struct {
	Logger       zerolog.Logger
	Registerer   prometheus.Registerer
	SendQueue    int
	WriteTimeout time.Duration
	// MaxFrame is the largest frame delivered; bigger ones are discarded and
	// the connection stays open.
	MaxFrame int
}

// Bridge owns the WebSocket connections of a relay: it accepts inbound peers
// on /mesh, dials outbound ones and moves frames between sockets and the
// relay engine.
type Bridge struct {
	log          zerolog.Logger
	metrics      *Metrics
	upgrader     websocket.Upgrader
	dialer       *websocket.Dialer
	sendQueue    int
	writeTimeout time.Duration
	maxFrame     int

	mu      sync.RWMutex
	handler Handler
	conns   map[string]*conn
	dialed  map[string]string // peer url -> conn id
	closed  bool

	wg sync.WaitGroup
}

type conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func NewBridge(opts Options) *Bridge {
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = defaultMaxFrame
	}
	return &Bridge{
		log:          opts.Logger.With().Str("component", "bridge").Logger(),
		metrics:      NewMetrics(opts.Registerer),
		sendQueue:    opts.SendQueue,
		writeTimeout: opts.WriteTimeout,
		maxFrame:     opts.MaxFrame,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		conns:  make(map[string]*conn),
		dialed: make(map[string]string),
	}
}

// Bind sets the handler that receives inbound traffic. It must be called
// before the bridge accepts or dials connections.
func (b *Bridge) Bind(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// ServeHTTP upgrades an inbound peer connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.isClosed() {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	if _, err := b.attach(ws, r.RemoteAddr, ""); err != nil {
		_ = ws.Close()
	}
}

// Run serves /mesh on addr until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/mesh", b)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	b.log.Info().Str("addr", addr).Msg("mesh transport listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mesh listener: %w", err)
	}
	return nil
}

// ConnectToPeer dials an outbound connection to url unless one is open.
func (b *Bridge) ConnectToPeer(ctx context.Context, url string) error {
	if b.IsConnected(url) {
		return nil
	}
	ws, _, err := b.dialer.DialContext(ctx, url, nil)
	if err != nil {
		b.metrics.Dials.WithLabelValues("error").Inc()
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if _, err := b.attach(ws, url, url); err != nil {
		_ = ws.Close()
		return err
	}
	b.metrics.Dials.WithLabelValues("ok").Inc()
	return nil
}

// IsConnected reports whether an outbound connection to url is open.
func (b *Bridge) IsConnected(url string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.dialed[url]
	return ok
}

func (b *Bridge) attach(ws *websocket.Conn, remote, dialURL string) (*conn, error) {
	c := &conn{
		id:     ulid.Make().String(),
		remote: remote,
		ws:     ws,
		send:   make(chan []byte, b.sendQueue),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if dialURL != "" {
		if _, exists := b.dialed[dialURL]; exists {
			b.mu.Unlock()
			return nil, fmt.Errorf("already connected to %s", dialURL)
		}
		b.dialed[dialURL] = c.id
	}
	b.conns[c.id] = c
	h := b.handler
	b.wg.Add(2)
	b.mu.Unlock()

	b.metrics.Connections.Inc()
	b.log.Info().Str("conn", c.id).Str("remote", remote).Msg("peer connected")
	if h != nil {
		h.Connected(c.id, ConnType)
	}
	go b.writeLoop(c)
	go b.readLoop(c, h, dialURL)
	return c, nil
}

func (b *Bridge) readLoop(c *conn, h Handler, dialURL string) {
	defer b.wg.Done()
	defer func() {
		c.close()
		b.mu.Lock()
		delete(b.conns, c.id)
		if dialURL != "" && b.dialed[dialURL] == c.id {
			delete(b.dialed, dialURL)
		}
		b.mu.Unlock()
		b.metrics.Connections.Dec()
		b.log.Info().Str("conn", c.id).Str("remote", c.remote).Msg("peer disconnected")
		if h != nil {
			h.Disconnected(c.id)
		}
	}()
	for {
		payload, err := b.readFrame(c)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Debug().Err(err).Str("conn", c.id).Msg("read error")
			}
			return
		}
		b.metrics.Frames.Inc()
		if payload == nil {
			continue
		}
		f, err := message.Parse(payload)
		if err != nil {
			b.metrics.Malformed.Inc()
			b.log.Warn().Err(err).Str("conn", c.id).Int("bytes", len(payload)).Msg("malformed frame dropped")
			continue
		}
		if h != nil {
			h.Deliver(c.id, f)
		}
	}
}

// readFrame returns the next frame payload. An oversized frame is drained
// without buffering and reported as a nil payload.
func (b *Bridge) readFrame(c *conn) ([]byte, error) {
	_, r, err := c.ws.NextReader()
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(io.LimitReader(r, int64(b.maxFrame)+1))
	if err != nil {
		return nil, err
	}
	if len(payload) <= b.maxFrame {
		return payload, nil
	}
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, err
	}
	b.metrics.Oversized.Inc()
	b.log.Warn().Str("conn", c.id).Int64("bytes", int64(len(payload))+rest).Msg("oversized frame dropped")
	return nil, nil
}

func (b *Bridge) writeLoop(c *conn) {
	defer b.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(b.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				b.log.Warn().Err(err).Str("conn", c.id).Msg("write failed")
				c.close()
				return
			}
		}
	}
}

// Broadcast queues msg on every connection except the one named.
func (b *Bridge) Broadcast(msg message.Message, except string) {
	data, err := message.Encode(msg)
	if err != nil {
		b.log.Error().Err(err).Str("id", msg.ID).Msg("encode failed")
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, c := range b.conns {
		if id == except {
			continue
		}
		b.enqueue(c, data)
	}
}

// Send queues msg on a single connection.
func (b *Bridge) Send(connID string, msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return err
	}
	b.mu.RLock()
	c, ok := b.conns[connID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, connID)
	}
	if !b.enqueue(c, data) {
		return fmt.Errorf("%w: %s", ErrQueueFull, connID)
	}
	return nil
}

func (b *Bridge) enqueue(c *conn, data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		b.metrics.QueueDrops.Inc()
		b.log.Warn().Str("conn", c.id).Msg("send queue full, frame dropped")
		return false
	}
}

// Conns returns the ids of open connections, sorted.
func (b *Bridge) Conns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := make([]string, 0, len(b.conns))
	for id := range b.conns {
		list = append(list, id)
	}
	sort.Strings(list)
	return list
}

// Close drops every connection and waits for their goroutines to exit.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	for _, c := range b.conns {
		c.close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
