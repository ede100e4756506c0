package network

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	dialQueueSize   = 128
	dialBackoff     = 5 * time.Second
	dialJitterRange = 2 * time.Second
	redialInterval  = 15 * time.Second
)

// PeerDialer opens outbound peer connections.
type PeerDialer interface {
	ConnectToPeer(ctx context.Context, url string) error
	IsConnected(url string) bool
}

// DialScheduler keeps the configured outbound peers connected, retrying with
// backoff and jitter after failures and re-dialing peers that dropped.
type DialScheduler struct {
	dialer PeerDialer
	log    zerolog.Logger

	backoff time.Duration
	jitter  time.Duration
	recheck time.Duration

	mu      sync.RWMutex
	desired map[string]time.Time

	queue chan string
	quit  chan struct{}
	once  sync.Once
}

func NewDialScheduler(d PeerDialer, log zerolog.Logger) *DialScheduler {
	return &DialScheduler{
		dialer:  d,
		log:     log.With().Str("component", "dialer").Logger(),
		backoff: dialBackoff,
		jitter:  dialJitterRange,
		recheck: redialInterval,
		desired: make(map[string]time.Time),
		queue:   make(chan string, dialQueueSize),
		quit:    make(chan struct{}),
	}
}

// Add registers url as a peer to keep connected.
func (d *DialScheduler) Add(url string) {
	if url == "" {
		return
	}
	d.mu.Lock()
	_, exists := d.desired[url]
	if !exists {
		d.desired[url] = time.Now()
	}
	d.mu.Unlock()
	if !exists {
		d.enqueue(url)
	}
}

func (d *DialScheduler) Desired() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]string, 0, len(d.desired))
	for url := range d.desired {
		list = append(list, url)
	}
	sort.Strings(list)
	return list
}

func (d *DialScheduler) enqueue(url string) {
	select {
	case d.queue <- url:
	default:
		d.log.Warn().Str("peer", url).Msg("dial queue full, dropping")
	}
}

func (d *DialScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(d.recheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case url := <-d.queue:
			d.tryDial(ctx, url)
		case <-ticker.C:
			for _, url := range d.Desired() {
				if !d.dialer.IsConnected(url) {
					d.enqueue(url)
				}
			}
		}
	}
}

func (d *DialScheduler) tryDial(ctx context.Context, url string) {
	if d.dialer.IsConnected(url) {
		return
	}
	if err := d.dialer.ConnectToPeer(ctx, url); err != nil {
		d.log.Warn().Err(err).Str("peer", url).Msg("dial failed")
		d.scheduleRetry(ctx, url)
		return
	}
	d.log.Info().Str("peer", url).Msg("dialed peer")
}

func (d *DialScheduler) scheduleRetry(ctx context.Context, url string) {
	wait := d.backoff
	if d.jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(d.jitter)))
	}
	go func() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
			d.enqueue(url)
		case <-ctx.Done():
		case <-d.quit:
		}
	}()
}

func (d *DialScheduler) Close() {
	d.once.Do(func() { close(d.quit) })
}
