package relay

import (
	"context"
	"errors"
	"time"
)

// DefaultDiscoveryInterval is how often a relay re-announces itself.
const DefaultDiscoveryInterval = 30 * time.Second

// DiscoveryLoop broadcasts a fresh peer_discovery every interval until ctx is
// cancelled or the engine stops.
func (e *Engine) DiscoveryLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultDiscoveryInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			if _, err := e.AnnounceDiscovery(ctx); err != nil {
				if errors.Is(err, ErrStopped) || ctx.Err() != nil {
					return
				}
				e.log.Warn().Err(err).Msg("discovery broadcast failed")
			}
		}
	}
}
