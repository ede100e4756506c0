package relay

import (
	"sort"
	"strings"
	"time"
)

// Peer describes a directly connected relay as learned from its most recent
// peer_discovery message.
type Peer struct {
	ID             string    `json:"id"`
	Nickname       string    `json:"nickname"`
	PublicKey      string    `json:"publicKey"`
	LastSeen       time.Time `json:"lastSeen"`
	ConnectionType string    `json:"connectionType"`
	Channels       []string  `json:"channels"`
}

type peerEntry struct {
	Peer
	channels map[string]struct{}
}

func (p *peerEntry) snapshot() Peer {
	out := p.Peer
	out.Channels = make([]string, 0, len(p.channels))
	for name := range p.channels {
		out.Channels = append(out.Channels, name)
	}
	sort.Strings(out.Channels)
	return out
}

// PeerRegistry tracks peers keyed by connection id. It is owned by the engine
// loop and is not safe for concurrent use.
type PeerRegistry struct {
	byConn map[string]*peerEntry
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{byConn: make(map[string]*peerEntry)}
}

// Upsert records a discovery for connID and returns the updated peer.
func (r *PeerRegistry) Upsert(connID, nickname, publicKey, kind string, seen time.Time) Peer {
	entry, ok := r.byConn[connID]
	if !ok {
		entry = &peerEntry{
			Peer:     Peer{ID: connID},
			channels: make(map[string]struct{}),
		}
		r.byConn[connID] = entry
	}
	entry.Nickname = nickname
	entry.PublicKey = publicKey
	entry.LastSeen = seen
	if kind != "" {
		entry.ConnectionType = kind
	}
	return entry.snapshot()
}

func (r *PeerRegistry) Get(connID string) (Peer, bool) {
	entry, ok := r.byConn[connID]
	if !ok {
		return Peer{}, false
	}
	return entry.snapshot(), true
}

// Remove drops the peer bound to connID.
func (r *PeerRegistry) Remove(connID string) bool {
	if _, ok := r.byConn[connID]; !ok {
		return false
	}
	delete(r.byConn, connID)
	return true
}

// TrackJoin records a channel membership for a direct neighbour whose
// nickname matches the joining user.
func (r *PeerRegistry) TrackJoin(connID, user, channel string) {
	if entry, ok := r.byConn[connID]; ok && strings.EqualFold(entry.Nickname, user) {
		entry.channels[channel] = struct{}{}
	}
}

func (r *PeerRegistry) TrackLeave(connID, user, channel string) {
	if entry, ok := r.byConn[connID]; ok && strings.EqualFold(entry.Nickname, user) {
		delete(entry.channels, channel)
	}
}

func (r *PeerRegistry) Len() int { return len(r.byConn) }

// Snapshot returns all peers ordered by nickname.
func (r *PeerRegistry) Snapshot() []Peer {
	list := make([]Peer, 0, len(r.byConn))
	for _, entry := range r.byConn {
		list = append(list, entry.snapshot())
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := strings.ToLower(list[i].Nickname), strings.ToLower(list[j].Nickname)
		if a != b {
			return a < b
		}
		return list[i].ID < list[j].ID
	})
	return list
}
