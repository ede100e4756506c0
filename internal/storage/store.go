// Package storage persists operator-provisioned channel definitions so they
// survive a relay restart. Messages are never stored.
package storage

import (
	"context"
	"time"
)

// ChannelRecord is a persisted channel definition.
type ChannelRecord struct {
	Name              string    `json:"name"`
	Owner             string    `json:"owner"`
	PasswordProtected bool      `json:"passwordProtected"`
	MessageRetention  bool      `json:"messageRetention"`
	PasswordHash      []byte    `json:"passwordHash,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ChannelStore is implemented by BoltChannelStore and PostgresChannelStore.
type ChannelStore interface {
	LoadChannels(ctx context.Context) ([]ChannelRecord, error)
	SaveChannel(ctx context.Context, rec ChannelRecord) error
	Close() error
}

// Open picks a backend: PostgreSQL when databaseURL is set, otherwise a
// bbolt file at path. It returns nil, nil when neither is configured.
func Open(ctx context.Context, databaseURL, path string) (ChannelStore, error) {
	switch {
	case databaseURL != "":
		s, err := OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case path != "":
		s, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}
