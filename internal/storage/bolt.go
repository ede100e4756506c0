package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const channelBucket = "channels"

// BoltChannelStore keeps channel definitions in a local bbolt file.
type BoltChannelStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltChannelStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open channel store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(channelBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltChannelStore{db: db}, nil
}

func (s *BoltChannelStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveChannel stores rec under its name, replacing an earlier definition.
func (s *BoltChannelStore) SaveChannel(_ context.Context, rec ChannelRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(channelBucket)).Put([]byte(rec.Name), data)
	})
}

// LoadChannels returns every stored channel ordered by name.
func (s *BoltChannelStore) LoadChannels(_ context.Context) ([]ChannelRecord, error) {
	var out []ChannelRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(channelBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec ChannelRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode channel %q: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
