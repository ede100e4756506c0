package relay

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"meshrelay/internal/message"
)

const (
	defaultCacheSize   = 4096
	defaultCacheWindow = 10 * time.Minute
)

// MsgCache remembers recently seen messages so re-deliveries are dropped.
// Entries leave the cache when it is full or after window has passed since
// insertion, whichever comes first.
type MsgCache struct {
	lru *expirable.LRU[string, message.Message]
}

func NewMsgCache(size int, window time.Duration) *MsgCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if window <= 0 {
		window = defaultCacheWindow
	}
	return &MsgCache{lru: expirable.NewLRU[string, message.Message](size, nil, window)}
}

func (c *MsgCache) Seen(id string) bool {
	if id == "" {
		return false
	}
	_, ok := c.lru.Peek(id)
	return ok
}

func (c *MsgCache) Add(msg message.Message) {
	if msg.ID == "" {
		return
	}
	c.lru.Add(msg.ID, msg)
}

func (c *MsgCache) Get(id string) (message.Message, bool) {
	return c.lru.Peek(id)
}

func (c *MsgCache) Len() int { return c.lru.Len() }
