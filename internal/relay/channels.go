package relay

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"meshrelay/internal/message"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrChannelExists  = errors.New("channel already exists")
	ErrWrongPassword  = errors.New("wrong channel password")
)

// Channel is a named broadcast topic.
type Channel struct {
	Name              string    `json:"name"`
	Owner             string    `json:"owner"`
	PasswordProtected bool      `json:"passwordProtected"`
	MessageRetention  bool      `json:"messageRetention"`
	MemberCount       int       `json:"memberCount"`
	LastActivity      time.Time `json:"lastActivity"`
}

// ChannelSpec describes a channel to provision. PasswordHash is a bcrypt
// hash; an empty hash on a protected channel means no password is enforced.
type ChannelSpec struct {
	Name              string
	Owner             string
	PasswordProtected bool
	MessageRetention  bool
	PasswordHash      []byte
}

// DefaultChannels are provisioned on every relay at startup.
func DefaultChannels() []ChannelSpec {
	return []ChannelSpec{
		{Name: "#kitchen", Owner: "system", MessageRetention: true},
		{Name: "#orders", Owner: "system", MessageRetention: true},
		{Name: "#staff", Owner: "system", PasswordProtected: true},
		{Name: "#management", Owner: "system", PasswordProtected: true, MessageRetention: true},
	}
}

// HashPassword returns the bcrypt hash stored in ChannelSpec.PasswordHash.
func HashPassword(password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

type channelEntry struct {
	Channel
	passwordHash []byte
	history      *HistoryBuffer
}

// ChannelRegistry tracks channels by name. It is owned by the engine loop and
// is not safe for concurrent use.
type ChannelRegistry struct {
	historySize int
	byName      map[string]*channelEntry
}

func NewChannelRegistry(historySize int) *ChannelRegistry {
	return &ChannelRegistry{
		historySize: historySize,
		byName:      make(map[string]*channelEntry),
	}
}

// Provision adds a channel. Names must start with '#'.
func (r *ChannelRegistry) Provision(spec ChannelSpec, now time.Time) (Channel, error) {
	name := strings.TrimSpace(spec.Name)
	if len(name) < 2 || !strings.HasPrefix(name, "#") || strings.ContainsAny(name, " \t\r\n") {
		return Channel{}, fmt.Errorf("%w: bad channel name %q", message.ErrInvalid, spec.Name)
	}
	if _, ok := r.byName[name]; ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrChannelExists, name)
	}
	entry := &channelEntry{
		Channel: Channel{
			Name:              name,
			Owner:             spec.Owner,
			PasswordProtected: spec.PasswordProtected,
			MessageRetention:  spec.MessageRetention,
			LastActivity:      now,
		},
		passwordHash: spec.PasswordHash,
	}
	if entry.MessageRetention {
		entry.history = NewHistoryBuffer(r.historySize)
	}
	r.byName[name] = entry
	return entry.Channel, nil
}

func (r *ChannelRegistry) Get(name string) (Channel, bool) {
	entry, ok := r.byName[name]
	if !ok {
		return Channel{}, false
	}
	return entry.Channel, true
}

// RecordMessage marks activity for a channel message and keeps it in history
// when the channel retains messages. It reports whether the channel exists.
func (r *ChannelRegistry) RecordMessage(msg message.Message, now time.Time) bool {
	entry, ok := r.byName[msg.Channel]
	if !ok {
		return false
	}
	entry.LastActivity = now
	if entry.history != nil {
		entry.history.Add(msg)
	}
	return true
}

// Join increments the member count.
func (r *ChannelRegistry) Join(name string, now time.Time) bool {
	entry, ok := r.byName[name]
	if !ok {
		return false
	}
	entry.MemberCount++
	entry.LastActivity = now
	return true
}

// Leave decrements the member count, never below zero.
func (r *ChannelRegistry) Leave(name string, now time.Time) bool {
	entry, ok := r.byName[name]
	if !ok {
		return false
	}
	if entry.MemberCount > 0 {
		entry.MemberCount--
		entry.LastActivity = now
	}
	return true
}

// Messages returns the retained history of a channel, oldest first.
func (r *ChannelRegistry) Messages(name string) ([]message.Message, error) {
	entry, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	if entry.history == nil {
		return []message.Message{}, nil
	}
	return entry.history.All(), nil
}

// VerifyPassword checks password against a protected channel's hash.
func (r *ChannelRegistry) VerifyPassword(name, password string) error {
	entry, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	if !entry.PasswordProtected || len(entry.passwordHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(entry.passwordHash, []byte(password)); err != nil {
		return fmt.Errorf("%w: %s", ErrWrongPassword, name)
	}
	return nil
}

func (r *ChannelRegistry) Snapshot() []Channel {
	list := make([]Channel, 0, len(r.byName))
	for _, entry := range r.byName {
		list = append(list, entry.Channel)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
