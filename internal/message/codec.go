package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrMalformed marks a frame that is not a JSON message object at all.
	ErrMalformed = errors.New("malformed frame")
	// ErrInvalid marks a decodable message that lacks required fields.
	ErrInvalid = errors.New("invalid message")
)

// Frame is a decoded but not yet validated wire message. Required fields are
// pointers or raw values so absence can be told apart from zero values.
type Frame struct {
	ID        *string         `json:"id"`
	Type      *string         `json:"type"`
	Sender    *string         `json:"sender"`
	Recipient string          `json:"recipient"`
	Channel   string          `json:"channel"`
	Content   *string         `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
	TTL       json.RawMessage `json:"ttl"`
	Encrypted bool            `json:"encrypted"`
	Signature string          `json:"signature"`
}

// Parse decodes one wire frame. Only syntactic problems are reported here;
// field checks happen in Validate.
func Parse(payload []byte) (Frame, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Frame{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

// Encode serialises a message as a single frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// NewFrame wraps an already built message so it can enter the same
// validation path as wire traffic.
func NewFrame(m Message) Frame {
	id, kind, sender, content := m.ID, m.Type, m.Sender, m.Content
	return Frame{
		ID:        &id,
		Type:      &kind,
		Sender:    &sender,
		Recipient: m.Recipient,
		Channel:   m.Channel,
		Content:   &content,
		Timestamp: json.RawMessage(strconv.FormatInt(m.Timestamp, 10)),
		TTL:       json.RawMessage(strconv.Itoa(m.TTL)),
		Encrypted: m.Encrypted,
		Signature: m.Signature,
	}
}

// Validate checks required fields and returns the typed message.
func (f Frame) Validate() (Message, error) {
	switch {
	case f.ID == nil || *f.ID == "":
		return Message{}, fmt.Errorf("%w: missing id", ErrInvalid)
	case f.Type == nil || *f.Type == "":
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalid)
	case !KnownType(*f.Type):
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, *f.Type)
	case f.Sender == nil || *f.Sender == "":
		return Message{}, fmt.Errorf("%w: missing sender", ErrInvalid)
	case f.Content == nil:
		return Message{}, fmt.Errorf("%w: missing content", ErrInvalid)
	}
	ts, ok := parseInteger(f.Timestamp)
	if !ok {
		return Message{}, fmt.Errorf("%w: missing or non-numeric timestamp", ErrInvalid)
	}
	ttl, ok := parseInteger(f.TTL)
	if !ok {
		return Message{}, fmt.Errorf("%w: missing or non-numeric ttl", ErrInvalid)
	}
	switch *f.Type {
	case TypePrivate:
		if f.Recipient == "" {
			return Message{}, fmt.Errorf("%w: private_message without recipient", ErrInvalid)
		}
	case TypeChannel, TypeChannelJoin, TypeChannelLeave:
		if f.Channel == "" {
			return Message{}, fmt.Errorf("%w: %s without channel", ErrInvalid, *f.Type)
		}
	}
	return Message{
		ID:        *f.ID,
		Type:      *f.Type,
		Sender:    *f.Sender,
		Recipient: f.Recipient,
		Channel:   f.Channel,
		Content:   *f.Content,
		Timestamp: ts,
		TTL:       int(ttl),
		Encrypted: f.Encrypted,
		Signature: f.Signature,
	}, nil
}

// parseInteger accepts JSON numbers with an integral value. Quoted numbers,
// null and fractional values are rejected.
func parseInteger(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
