package relay

import "meshrelay/internal/message"

// HistoryBuffer keeps a sliding window of recent channel messages in memory.
type HistoryBuffer struct {
	max    int
	buffer []message.Message
}

func NewHistoryBuffer(max int) *HistoryBuffer {
	if max <= 0 {
		max = 50
	}
	return &HistoryBuffer{max: max}
}

func (h *HistoryBuffer) Add(msg message.Message) {
	h.buffer = append(h.buffer, msg)
	if len(h.buffer) > h.max {
		h.buffer = h.buffer[len(h.buffer)-h.max:]
	}
}

func (h *HistoryBuffer) All() []message.Message {
	out := make([]message.Message, len(h.buffer))
	copy(out, h.buffer)
	return out
}
