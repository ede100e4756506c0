package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/relay"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want Command
	}{
		{"#orders table 4 ready", Command{Kind: CmdChannelMessage, Channel: "#orders", Content: "table 4 ready"}},
		{"  /msg chef  two more fries ", Command{Kind: CmdPrivateMessage, Recipient: "chef", Content: "two more fries"}},
		{"/join #staff", Command{Kind: CmdJoin, Channel: "#staff"}},
		{"/join staff", Command{Kind: CmdJoin, Channel: "#staff"}},
		{"/leave #kitchen", Command{Kind: CmdLeave, Channel: "#kitchen"}},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestParseCommandRejectsIncompleteLines(t *testing.T) {
	for _, line := range []string{"", "hello", "#orders", "# text", "/msg chef", "/msg chef   ", "/join", "/join #a b"} {
		_, err := ParseCommand(line)
		assert.ErrorIs(t, err, errUsage, line)
	}
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 18, 30, 5, 0, time.Local).UnixMilli()

	line := FormatEvent(relay.Event{Kind: relay.EventChannelMessage, Channel: "#orders", Sender: "bar", Content: "2x [cola]", Timestamp: ts})
	assert.Contains(t, line, "18:30:05")
	assert.Contains(t, line, "#orders")
	assert.Contains(t, line, "bar")
	assert.Contains(t, line, "[cola[]", "content is escaped for tview")

	line = FormatEvent(relay.Event{Kind: relay.EventPrivateMessage, Sender: "bar", Recipient: "chef", Content: "hi", Timestamp: ts})
	assert.Contains(t, line, "bar[-] -> chef: hi")

	line = FormatEvent(relay.Event{Kind: relay.EventChannelJoin, User: "sam", Channel: "#staff", Timestamp: ts})
	assert.Contains(t, line, "sam joined #staff")

	line = FormatEvent(relay.Event{Kind: relay.EventPeerDiscovered, Peer: &relay.Peer{Nickname: "patio"}, Timestamp: ts})
	assert.Contains(t, line, "peer patio discovered")

	line = FormatEvent(relay.Event{Kind: relay.EventPeerDisconnected, PeerID: "01HX", Timestamp: ts})
	assert.Contains(t, line, "peer 01HX disconnected")
}
