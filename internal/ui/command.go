package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"meshrelay/internal/relay"
)

// CommandKind is what an input line asks the relay to do.
type CommandKind int

const (
	CmdChannelMessage CommandKind = iota + 1
	CmdPrivateMessage
	CmdJoin
	CmdLeave
)

// Command is a parsed monitor input line.
type Command struct {
	Kind      CommandKind
	Channel   string
	Recipient string
	Content   string
}

var errUsage = errors.New("usage: #channel text | /msg user text | /join #channel | /leave #channel")

// ParseCommand turns an input line into a Command.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "#"):
		channel, text, ok := strings.Cut(line, " ")
		text = strings.TrimSpace(text)
		if !ok || text == "" || len(channel) < 2 {
			return Command{}, errUsage
		}
		return Command{Kind: CmdChannelMessage, Channel: channel, Content: text}, nil
	case strings.HasPrefix(line, "/msg "):
		fields := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "/msg ")), " ", 2)
		if len(fields) != 2 || strings.TrimSpace(fields[1]) == "" {
			return Command{}, errUsage
		}
		return Command{Kind: CmdPrivateMessage, Recipient: fields[0], Content: strings.TrimSpace(fields[1])}, nil
	case strings.HasPrefix(line, "/join "), strings.HasPrefix(line, "/leave "):
		verb, channel, _ := strings.Cut(line, " ")
		channel = strings.TrimSpace(channel)
		if !strings.HasPrefix(channel, "#") {
			channel = "#" + channel
		}
		if len(channel) < 2 || strings.ContainsAny(channel, " \t") {
			return Command{}, errUsage
		}
		kind := CmdJoin
		if verb == "/leave" {
			kind = CmdLeave
		}
		return Command{Kind: kind, Channel: channel}, nil
	default:
		return Command{}, errUsage
	}
}

// FormatEvent renders an event as one tview-tagged line.
func FormatEvent(evt relay.Event) string {
	ts := time.Now()
	if evt.Timestamp > 0 {
		ts = time.UnixMilli(evt.Timestamp)
	}
	stamp := fmt.Sprintf("[yellow][%s][-]", ts.Format("15:04:05"))
	switch evt.Kind {
	case relay.EventChannelMessage:
		return fmt.Sprintf("%s [aqua]%s[-] [lightgreen]%s[-]: %s", stamp, evt.Channel, evt.Sender, tview.Escape(evt.Content))
	case relay.EventPrivateMessage:
		return fmt.Sprintf("%s [fuchsia]DM[-] [lightgreen]%s[-] -> %s: %s", stamp, evt.Sender, evt.Recipient, tview.Escape(evt.Content))
	case relay.EventChannelJoin:
		return fmt.Sprintf("%s [green]>>> %s joined %s[-]", stamp, evt.User, evt.Channel)
	case relay.EventChannelLeave:
		return fmt.Sprintf("%s [green]<<< %s left %s[-]", stamp, evt.User, evt.Channel)
	case relay.EventPeerDiscovered:
		name := ""
		if evt.Peer != nil {
			name = evt.Peer.Nickname
		}
		return fmt.Sprintf("%s [orange]** peer %s discovered[-]", stamp, name)
	case relay.EventPeerDisconnected:
		return fmt.Sprintf("%s [orange]** peer %s disconnected[-]", stamp, evt.PeerID)
	default:
		return fmt.Sprintf("%s %s", stamp, evt.Kind)
	}
}
