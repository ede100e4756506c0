// Package ui is the kitchen-display style terminal monitor of a relay: a live
// event feed, the peer and channel lists, and an input line for operators.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"meshrelay/internal/message"
	"meshrelay/internal/relay"
)

const refreshEvery = 5 * time.Second

// Controller is the part of the relay the monitor drives.
type Controller interface {
	SendChannelMessage(ctx context.Context, channel, sender, content string) (message.Message, error)
	SendPrivateMessage(ctx context.Context, sender, recipient, content string) (message.Message, error)
	JoinChannel(ctx context.Context, user, channel string) (message.Message, error)
	LeaveChannel(ctx context.Context, user, channel string) (message.Message, error)
	ListChannels(ctx context.Context) ([]relay.Channel, error)
	ListPeers(ctx context.Context) ([]relay.Peer, error)
}

// Monitor renders relay activity using tview.
type Monitor struct {
	app      *tview.Application
	feed     *tview.TextView
	peers    *tview.List
	channels *tview.List
	input    *tview.InputField

	relay Controller
	node  string
	log   zerolog.Logger
	ctx   context.Context
	once  sync.Once
}

func NewMonitor(ctrl Controller, node string, log zerolog.Logger) *Monitor {
	feed := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(false).
		SetScrollable(true)
	feed.SetBorder(true).SetTitle(fmt.Sprintf("Mesh feed (%s)", node))

	peers := tview.NewList().ShowSecondaryText(false)
	peers.SetBorder(true).SetTitle("Peers")

	channels := tview.NewList()
	channels.SetBorder(true).SetTitle("Channels")

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)

	m := &Monitor{
		app:      tview.NewApplication(),
		feed:     feed,
		peers:    peers,
		channels: channels,
		input:    input,
		relay:    ctrl,
		node:     node,
		log:      log.With().Str("component", "monitor").Logger(),
		ctx:      context.Background(),
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(input.GetText())
		input.SetText("")
		if text != "" {
			go m.submit(text)
		}
	})

	side := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(peers, 0, 1, false).
		AddItem(channels, 0, 1, false)
	body := tview.NewFlex().
		AddItem(feed, 0, 3, false).
		AddItem(side, 32, 0, false)
	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(input, 1, 0, true)

	m.app.SetRoot(layout, true).EnableMouse(true)
	return m
}

// Run draws the monitor until ctx is cancelled or the user quits.
func (m *Monitor) Run(ctx context.Context, events <-chan relay.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.ctx = ctx
	go func() {
		<-ctx.Done()
		m.once.Do(m.app.Stop)
	}()
	go m.follow(ctx, events)
	return m.app.Run()
}

func (m *Monitor) follow(ctx context.Context, events <-chan relay.Event) {
	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()
	m.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.appendLine(FormatEvent(evt))
			switch evt.Kind {
			case relay.EventPeerDiscovered, relay.EventPeerDisconnected,
				relay.EventChannelJoin, relay.EventChannelLeave:
				m.refresh(ctx)
			}
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) {
	peers, err := m.relay.ListPeers(ctx)
	if err != nil {
		return
	}
	channels, err := m.relay.ListChannels(ctx)
	if err != nil {
		return
	}
	m.queue(func() {
		m.peers.Clear()
		for _, p := range peers {
			m.peers.AddItem(fmt.Sprintf("%s (%s)", p.Nickname, p.LastSeen.Format("15:04:05")), "", 0, nil)
		}
		m.channels.Clear()
		for _, ch := range channels {
			flags := ""
			if ch.PasswordProtected {
				flags += " locked"
			}
			if ch.MessageRetention {
				flags += " kept"
			}
			m.channels.AddItem(ch.Name, fmt.Sprintf("%d members%s", ch.MemberCount, flags), 0, nil)
		}
	})
}

func (m *Monitor) submit(text string) {
	cmd, err := ParseCommand(text)
	if err != nil {
		m.appendLine(fmt.Sprintf("[red]%s[-]", tview.Escape(err.Error())))
		return
	}
	ctx := m.ctx
	switch cmd.Kind {
	case CmdChannelMessage:
		_, err = m.relay.SendChannelMessage(ctx, cmd.Channel, m.node, cmd.Content)
		if err == nil {
			m.appendLine(FormatEvent(relay.Event{Kind: relay.EventChannelMessage, Channel: cmd.Channel, Sender: m.node, Content: cmd.Content}))
		}
	case CmdPrivateMessage:
		_, err = m.relay.SendPrivateMessage(ctx, m.node, cmd.Recipient, cmd.Content)
		if err == nil {
			m.appendLine(FormatEvent(relay.Event{Kind: relay.EventPrivateMessage, Sender: m.node, Recipient: cmd.Recipient, Content: cmd.Content}))
		}
	case CmdJoin:
		_, err = m.relay.JoinChannel(ctx, m.node, cmd.Channel)
	case CmdLeave:
		_, err = m.relay.LeaveChannel(ctx, m.node, cmd.Channel)
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("monitor command failed")
		m.appendLine(fmt.Sprintf("[red]send failed: %s[-]", tview.Escape(err.Error())))
	}
}

func (m *Monitor) appendLine(line string) {
	m.queue(func() {
		fmt.Fprintln(m.feed, line)
		m.feed.ScrollToEnd()
	})
}

// queue hands fn to the draw loop. Once the monitor is stopping nothing
// drains the update queue, so updates are dropped instead of blocking.
func (m *Monitor) queue(fn func()) {
	if m.ctx.Err() != nil {
		return
	}
	queued := make(chan struct{})
	go func() {
		m.app.QueueUpdateDraw(fn)
		close(queued)
	}()
	select {
	case <-queued:
	case <-m.ctx.Done():
	}
}
