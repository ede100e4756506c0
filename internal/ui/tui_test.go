package ui

import (
	"context"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/message"
	"meshrelay/internal/relay"
)

type stubController struct{}

func (stubController) SendChannelMessage(context.Context, string, string, string) (message.Message, error) {
	return message.Message{}, nil
}

func (stubController) SendPrivateMessage(context.Context, string, string, string) (message.Message, error) {
	return message.Message{}, nil
}

func (stubController) JoinChannel(context.Context, string, string) (message.Message, error) {
	return message.Message{}, nil
}

func (stubController) LeaveChannel(context.Context, string, string) (message.Message, error) {
	return message.Message{}, nil
}

func (stubController) ListChannels(context.Context) ([]relay.Channel, error) {
	return []relay.Channel{{Name: "#kitchen"}}, nil
}

func (stubController) ListPeers(context.Context) ([]relay.Peer, error) {
	return []relay.Peer{{ID: "c1", Nickname: "bar-relay"}}, nil
}

func TestMonitorUpdatesAfterStopDoNotBlock(t *testing.T) {
	m := NewMonitor(stubController{}, "kitchen-relay", zerolog.Nop())
	m.app.SetScreen(tcell.NewSimulationScreen("UTF-8"))

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan relay.Event)
	started := make(chan struct{})
	go m.app.QueueUpdate(func() { close(started) })
	stopped := make(chan error, 1)
	go func() { stopped <- m.Run(ctx, events) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not start")
	}
	cancel()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 500; i++ {
			m.appendLine("late order")
		}
		m.refresh(context.Background())
		m.submit("#orders table 6")
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("updates after stop blocked")
	}
}
