package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/wacall/internal/core/domain"
)

type chanFeed chan domain.Notification

func (f chanFeed) Notifications() <-chan domain.Notification {
	return f
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) HandleIncomingCall(ctx context.Context, ev domain.IncomingCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "incoming:"+ev.CallID.String())
	return nil
}

func (r *recordingSink) HandleStatusChange(ctx context.Context, ev domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "status:"+ev.CallID.String()+":"+string(ev.Status))
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestListenerPreservesOrder(t *testing.T) {
	feed := make(chanFeed, 8)
	sink := &recordingSink{}
	l := NewNotificationListener(feed, sink)

	feed <- domain.Notification{Kind: domain.NotificationIncomingCall, Incoming: domain.IncomingCall{CallID: "a"}}
	feed <- domain.Notification{Kind: domain.NotificationStatusChange, Status: domain.StatusChange{CallID: "a", Status: domain.StatusEnded}}
	feed <- domain.Notification{Kind: "typing"}
	feed <- domain.Notification{Kind: domain.NotificationIncomingCall, Incoming: domain.IncomingCall{CallID: "b"}}
	close(feed)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, []string{"incoming:a", "status:a:Ended", "incoming:b"}, sink.snapshot())
}

func TestListenerStops(t *testing.T) {
	feed := make(chanFeed)
	l := NewNotificationListener(feed, &recordingSink{})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	l.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerDrivesCallService(t *testing.T) {
	h := newHarness(t)
	feed := make(chanFeed, 4)
	l := NewNotificationListener(feed, h.svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	feed <- domain.Notification{Kind: domain.NotificationIncomingCall, Incoming: domain.IncomingCall{CallID: "in-9", FromNumber: "+15550101010"}}
	h.waitState(t, domain.StateConnecting)

	feed <- domain.Notification{Kind: domain.NotificationStatusChange, Status: domain.StatusChange{CallID: "in-9", Status: domain.StatusEnded}}
	h.waitState(t, domain.StateEnded)
	assert.Equal(t, "Ended", h.presenter.last().Message)
}
