package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftsession/pkg/executor"
	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	session := ids.SessionID(1)
	ch := hub.subscribe(session)
	defer hub.unsubscribe(session)

	req := &protocol.PublishRequest{SessionID: session, EventIndex: 5}
	require.NoError(t, hub.Publish(context.Background(), ids.MemberID(""), req))

	select {
	case got := <-ch:
		assert.Equal(t, req, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published batch")
	}
}

func TestPublishWithoutSubscriberIsNoop(t *testing.T) {
	hub := NewHub()
	req := &protocol.PublishRequest{SessionID: ids.SessionID(1)}
	assert.NoError(t, hub.Publish(context.Background(), ids.MemberID(""), req))
}

func TestResetListenerInvokedOnExecutor(t *testing.T) {
	hub := NewHub()
	exec := executor.New()
	defer exec.Stop()

	session := ids.SessionID(2)
	received := make(chan *protocol.ResetRequest, 1)
	hub.RegisterResetListener(session, func(req *protocol.ResetRequest) {
		received <- req
	}, exec)

	req := &protocol.ResetRequest{SessionID: session, Index: 9}
	hub.onReset(req)

	select {
	case got := <-received:
		assert.Equal(t, req, got)
	case <-time.After(time.Second):
		t.Fatal("reset listener never ran")
	}
}

func TestUnregisteredResetListenerIsIgnored(t *testing.T) {
	hub := NewHub()
	hub.RegisterResetListener(ids.SessionID(3), func(*protocol.ResetRequest) {
		t.Fatal("listener should not run after unregister")
	}, noopExecutor{})
	hub.UnregisterResetListener(ids.SessionID(3))
	hub.onReset(&protocol.ResetRequest{SessionID: ids.SessionID(3)})
}

type noopExecutor struct{}

func (noopExecutor) Go(fn func()) { fn() }
