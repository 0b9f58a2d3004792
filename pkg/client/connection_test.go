package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

// fakeTransport lets each test script per-member, per-attempt responses.
type fakeTransport struct {
	openSession func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error)
	attempts    map[ids.MemberID]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{attempts: make(map[ids.MemberID]int)}
}

func (f *fakeTransport) OpenSession(_ context.Context, member ids.MemberID, _ *protocol.OpenSessionRequest) (*protocol.OpenSessionResponse, error) {
	f.attempts[member]++
	return f.openSession(member, f.attempts[member])
}

func (f *fakeTransport) CloseSession(context.Context, ids.MemberID, *protocol.CloseSessionRequest) (*protocol.CloseSessionResponse, error) {
	return nil, errors.New("not used")
}
func (f *fakeTransport) KeepAlive(context.Context, ids.MemberID, *protocol.KeepAliveRequest) (*protocol.KeepAliveResponse, error) {
	return nil, errors.New("not used")
}
func (f *fakeTransport) Command(context.Context, ids.MemberID, *protocol.CommandRequest) (*protocol.CommandResponse, error) {
	return nil, errors.New("not used")
}
func (f *fakeTransport) Query(context.Context, ids.MemberID, *protocol.QueryRequest) (*protocol.QueryResponse, error) {
	return nil, errors.New("not used")
}
func (f *fakeTransport) Metadata(context.Context, ids.MemberID, *protocol.MetadataRequest) (*protocol.MetadataResponse, error) {
	return nil, errors.New("not used")
}

// Scenario 4: leader failover retries on the next member.
func TestOpenSessionRetriesOnNoLeader(t *testing.T) {
	transport := newFakeTransport()
	transport.openSession = func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error) {
		if member == "a" {
			return &protocol.OpenSessionResponse{Status: protocol.StatusError, Error: &protocol.Error{Type: protocol.ErrNoLeader}}, nil
		}
		return &protocol.OpenSessionResponse{Status: protocol.StatusOK, SessionID: ids.SessionID(1)}, nil
	}

	conn := New(transport, "a", []ids.MemberID{"a", "b"})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fut := conn.OpenSession(ctx, &protocol.OpenSessionRequest{ServiceType: "map", ServiceName: "m"})
	resp, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.EqualValues(t, 1, resp.SessionID)
}

func TestOpenSessionRetriesOnTransportError(t *testing.T) {
	transport := newFakeTransport()
	transport.openSession = func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error) {
		if member == "a" {
			return nil, errors.New("connection refused")
		}
		return &protocol.OpenSessionResponse{Status: protocol.StatusOK}, nil
	}

	conn := New(transport, "a", []ids.MemberID{"a", "b"})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fut := conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	resp, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

// Scenario 5: terminal error is surfaced, not retried.
func TestTerminalErrorSurfacedWithoutRetry(t *testing.T) {
	transport := newFakeTransport()
	called := make(map[ids.MemberID]int)
	transport.openSession = func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error) {
		called[member]++
		return &protocol.OpenSessionResponse{Status: protocol.StatusError, Error: &protocol.Error{Type: protocol.ErrUnknownService}}, nil
	}

	conn := New(transport, "a", []ids.MemberID{"a", "b"})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fut := conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	resp, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.ErrUnknownService, resp.Error.Type)
	assert.Equal(t, 1, called["a"])
	assert.Equal(t, 0, called["b"])
}

// Once a member has served a request successfully, the next call goes
// straight to it without consulting the selector at all.
func TestStickyMemberPinSurvivesAcrossCalls(t *testing.T) {
	transport := newFakeTransport()
	called := make(map[ids.MemberID]int)
	transport.openSession = func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error) {
		called[member]++
		if member == "a" {
			return &protocol.OpenSessionResponse{Status: protocol.StatusError, Error: &protocol.Error{Type: protocol.ErrNoLeader}}, nil
		}
		return &protocol.OpenSessionResponse{Status: protocol.StatusOK}, nil
	}

	conn := New(transport, "a", []ids.MemberID{"a", "b"})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fut := conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	_, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, called["a"])
	assert.Equal(t, 1, called["b"])

	// The second call pins straight to "b", the member that last succeeded,
	// and never touches "a" again.
	fut = conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	_, err = fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, called["a"])
	assert.Equal(t, 2, called["b"])
}

// A transport error on the pinned member clears the pin and falls back to
// the selector for that call, still reaching a healthy member.
func TestStickyMemberPinClearedOnTransportError(t *testing.T) {
	transport := newFakeTransport()
	aFailing := false
	transport.openSession = func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error) {
		if member == "a" && aFailing {
			return nil, errors.New("connection refused")
		}
		return &protocol.OpenSessionResponse{Status: protocol.StatusOK}, nil
	}

	conn := New(transport, "a", []ids.MemberID{"a", "b"})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fut := conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	_, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids.MemberID("a"), conn.member)

	// "a" is now pinned and goes bad; the call falls through to the
	// selector, which eventually reaches "b", and the pin moves there.
	aFailing = true
	fut = conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	resp, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, ids.MemberID("b"), conn.member)
}

func TestNoRouteWhenSelectorExhausted(t *testing.T) {
	transport := newFakeTransport()
	transport.openSession = func(member ids.MemberID, attempt int) (*protocol.OpenSessionResponse, error) {
		return nil, errors.New("unreachable")
	}

	conn := New(transport, "a", []ids.MemberID{"a", "b"})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fut := conn.OpenSession(ctx, &protocol.OpenSessionRequest{})
	_, err := fut.Await(ctx)
	require.Error(t, err)
	var noRoute *protocol.NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.Equal(t, 2, noRoute.Attempts)
}
