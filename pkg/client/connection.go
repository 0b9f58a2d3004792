// Package client implements ClientConnection: the per-caller dispatcher that
// resolves a cluster member through a MemberSelector, issues one RPC kind at
// a time through ClientProtocol, and classifies the outcome into retry,
// success, or terminal failure.
package client

import (
	"context"

	"github.com/cuemby/raftsession/pkg/cluster"
	"github.com/cuemby/raftsession/pkg/executor"
	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/protocol"
)

// Connection dispatches RPCs for a single client. All retry bookkeeping runs
// on its own executor so concurrent callers never interleave selector state.
type Connection struct {
	exec      *executor.Executor
	transport protocol.ClientProtocol
	selector  *cluster.Selector

	// member is the sticky pin: the member that last served a request
	// successfully. dispatch consults it before touching the selector at all,
	// and only clears it on a transport error.
	member ids.MemberID
}

// New creates a Connection against the given transport and initial
// membership view. leader may be the zero value if no leader is known yet.
func New(transport protocol.ClientProtocol, leader ids.MemberID, servers []ids.MemberID) *Connection {
	return &Connection{
		exec:      executor.New(),
		transport: transport,
		selector:  cluster.New(leader, servers),
	}
}

// UpdateMembers replaces the membership view used for subsequent retries,
// e.g. after a server response carries a fresher configuration.
func (c *Connection) UpdateMembers(leader ids.MemberID, servers []ids.MemberID) {
	c.exec.Go(func() { c.selector.ResetView(leader, servers) })
}

// Close stops the connection's executor. No further calls should be made.
func (c *Connection) Close() { c.exec.Stop() }

// dispatch runs the retry loop. If a sticky member is already pinned, it is
// tried first, bypassing the selector entirely; a transport error there
// clears the pin, while an application-level retry signal leaves it in place
// and falls through to the selector walk for this call only. Once no pin
// applies: try the next selected member; a transport error retries with the
// same request; a response carrying a non-terminal application error (e.g.
// NO_LEADER or ILLEGAL_MEMBER_STATE) also retries (the member told us it
// cannot serve this request, try another); anything else, a terminal
// application error or success, completes the future. A member that serves a request successfully becomes
// the new sticky pin.
func dispatch[P protocol.Responder](c *Connection, ctx context.Context, kind string, call func(ctx context.Context, member ids.MemberID) (P, error)) *executor.Future[P] {
	future := executor.NewFuture[P]()
	timer := metrics.NewTimer()
	c.exec.Go(func() {
		attempts := 0

		complete := func(resp P, err error, outcome string) {
			metrics.ClientRequestsTotal.WithLabelValues(kind, outcome).Inc()
			timer.ObserveDurationVec(metrics.ClientRequestDuration, kind)
			future.Complete(resp, err)
		}
		retry := func() {
			if attempts > 0 {
				metrics.ClientRetriesTotal.WithLabelValues(kind).Inc()
			}
		}

		if c.member != "" {
			attempts++
			resp, err := call(ctx, c.member)
			if err != nil {
				c.member = "" // transport error: the pin is no good any more
			} else if !shouldRetry(resp) {
				complete(resp, nil, "ok")
				return
			}
		}

		c.selector.Reset()
		for {
			retry()
			member, ok := c.selector.Next()
			if !ok {
				var zero P
				complete(zero, &protocol.NoRouteError{Attempts: attempts}, "no_route")
				return
			}
			attempts++

			resp, err := call(ctx, member)
			if err != nil {
				continue // transport error: try the next member with the same request
			}
			if shouldRetry(resp) {
				continue
			}
			c.member = member
			c.selector.Reset()
			complete(resp, nil, "ok")
			return
		}
	})
	return future
}

// shouldRetry reports whether resp's application error is one that should be
// retried on the next member rather than surfaced to the caller: every error
// type outside protocol's terminal set (NO_LEADER, ILLEGAL_MEMBER_STATE, ...)
// is retried; terminal errors and success are final.
func shouldRetry(resp protocol.Responder) bool {
	appErr := resp.AppError()
	if appErr == nil {
		return false
	}
	return !appErr.Terminal()
}

func (c *Connection) OpenSession(ctx context.Context, req *protocol.OpenSessionRequest) *executor.Future[*protocol.OpenSessionResponse] {
	return dispatch(c, ctx, "open_session", func(ctx context.Context, member ids.MemberID) (*protocol.OpenSessionResponse, error) {
		return c.transport.OpenSession(ctx, member, req)
	})
}

func (c *Connection) CloseSession(ctx context.Context, req *protocol.CloseSessionRequest) *executor.Future[*protocol.CloseSessionResponse] {
	return dispatch(c, ctx, "close_session", func(ctx context.Context, member ids.MemberID) (*protocol.CloseSessionResponse, error) {
		return c.transport.CloseSession(ctx, member, req)
	})
}

func (c *Connection) KeepAlive(ctx context.Context, req *protocol.KeepAliveRequest) *executor.Future[*protocol.KeepAliveResponse] {
	return dispatch(c, ctx, "keep_alive", func(ctx context.Context, member ids.MemberID) (*protocol.KeepAliveResponse, error) {
		return c.transport.KeepAlive(ctx, member, req)
	})
}

func (c *Connection) Command(ctx context.Context, req *protocol.CommandRequest) *executor.Future[*protocol.CommandResponse] {
	return dispatch(c, ctx, "command", func(ctx context.Context, member ids.MemberID) (*protocol.CommandResponse, error) {
		return c.transport.Command(ctx, member, req)
	})
}

func (c *Connection) Query(ctx context.Context, req *protocol.QueryRequest) *executor.Future[*protocol.QueryResponse] {
	return dispatch(c, ctx, "query", func(ctx context.Context, member ids.MemberID) (*protocol.QueryResponse, error) {
		return c.transport.Query(ctx, member, req)
	})
}

func (c *Connection) Metadata(ctx context.Context, req *protocol.MetadataRequest) *executor.Future[*protocol.MetadataResponse] {
	return dispatch(c, ctx, "metadata", func(ctx context.Context, member ids.MemberID) (*protocol.MetadataResponse, error) {
		return c.transport.Metadata(ctx, member, req)
	})
}
