package transport

import (
	"context"
	"sync"

	"google.golang.org/grpc"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

// Hub is the server side of the event-delivery stream: it fans PublishRequest
// batches out to whichever client connection is currently subscribed to a
// session, and forwards that client's ResetRequest acks/resends back to the
// session's registered reset listener. It implements protocol.ServerProtocol.
type Hub struct {
	mu        sync.Mutex
	batches   map[ids.SessionID]chan *protocol.PublishRequest
	listeners map[ids.SessionID]func(*protocol.ResetRequest)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		batches:   make(map[ids.SessionID]chan *protocol.PublishRequest),
		listeners: make(map[ids.SessionID]func(*protocol.ResetRequest)),
	}
}

func (h *Hub) Publish(_ context.Context, _ ids.MemberID, req *protocol.PublishRequest) error {
	h.mu.Lock()
	ch, ok := h.batches[req.SessionID]
	h.mu.Unlock()
	if !ok {
		return nil // no subscriber currently listening; client will request a reset
	}
	select {
	case ch <- req:
	default: // slow subscriber: drop, client's next reset recovers it
	}
	return nil
}

func (h *Hub) RegisterResetListener(session ids.SessionID, handler protocol.ResetHandler, exec protocol.Executor) {
	h.mu.Lock()
	h.listeners[session] = func(req *protocol.ResetRequest) {
		exec.Go(func() { handler(req) })
	}
	h.mu.Unlock()
}

func (h *Hub) UnregisterResetListener(session ids.SessionID) {
	h.mu.Lock()
	delete(h.listeners, session)
	h.mu.Unlock()
}

func (h *Hub) subscribe(session ids.SessionID) chan *protocol.PublishRequest {
	ch := make(chan *protocol.PublishRequest, 64)
	h.mu.Lock()
	h.batches[session] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(session ids.SessionID) {
	h.mu.Lock()
	delete(h.batches, session)
	h.mu.Unlock()
}

func (h *Hub) onReset(req *protocol.ResetRequest) {
	h.mu.Lock()
	listener, ok := h.listeners[req.SessionID]
	h.mu.Unlock()
	if ok {
		listener(req)
	}
}

// eventBackend is the slice of Hub that the Events stream handler needs.
// combinedServer satisfies it by embedding *Hub, without exposing Hub's
// unary-unrelated methods through the Backend type assertion.
type eventBackend interface {
	subscribe(ids.SessionID) chan *protocol.PublishRequest
	unsubscribe(ids.SessionID)
	onReset(*protocol.ResetRequest)
}

// eventStreamHandler serves the bidirectional Events RPC: the client's
// first message subscribes to a session (Index is its initial ack), every
// message after that is a fresh ack/reset; the server pushes PublishRequest
// batches for as long as the stream stays open.
func eventStreamHandler(srv any, stream grpc.ServerStream) error {
	hub := srv.(eventBackend)

	var first protocol.ResetRequest
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	hub.onReset(&first)

	ch := hub.subscribe(first.SessionID)
	defer hub.unsubscribe(first.SessionID)

	recvErr := make(chan error, 1)
	go func() {
		for {
			var req protocol.ResetRequest
			if err := stream.RecvMsg(&req); err != nil {
				recvErr <- err
				return
			}
			hub.onReset(&req)
		}
	}()

	for {
		select {
		case batch := <-ch:
			if err := stream.SendMsg(batch); err != nil {
				return err
			}
		case err := <-recvErr:
			return err
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

var eventStreamDesc = grpc.StreamDesc{
	StreamName:    "Events",
	Handler:       eventStreamHandler,
	ServerStreams: true,
	ClientStreams: true,
}
