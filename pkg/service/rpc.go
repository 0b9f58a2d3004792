package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/raftsession/pkg/protocol"
)

// defaultApplyTimeout bounds how long a command waits for Raft to commit it.
const defaultApplyTimeout = 5 * time.Second

// OpenSession, CloseSession, KeepAlive, Command, Query, and Metadata give
// Host the method set pkg/transport.Backend expects, so a Host can be
// registered directly against a grpc.Server without an adapter type.

func (h *Host) OpenSession(_ context.Context, req *protocol.OpenSessionRequest) (*protocol.OpenSessionResponse, error) {
	resp, err := h.Apply(opOpenSession, openSessionData{ServiceType: req.ServiceType, ServiceName: req.ServiceName}, defaultApplyTimeout)
	if err != nil {
		return nil, err
	}
	out := resp.(*protocol.OpenSessionResponse)
	out.Timeout = req.Timeout
	return out, nil
}

func (h *Host) CloseSession(_ context.Context, req *protocol.CloseSessionRequest) (*protocol.CloseSessionResponse, error) {
	resp, err := h.Apply(opCloseSession, closeSessionData{SessionID: uint64(req.SessionID)}, defaultApplyTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*protocol.CloseSessionResponse), nil
}

func (h *Host) KeepAlive(_ context.Context, req *protocol.KeepAliveRequest) (*protocol.KeepAliveResponse, error) {
	data := keepAliveData{SessionID: uint64(req.SessionID), CommandSequence: req.CommandSequence, EventIndex: req.EventIndex}
	resp, err := h.Apply(opKeepAlive, data, defaultApplyTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*protocol.KeepAliveResponse), nil
}

// Command submits a command for linearizable execution. When it arrives
// ahead of its session's turn, the FSM buffers it instead of blocking Raft's
// apply loop and hands back a pendingCommandResult; Command then waits here,
// off the apply loop, for a later Apply call to drain it in order.
func (h *Host) Command(ctx context.Context, req *protocol.CommandRequest) (*protocol.CommandResponse, error) {
	data := commandData{
		SessionID:       uint64(req.SessionID),
		RequestSequence: req.RequestSequence,
		Name:            req.Name,
		Operation:       req.Operation,
	}
	resp, err := h.Apply(opCommand, data, defaultApplyTimeout)
	if err != nil {
		return nil, err
	}

	pending, ok := resp.(*pendingCommandResult)
	if !ok {
		return resp.(*protocol.CommandResponse), nil
	}

	select {
	case out := <-pending.ch:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(defaultApplyTimeout):
		return nil, fmt.Errorf("service: command sequence %d for session %d timed out waiting for its turn", req.RequestSequence, req.SessionID)
	}
}

func (h *Host) Query(ctx context.Context, req *protocol.QueryRequest) (*protocol.QueryResponse, error) {
	return h.fsm.ExecuteQuery(ctx, req), nil
}

func (h *Host) Metadata(_ context.Context, req *protocol.MetadataRequest) (*protocol.MetadataResponse, error) {
	return h.fsm.Metadata(req.ServiceType, req.ServiceName), nil
}
