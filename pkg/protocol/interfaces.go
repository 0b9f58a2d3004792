package protocol

import (
	"context"

	"github.com/cuemby/raftsession/pkg/ids"
)

// ClientProtocol is the client-side transport collaborator: one function
// per RPC kind, each talking to a specific member.
// The returned error is a transport-layer failure (connection refused,
// timed out, channel closed) — application-level failure is carried in the
// response's Status/Error fields instead, so ClientConnection can tell the
// two apart without inspecting error strings.
type ClientProtocol interface {
	OpenSession(ctx context.Context, member ids.MemberID, req *OpenSessionRequest) (*OpenSessionResponse, error)
	CloseSession(ctx context.Context, member ids.MemberID, req *CloseSessionRequest) (*CloseSessionResponse, error)
	KeepAlive(ctx context.Context, member ids.MemberID, req *KeepAliveRequest) (*KeepAliveResponse, error)
	Command(ctx context.Context, member ids.MemberID, req *CommandRequest) (*CommandResponse, error)
	Query(ctx context.Context, member ids.MemberID, req *QueryRequest) (*QueryResponse, error)
	Metadata(ctx context.Context, member ids.MemberID, req *MetadataRequest) (*MetadataResponse, error)
}

// ResetHandler is invoked when a client sends a reset request for a session.
type ResetHandler func(*ResetRequest)

// ServerProtocol is the server-side transport collaborator.
type ServerProtocol interface {
	// Publish is a fire-and-forget event push; failures are tolerated, the
	// client is expected to request a reset if it missed a batch.
	Publish(ctx context.Context, member ids.MemberID, req *PublishRequest) error

	// RegisterResetListener subscribes to client reset requests for a
	// session. The handler runs on the given executor.
	RegisterResetListener(session ids.SessionID, handler ResetHandler, exec Executor)
	UnregisterResetListener(session ids.SessionID)
}

// Executor is the minimal surface ServerProtocol needs from the session's
// single-threaded executor (see pkg/executor for the concrete type); kept
// as an interface here to avoid a dependency cycle between pkg/protocol and
// pkg/executor.
type Executor interface {
	Go(func())
}

// ServiceContext provides the state a session needs from its hosting
// service instance: the log index/operation currently being applied, and
// the single-threaded executor all session mutation runs on.
type ServiceContext interface {
	CurrentIndex() uint64
	CurrentOperation() OperationKind
	Executor() Executor
	ServiceType() string
	ServiceName() string
}

// ServerContext exposes leadership and the server protocol handle.
type ServerContext interface {
	IsLeader() bool
	Protocol() ServerProtocol
}
