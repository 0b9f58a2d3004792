package protocol

import (
	"time"

	"github.com/cuemby/raftsession/pkg/ids"
)

// Status is the outcome of an RPC at the application level, independent of
// transport success.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

// OperationKind is the kind of operation the service context is currently
// executing for a session. Publishing into the event pipeline is only legal
// while OpCommand is in progress.
type OperationKind int

const (
	OpNone OperationKind = iota
	OpCommand
	OpQuery
	OpSnapshot
)

func (k OperationKind) String() string {
	switch k {
	case OpCommand:
		return "COMMAND"
	case OpQuery:
		return "QUERY"
	case OpSnapshot:
		return "SNAPSHOT"
	default:
		return "NONE"
	}
}

// ConsistencyLevel selects how a query is gated before execution.
type ConsistencyLevel int

const (
	// Sequential queries wait for commandSequence to reach the query's sequence.
	Sequential ConsistencyLevel = iota
	// Linearizable queries wait for lastApplied to reach a specific log index.
	Linearizable
)

// OpenSessionRequest opens a new session against a service instance.
type OpenSessionRequest struct {
	ServiceType string
	ServiceName string
	Timeout     time.Duration
}

type OpenSessionResponse struct {
	Status    Status
	Error     *Error
	SessionID ids.SessionID
	Timeout   time.Duration
}

type CloseSessionRequest struct {
	SessionID ids.SessionID
}

type CloseSessionResponse struct {
	Status Status
	Error  *Error
}

// KeepAliveRequest carries the client's request-sequence high-water mark and
// the highest event index it has fully received, letting the server advance
// completeIndex and prune acknowledged results.
type KeepAliveRequest struct {
	SessionID       ids.SessionID
	CommandSequence uint64
	EventIndex      uint64
}

type KeepAliveResponse struct {
	Status    Status
	Error     *Error
	SessionID ids.SessionID
	Succeeded bool
}

// CommandRequest submits a client-sequenced command for linearizable execution.
type CommandRequest struct {
	SessionID       ids.SessionID
	RequestSequence uint64
	Name            string
	Operation       []byte
}

type CommandResponse struct {
	Status     Status
	Error      *Error
	Sequence   uint64
	Output     []byte
	EventIndex uint64
}

// QueryRequest submits a read with the requested consistency level.
type QueryRequest struct {
	SessionID    ids.SessionID
	Sequence     uint64
	Index        uint64
	Consistency  ConsistencyLevel
	Name         string
	Operation    []byte
}

type QueryResponse struct {
	Status Status
	Error  *Error
	Output []byte
}

// MetadataRequest asks a server which sessions it currently tracks for a
// service, used by clients to rediscover state after a reconnect.
type MetadataRequest struct {
	ServiceType string
	ServiceName string
}

type MetadataResponse struct {
	Status  Status
	Error   *Error
	Sessions []ids.SessionID
}

// ResetRequest is the client->server message carrying the highest eventIndex
// the client has fully received, used both to subscribe and to ask for a
// resend starting after that index.
type ResetRequest struct {
	SessionID ids.SessionID
	Index     uint64
}

// PublishRequest is the server->client event push; see pkg/wire for its
// bit-exact field encoding.
type PublishRequest struct {
	SessionID      ids.SessionID
	EventIndex     uint64
	PreviousIndex  uint64
	Events         [][]byte
}

// Responder is implemented by every response type and lets ClientConnection
// inspect the application-level error uniformly, without a type switch over
// every response kind.
type Responder interface {
	AppError() *Error
}

func (r *OpenSessionResponse) AppError() *Error {
	if r.Status == StatusError {
		return r.Error
	}
	return nil
}

func (r *CloseSessionResponse) AppError() *Error {
	if r.Status == StatusError {
		return r.Error
	}
	return nil
}

func (r *KeepAliveResponse) AppError() *Error {
	if r.Status == StatusError {
		return r.Error
	}
	return nil
}

func (r *CommandResponse) AppError() *Error {
	if r.Status == StatusError {
		return r.Error
	}
	return nil
}

func (r *QueryResponse) AppError() *Error {
	if r.Status == StatusError {
		return r.Error
	}
	return nil
}

func (r *MetadataResponse) AppError() *Error {
	if r.Status == StatusError {
		return r.Error
	}
	return nil
}
