package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/protocol"
	"github.com/cuemby/raftsession/pkg/session"
)

// FSM is the Raft finite state machine hosting every session tracked by this
// service instance. It owns the map from SessionID to SessionContext and
// exposes the current log index/operation that SessionContext.Publish
// requires.
type FSM struct {
	mu sync.RWMutex

	serviceType string
	serviceName string
	handler     Handler

	sessions map[ids.SessionID]*session.Context

	currentIndex uint64
	currentOp    protocol.OperationKind

	isLeader func() bool
	onCommit func(session ids.SessionID, batch *session.EventBatch)

	proto protocol.ServerProtocol
	exec  protocol.Executor
}

// NewFSM creates an FSM for one hosted service instance. handler may be nil,
// in which case EchoHandler is used.
func NewFSM(serviceType, serviceName string, handler Handler) *FSM {
	if handler == nil {
		handler = EchoHandler{}
	}
	return &FSM{
		serviceType: serviceType,
		serviceName: serviceName,
		handler:     handler,
		sessions:    make(map[ids.SessionID]*session.Context),
	}
}

// Wire connects the FSM to its leadership oracle and commit callback. Called
// once by Host during setup, kept out of NewFSM so the FSM can be
// constructed (and unit tested) before a Raft instance exists. onCommit is
// invoked with a command's committed batch only when isLeader reports true
// at commit time (session.Context.Commit gates on it); followers queue the
// batch without calling it. Host's implementation pushes the batch to the
// session's subscriber, if any.
func (f *FSM) Wire(isLeader func() bool, onCommit func(ids.SessionID, *session.EventBatch)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isLeader = isLeader
	f.onCommit = onCommit
}

// SetProtocol attaches the server protocol and the executor its reset
// listeners run on. Called once by Host during setup, after Wire; every
// session created afterwards (by applyOpenSession or by Restore) registers
// its reset listener against it.
func (f *FSM) SetProtocol(proto protocol.ServerProtocol, exec protocol.Executor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proto = proto
	f.exec = exec
}

// registerReset subscribes s to its own client's reset requests: a reset
// clears the session's acknowledged events up to the requested index and
// republishes whatever remains queued, which is exactly how a reconnecting
// client catches up. The registration's release is stored on s itself so
// Expire/Close tear it down automatically.
func (f *FSM) registerReset(s *session.Context) {
	f.mu.RLock()
	proto, exec := f.proto, f.exec
	f.mu.RUnlock()
	if proto == nil || exec == nil {
		return
	}

	id := s.ID()
	proto.RegisterResetListener(id, func(req *protocol.ResetRequest) {
		remaining := s.ClearEvents(req.Index)
		for _, batch := range remaining {
			r := &protocol.PublishRequest{
				SessionID:     id,
				EventIndex:    batch.EventIndex,
				PreviousIndex: batch.PreviousIndex,
				Events:        batch.Events,
			}
			if err := proto.Publish(context.Background(), ids.MemberID(""), r); err != nil {
				log.WithComponent("service").Warn().Err(err).Uint64("session_id", uint64(id)).Msg("resend after reset failed")
			}
		}
	}, exec)
	s.SetResetUnregister(func() { proto.UnregisterResetListener(id) })
}

func (f *FSM) CurrentIndex() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentIndex
}

func (f *FSM) CurrentOperation() protocol.OperationKind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentOp
}

func (f *FSM) ServiceType() string { return f.serviceType }
func (f *FSM) ServiceName() string { return f.serviceName }

func (f *FSM) session(id ids.SessionID) (*session.Context, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[id]
	return s, ok
}

// MetricsSnapshot aggregates the live session state this FSM hosts, for
// pkg/metrics.Collector.
func (f *FSM) MetricsSnapshot() (byState map[string]int, eventQueueDepth, resultCacheSize, pendingCommands int) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	byState = make(map[string]int, 4)
	for _, s := range f.sessions {
		byState[s.State().String()]++
		eventQueueDepth += s.EventQueueLen()
		resultCacheSize += s.ResultCacheSize()
		pendingCommands += s.PendingCount()
	}
	return
}

// Apply applies one committed Raft log entry (raft.FSM).
func (f *FSM) Apply(log *raft.Log) any {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("service: unmarshal command: %w", err)
	}

	f.mu.Lock()
	f.currentIndex = log.Index
	if cmd.Op == opCommand {
		f.currentOp = protocol.OpCommand
	} else {
		f.currentOp = protocol.OpNone
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.currentOp = protocol.OpNone
		f.mu.Unlock()
	}()

	switch cmd.Op {
	case opOpenSession:
		return f.applyOpenSession(log.Index, cmd.Data)
	case opCloseSession:
		return f.applyCloseSession(cmd.Data)
	case opKeepAlive:
		return f.applyKeepAlive(cmd.Data)
	case opCommand:
		return f.applyCommand(log.Index, cmd.Data)
	case opReset:
		return f.applyReset(cmd.Data)
	default:
		return fmt.Errorf("service: unknown op %q", cmd.Op)
	}
}

func (f *FSM) applyOpenSession(index uint64, raw json.RawMessage) any {
	var data openSessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	id := ids.SessionID(index)
	s := session.New(id, data.ServiceType, data.ServiceName)

	f.mu.Lock()
	f.sessions[id] = s
	f.mu.Unlock()
	f.registerReset(s)
	metrics.SessionsOpenedTotal.WithLabelValues(data.ServiceType).Inc()

	return &protocol.OpenSessionResponse{Status: protocol.StatusOK, SessionID: id}
}

func (f *FSM) applyCloseSession(raw json.RawMessage) any {
	var data closeSessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	id := ids.SessionID(data.SessionID)
	s, ok := f.session(id)
	if !ok {
		return &protocol.CloseSessionResponse{
			Status: protocol.StatusError,
			Error:  &protocol.Error{Type: protocol.ErrUnknownSession},
		}
	}
	s.Close()

	f.mu.Lock()
	delete(f.sessions, id)
	f.mu.Unlock()

	return &protocol.CloseSessionResponse{Status: protocol.StatusOK}
}

func (f *FSM) applyKeepAlive(raw json.RawMessage) any {
	var data keepAliveData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	id := ids.SessionID(data.SessionID)
	s, ok := f.session(id)
	if !ok {
		return &protocol.KeepAliveResponse{
			Status: protocol.StatusError,
			Error:  &protocol.Error{Type: protocol.ErrUnknownSession},
		}
	}

	s.UpdateRequestSequence(data.CommandSequence)
	s.ClearResults(data.CommandSequence)
	s.ClearEvents(data.EventIndex)

	return &protocol.KeepAliveResponse{Status: protocol.StatusOK, SessionID: id, Succeeded: true}
}

// pendingCommandResult is what applyCommand returns for a command that
// arrived ahead of its turn. Apply runs on Raft's single-threaded apply
// loop and must never block waiting on a later log entry — doing so would
// stall the very entry needed to unblock it — so the command is buffered on
// the session and this carries the channel its eventual response arrives on
// once a later Apply call drains it in order.
type pendingCommandResult struct {
	ch chan *protocol.CommandResponse
}

func (f *FSM) applyCommand(index uint64, raw json.RawMessage) any {
	var data commandData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	id := ids.SessionID(data.SessionID)
	s, ok := f.session(id)
	if !ok {
		return &protocol.CommandResponse{
			Status: protocol.StatusError,
			Error:  &protocol.Error{Type: protocol.ErrUnknownSession},
		}
	}

	s.UpdateRequestSequence(data.RequestSequence)
	expected := s.CommandSequence() + 1

	switch {
	case data.RequestSequence > expected:
		// Ahead of its turn: buffer it and tell the caller to wait for the
		// gap to fill rather than blocking this Apply call.
		ch := make(chan *protocol.CommandResponse, 1)
		s.RegisterPendingCommand(&session.PendingCommand{
			Sequence: data.RequestSequence,
			Index:    index,
			Request: &protocol.CommandRequest{
				SessionID:       id,
				RequestSequence: data.RequestSequence,
				Name:            data.Name,
				Operation:       data.Operation,
			},
			Respond: func(resp *protocol.CommandResponse) { ch <- resp },
		})
		return &pendingCommandResult{ch: ch}

	case data.RequestSequence < expected:
		if cached, ok := s.Result(data.RequestSequence); ok {
			return &protocol.CommandResponse{
				Status:     protocol.StatusOK,
				Sequence:   cached.Sequence,
				Output:     cached.Output,
				EventIndex: cached.EventIndex,
			}
		}
		// Already applied and since pruned past the low-water mark: the
		// client already holds this result from an earlier response, so
		// acknowledge without re-running the handler.
		return &protocol.CommandResponse{Status: protocol.StatusOK, Sequence: data.RequestSequence, EventIndex: s.EventIndex()}

	default:
		resp := f.applyCommandNow(index, id, s, data.RequestSequence, data.Name, data.Operation)
		for _, pc := range s.DrainReady(data.RequestSequence + 1) {
			drained := f.applyCommandNow(pc.Index, id, s, pc.Request.RequestSequence, pc.Request.Name, pc.Request.Operation)
			if pc.Respond != nil {
				pc.Respond(drained)
			}
		}
		return resp
	}
}

// applyCommandNow runs the handler, commits the resulting events, and
// memoizes the result, for a command whose turn has come — either directly
// in applyCommand or from the drain loop after a gap fills.
func (f *FSM) applyCommandNow(index uint64, id ids.SessionID, s *session.Context, seq uint64, name string, operation []byte) *protocol.CommandResponse {
	output, err := f.handler.Apply(name, operation, func(event []byte) {
		_ = s.Publish(index, protocol.OpCommand, event)
	})
	if err != nil {
		return &protocol.CommandResponse{
			Status: protocol.StatusError,
			Error:  &protocol.Error{Type: protocol.ErrCommandFailure, Cause: err},
		}
	}

	f.mu.RLock()
	isLeader, onCommit := f.isLeader, f.onCommit
	f.mu.RUnlock()

	s.Commit(index, isLeader != nil && isLeader(), func(batch *session.EventBatch) {
		if onCommit != nil {
			onCommit(id, batch)
		}
	})

	s.RegisterResult(&session.OperationResult{Sequence: seq, Output: output, EventIndex: index})
	s.SetCommandSequence(seq)

	return &protocol.CommandResponse{Status: protocol.StatusOK, Sequence: seq, Output: output, EventIndex: index}
}

func (f *FSM) applyReset(raw json.RawMessage) any {
	var data resetData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	id := ids.SessionID(data.SessionID)
	s, ok := f.session(id)
	if !ok {
		return fmt.Errorf("service: unknown session %d", id)
	}
	s.ClearEvents(data.Index)
	return nil
}

// ExecuteQuery answers a read against a session's current state once the
// requested consistency level is satisfied: Sequential waits for
// commandSequence to reach req.Sequence, Linearizable waits for lastApplied
// to reach req.Index. It never touches Raft; reads never go through Apply.
func (f *FSM) ExecuteQuery(ctx context.Context, req *protocol.QueryRequest) *protocol.QueryResponse {
	s, ok := f.session(req.SessionID)
	if !ok {
		return &protocol.QueryResponse{Status: protocol.StatusError, Error: &protocol.Error{Type: protocol.ErrUnknownSession}}
	}

	consistency := "sequential"
	if req.Consistency == protocol.Linearizable {
		consistency = "linearizable"
	}

	ready := make(chan struct{})
	switch req.Consistency {
	case protocol.Linearizable:
		s.RegisterIndexQuery(req.Index, func() { close(ready) })
	default:
		s.RegisterSequenceQuery(req.Sequence, func() { close(ready) })
	}

	// register fires its callback synchronously if the gate is already
	// satisfied; if ready isn't closed yet the query genuinely has to wait.
	gated := false
	select {
	case <-ready:
	default:
		gated = true
	}
	if gated {
		metrics.QueriesGatedTotal.WithLabelValues(consistency).Inc()
	}
	waitTimer := metrics.NewTimer()

	select {
	case <-ready:
		if gated {
			waitTimer.ObserveDurationVec(metrics.QueryGateWaitDuration, consistency)
		}
	case <-ctx.Done():
		return &protocol.QueryResponse{
			Status: protocol.StatusError,
			Error:  &protocol.Error{Type: protocol.ErrQueryFailure, Cause: ctx.Err()},
		}
	}

	output, err := f.handler.Apply(req.Name, req.Operation, func([]byte) {})
	if err != nil {
		return &protocol.QueryResponse{Status: protocol.StatusError, Error: &protocol.Error{Type: protocol.ErrQueryFailure, Cause: err}}
	}
	return &protocol.QueryResponse{Status: protocol.StatusOK, Output: output}
}

// Metadata lists the sessions this FSM currently hosts for a service,
// letting a client rediscover its session set after reconnecting.
func (f *FSM) Metadata(serviceType, serviceName string) *protocol.MetadataResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var sessions []ids.SessionID
	for id, s := range f.sessions {
		if s.ServiceType() == serviceType && s.ServiceName() == serviceName {
			sessions = append(sessions, id)
		}
	}
	return &protocol.MetadataResponse{Status: protocol.StatusOK, Sessions: sessions}
}

// snapshot is the JSON-encoded point-in-time state persisted by Raft.
// Pending commands and in-flight query gates are transient and are not
// restored — a buffered command's RPC is still blocked in Host.Command on
// the live process, which a snapshot/restore cycle never survives anyway.
// Results is carried so a retried command between commandLowWaterMark and
// commandSequence still returns its memoized output after a restore instead
// of being re-applied.
type snapshotSession struct {
	ID                  uint64
	ServiceType         string
	ServiceName         string
	State               session.State
	RequestSequence     uint64
	CommandSequence     uint64
	LastApplied         uint64
	CommandLowWaterMark uint64
	EventIndex          uint64
	CompleteIndex       uint64
	Results             map[uint64]*session.OperationResult
}

type fsmSnapshot struct {
	Sessions []snapshotSession
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := &fsmSnapshot{Sessions: make([]snapshotSession, 0, len(f.sessions))}
	for id, s := range f.sessions {
		snap.Sessions = append(snap.Sessions, snapshotSession{
			ID:                  uint64(id),
			ServiceType:         s.ServiceType(),
			ServiceName:         s.ServiceName(),
			State:               s.State(),
			RequestSequence:     s.RequestSequence(),
			CommandSequence:     s.CommandSequence(),
			LastApplied:         s.LastApplied(),
			CommandLowWaterMark: s.CommandLowWaterMark(),
			EventIndex:          s.EventIndex(),
			CompleteIndex:       s.CompleteIndex(),
			Results:             s.Results(),
		})
	}
	return snap, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("service: decode snapshot: %w", err)
	}

	sessions := make(map[ids.SessionID]*session.Context, len(snap.Sessions))
	for _, ss := range snap.Sessions {
		s := session.New(ids.SessionID(ss.ID), ss.ServiceType, ss.ServiceName)
		s.ResetRequestSequence(ss.RequestSequence)
		s.SetCommandSequence(ss.CommandSequence)
		s.SetLastApplied(ss.LastApplied)
		s.RestoreResults(ss.Results)
		s.ClearResults(ss.CommandLowWaterMark)
		s.ClearEvents(ss.CompleteIndex)
		if ss.State == session.Closed {
			s.Close()
		} else if ss.State == session.Expired {
			s.Expire()
		}
		sessions[ids.SessionID(ss.ID)] = s
	}

	f.mu.Lock()
	old := f.sessions
	f.sessions = sessions
	f.mu.Unlock()

	// The restored sessions are new Context values; any reset-listener
	// registration held by the previous generation is stale and must be
	// released before the new ones acquire their own.
	for _, s := range old {
		s.Close()
	}
	for _, s := range sessions {
		if s.State() == session.Open {
			f.registerReset(s)
		}
	}
	return nil
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
