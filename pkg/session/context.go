// Package session implements SessionContext: the server-side per-session
// linearizability bookkeeping — sequencing, result memoization,
// pending-command ordering, index/sequence query gating, and the event
// publish pipeline.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

// PendingCommand holds a command that arrived out of request-sequence order,
// buffered until the gap in front of it is filled.
type PendingCommand struct {
	Sequence uint64
	// Index is the Raft log index the command was submitted at, needed to
	// publish its events under the right index once it is finally applied.
	Index   uint64
	Request *protocol.CommandRequest
	Respond func(*protocol.CommandResponse)
}

// OperationResult is the memoized output of an applied command, keyed by
// request sequence, so a retransmission returns the same output instead of
// re-applying.
type OperationResult struct {
	Sequence   uint64
	Output     []byte
	EventIndex uint64
}

// Context is a session's replicated state. It is exclusively mutated on its
// service's single-threaded executor; the mutex here is a defensive measure
// for the maps (it is not held across listener or send callbacks, but
// sequence/index gate callbacks do run while it is held), while the
// scalar fields are atomics so read-only observers on other goroutines see
// a consistent snapshot without taking the lock.
type Context struct {
	id          ids.SessionID
	serviceType string
	serviceName string

	mu sync.Mutex

	state           atomic.Int32
	listeners       *listenerSet
	resetUnregister func()

	timestampNanos atomic.Int64

	requestSequence     atomic.Uint64
	commandSequence     atomic.Uint64
	lastApplied         atomic.Uint64
	commandLowWaterMark atomic.Uint64
	eventIndex          atomic.Uint64
	completeIndex       atomic.Uint64

	sequenceGates *gateMap
	indexGates    *gateMap

	pendingCommands map[uint64]*PendingCommand
	results         map[uint64]*OperationResult

	events *eventQueue
}

// New creates a SessionContext anchored at id: eventIndex, completeIndex,
// and lastApplied all start at id's value.
func New(id ids.SessionID, serviceType, serviceName string) *Context {
	c := &Context{
		id:              id,
		serviceType:     serviceType,
		serviceName:     serviceName,
		listeners:       newListenerSet(),
		sequenceGates:   newGateMap(),
		indexGates:      newGateMap(),
		pendingCommands: make(map[uint64]*PendingCommand),
		results:         make(map[uint64]*OperationResult),
		events:          newEventQueue(),
	}
	c.state.Store(int32(Open))
	anchor := uint64(id)
	c.lastApplied.Store(anchor)
	c.eventIndex.Store(anchor)
	c.completeIndex.Store(anchor)
	return c
}

// ID returns the session's identity. Equals compares by id alone: two
// Contexts with the same id are the same session.
func (c *Context) ID() ids.SessionID { return c.id }

func (c *Context) Equals(other *Context) bool {
	return other != nil && c.id == other.id
}

func (c *Context) ServiceType() string { return c.serviceType }
func (c *Context) ServiceName() string { return c.serviceName }

// State returns the current lifecycle state.
func (c *Context) State() State { return State(c.state.Load()) }

// AddListener registers l to be notified exactly once per distinct state
// transition from now on.
func (c *Context) AddListener(l Listener) { c.listeners.add(l) }

// SetResetUnregister records the scoped-acquisition release callback
// obtained when this session registered its reset listener with the server
// protocol at construction.
func (c *Context) SetResetUnregister(fn func()) {
	c.mu.Lock()
	c.resetUnregister = fn
	c.mu.Unlock()
}

func (c *Context) transition(to State) bool {
	c.mu.Lock()
	from := State(c.state.Load())
	if from.terminal() || from == to {
		c.mu.Unlock()
		return false
	}
	c.state.Store(int32(to))
	c.mu.Unlock()
	return true
}

func (c *Context) finalize() {
	c.mu.Lock()
	fn := c.resetUnregister
	c.resetUnregister = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Expire transitions the session to EXPIRED (terminal), notifies listeners
// once, and releases the reset-listener registration.
func (c *Context) Expire() {
	if c.transition(Expired) {
		c.listeners.notify(Expired)
		c.finalize()
	}
}

// Close transitions the session to CLOSED (terminal) on orderly close.
func (c *Context) Close() {
	if c.transition(Closed) {
		c.listeners.notify(Closed)
		c.finalize()
	}
}

// RecordTimestamp advances the last-observed wall-clock timestamp via max.
func (c *Context) RecordTimestamp(ts time.Time) {
	casMaxInt64(&c.timestampNanos, ts.UnixNano())
}

func (c *Context) Timestamp() time.Time {
	return time.Unix(0, c.timestampNanos.Load())
}

// UpdateRequestSequence advances the request-sequence high-water mark via
// max, tolerant of gaps from leader changeover.
func (c *Context) UpdateRequestSequence(n uint64) {
	casMaxUint64(&c.requestSequence, n)
}

// ResetRequestSequence advances the mark when a new leader must bootstrap
// from applied state; semantically identical to UpdateRequestSequence, kept
// as a distinct name for call-site clarity.
func (c *Context) ResetRequestSequence(n uint64) {
	casMaxUint64(&c.requestSequence, n)
}

func (c *Context) RequestSequence() uint64 { return c.requestSequence.Load() }

// SetCommandSequence advances commandSequence and fires every sequence gate
// in (old, n], releasing sequential-consistency queries waiting on it.
func (c *Context) SetCommandSequence(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.commandSequence.Load()
	if n <= old {
		return
	}
	c.commandSequence.Store(n)
	c.sequenceGates.fireRange(old, n)
}

func (c *Context) CommandSequence() uint64 { return c.commandSequence.Load() }

// RegisterSequenceQuery fires cb once commandSequence reaches seq. If it
// already has, cb fires synchronously.
func (c *Context) RegisterSequenceQuery(seq uint64, cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequenceGates.register(seq, c.commandSequence.Load(), cb)
}

// SetLastApplied advances lastApplied and fires every index gate in
// (old, i], releasing linearizable-consistency queries.
func (c *Context) SetLastApplied(i uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.lastApplied.Load()
	if i <= old {
		return
	}
	c.lastApplied.Store(i)
	c.indexGates.fireRange(old, i)
}

func (c *Context) LastApplied() uint64 { return c.lastApplied.Load() }

// RegisterIndexQuery fires cb once lastApplied reaches index.
func (c *Context) RegisterIndexQuery(index uint64, cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexGates.register(index, c.lastApplied.Load(), cb)
}

// RegisterPendingCommand buffers a command that arrived ahead of its turn.
func (c *Context) RegisterPendingCommand(pc *PendingCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingCommands[pc.Sequence] = pc
}

func (c *Context) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingCommands)
}

// DrainReady removes and returns, in order, every buffered command starting
// at next with no gap.
func (c *Context) DrainReady(next uint64) []*PendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*PendingCommand
	for {
		pc, ok := c.pendingCommands[next]
		if !ok {
			break
		}
		out = append(out, pc)
		delete(c.pendingCommands, next)
		next++
	}
	return out
}

// RegisterResult memoizes a command's output for retry idempotence.
func (c *Context) RegisterResult(res *OperationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[res.Sequence] = res
}

func (c *Context) Result(seq uint64) (*OperationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[seq]
	return r, ok
}

// ClearResults advances commandLowWaterMark to seq and discards every
// result at or below it; reads below the mark are no longer retryable.
func (c *Context) ClearResults(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.commandLowWaterMark.Load() {
		c.commandLowWaterMark.Store(seq)
	}
	for s := range c.results {
		if s <= seq {
			delete(c.results, s)
		}
	}
}

func (c *Context) CommandLowWaterMark() uint64 { return c.commandLowWaterMark.Load() }

// Results copies every memoized result still held, for a Raft snapshot to
// carry across restarts; without this a retried command between the
// low-water mark and commandSequence would be re-applied after a restore
// instead of returning its cached output.
func (c *Context) Results() map[uint64]*OperationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]*OperationResult, len(c.results))
	for seq, r := range c.results {
		out[seq] = r
	}
	return out
}

// RestoreResults replaces the result cache wholesale, used only when
// reconstructing a Context from a Raft snapshot.
func (c *Context) RestoreResults(results map[uint64]*OperationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[uint64]*OperationResult, len(results))
	for seq, r := range results {
		c.results[seq] = r
	}
}

// ResultCacheSize exposes the result cache's current size so it can be
// published as a metric; growth is bounded by client-side windowing, not
// by anything this type enforces.
func (c *Context) ResultCacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func casMaxUint64(a *atomic.Uint64, n uint64) {
	for {
		old := a.Load()
		if n <= old {
			return
		}
		if a.CompareAndSwap(old, n) {
			return
		}
	}
}

func casMaxInt64(a *atomic.Int64, n int64) {
	for {
		old := a.Load()
		if n <= old {
			return
		}
		if a.CompareAndSwap(old, n) {
			return
		}
	}
}
