package session

import "github.com/cuemby/raftsession/pkg/protocol"

// Publish appends event to the batch open for currentIndex. It is only
// legal while a COMMAND operation is executing for this session on this
// server; violating that is a programmer error, not a recoverable condition.
func (c *Context) Publish(currentIndex uint64, currentOp protocol.OperationKind, event []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if State(c.state.Load()).terminal() {
		return &protocol.InvariantError{Message: "publish on terminal session"}
	}
	if currentOp != protocol.OpCommand {
		return &protocol.InvariantError{Message: "publish outside a COMMAND operation"}
	}

	// The client already acknowledged this or a later batch via some other
	// server; this is a re-application on a follower after a leadership
	// change, drop it silently.
	if c.completeIndex.Load() > currentIndex {
		return nil
	}

	if c.events.current == nil || c.events.current.EventIndex != currentIndex {
		prev := c.eventIndex.Load()
		c.eventIndex.Store(currentIndex)
		c.events.current = &EventBatch{EventIndex: currentIndex, PreviousIndex: prev}
	}
	c.events.current.Events = append(c.events.current.Events, event)
	return nil
}

// Commit is called when the command that produced events at index is
// committed by Raft: the open batch for that index, if any, is enqueued and
// (when this server is the leader) handed to send; lastApplied then
// advances.
func (c *Context) Commit(index uint64, isLeader bool, send func(*EventBatch)) {
	c.mu.Lock()
	var toSend *EventBatch
	if c.events.current != nil && c.events.current.EventIndex == index {
		batch := c.events.current
		c.events.enqueue(batch)
		c.events.current = nil
		toSend = batch
	}
	c.mu.Unlock()

	if toSend != nil && isLeader && send != nil {
		send(c.wireBatch(toSend))
	}
	c.SetLastApplied(index)
}

// wireBatch advertises previousIndex as max(batch.PreviousIndex,
// completeIndex) so a client that has already advanced past the batch's
// nominal predecessor still accepts it.
func (c *Context) wireBatch(b *EventBatch) *EventBatch {
	prev := b.PreviousIndex
	if ci := c.completeIndex.Load(); ci > prev {
		prev = ci
	}
	return &EventBatch{EventIndex: b.EventIndex, PreviousIndex: prev, Events: b.Events}
}

// ClearEvents handles the client "I have fully received up to index"
// reset message: drop acknowledged batches, advance completeIndex, and
// return the remaining batches (wire-adjusted) for resend — this subsumes
// both post-reconnect catch-up and a missed-batch request.
func (c *Context) ClearEvents(index uint64) []*EventBatch {
	c.mu.Lock()
	if index > c.completeIndex.Load() {
		c.completeIndex.Store(index)
	}
	remaining := c.events.clearUpTo(index)
	out := make([]*EventBatch, len(remaining))
	for i, b := range remaining {
		out[i] = c.wireBatch(b)
	}
	c.mu.Unlock()
	return out
}

// LastCompleted reports the index below which the replicated compaction
// machinery may safely discard log entries: the oldest unacked batch's
// predecessor if any batch is queued, otherwise lastApplied.
func (c *Context) LastCompleted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if front := c.events.front(); front != nil {
		return front.EventIndex - 1
	}
	return c.lastApplied.Load()
}

func (c *Context) EventQueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.len()
}

func (c *Context) EventIndex() uint64    { return c.eventIndex.Load() }
func (c *Context) CompleteIndex() uint64 { return c.completeIndex.Load() }
