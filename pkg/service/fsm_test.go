package service

import (
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/protocol"
)

// fakeSink adapts an io.PipeWriter to raft.SnapshotSink for tests that
// exercise FSMSnapshot.Persist without a real Raft snapshot store.
type fakeSink struct {
	*io.PipeWriter
}

func (fakeSink) ID() string     { return "test" }
func (f fakeSink) Cancel() error { return f.CloseWithError(io.ErrClosedPipe) }

func applyLog(t *testing.T, f *FSM, index uint64, op string, data any) any {
	t.Helper()
	payload, err := encode(op, data)
	require.NoError(t, err)
	return f.Apply(&raft.Log{Index: index, Data: payload})
}

func TestOpenSessionAnchorsIDAtLogIndex(t *testing.T) {
	f := NewFSM("map", "m", nil)

	resp := applyLog(t, f, 7, opOpenSession, openSessionData{ServiceType: "map", ServiceName: "m"})
	openResp, ok := resp.(*protocol.OpenSessionResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.StatusOK, openResp.Status)
	assert.EqualValues(t, 7, openResp.SessionID)

	s, ok := f.session(ids.SessionID(7))
	require.True(t, ok)
	assert.EqualValues(t, 7, s.LastApplied())
}

func TestCommandIsMemoizedForRetry(t *testing.T) {
	f := NewFSM("map", "m", EchoHandler{})
	applyLog(t, f, 1, opOpenSession, openSessionData{ServiceType: "map", ServiceName: "m"})

	resp1 := applyLog(t, f, 2, opCommand, commandData{SessionID: 1, RequestSequence: 1, Name: "put", Operation: []byte("v1")})
	cmdResp1, ok := resp1.(*protocol.CommandResponse)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), cmdResp1.Output)

	// Retransmission of the same sequence replays the memoized result
	// instead of re-applying the handler.
	resp2 := applyLog(t, f, 3, opCommand, commandData{SessionID: 1, RequestSequence: 1, Name: "put", Operation: []byte("v2")})
	cmdResp2, ok := resp2.(*protocol.CommandResponse)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), cmdResp2.Output)
}

func TestCommandOnUnknownSessionIsTerminal(t *testing.T) {
	f := NewFSM("map", "m", nil)
	resp := applyLog(t, f, 1, opCommand, commandData{SessionID: 99, RequestSequence: 1, Name: "put"})
	cmdResp, ok := resp.(*protocol.CommandResponse)
	require.True(t, ok)
	assert.Equal(t, protocol.StatusError, cmdResp.Status)
	assert.True(t, cmdResp.Error.Terminal())
}

func TestKeepAliveAdvancesRequestSequenceAndPrunesResults(t *testing.T) {
	f := NewFSM("map", "m", EchoHandler{})
	applyLog(t, f, 1, opOpenSession, openSessionData{ServiceType: "map", ServiceName: "m"})
	applyLog(t, f, 2, opCommand, commandData{SessionID: 1, RequestSequence: 1, Name: "put", Operation: []byte("v1")})

	resp := applyLog(t, f, 3, opKeepAlive, keepAliveData{SessionID: 1, CommandSequence: 1, EventIndex: 0})
	kaResp, ok := resp.(*protocol.KeepAliveResponse)
	require.True(t, ok)
	assert.True(t, kaResp.Succeeded)

	s, _ := f.session(ids.SessionID(1))
	assert.EqualValues(t, 1, s.RequestSequence())
	assert.EqualValues(t, 1, s.CommandLowWaterMark())
}

func TestCloseSessionRemovesFromFSM(t *testing.T) {
	f := NewFSM("map", "m", nil)
	applyLog(t, f, 1, opOpenSession, openSessionData{ServiceType: "map", ServiceName: "m"})
	applyLog(t, f, 2, opCloseSession, closeSessionData{SessionID: 1})

	_, ok := f.session(ids.SessionID(1))
	assert.False(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := NewFSM("map", "m", EchoHandler{})
	applyLog(t, f, 1, opOpenSession, openSessionData{ServiceType: "map", ServiceName: "m"})
	applyLog(t, f, 2, opCommand, commandData{SessionID: 1, RequestSequence: 1, Name: "put", Operation: []byte("v1")})

	snap, err := f.Snapshot()
	require.NoError(t, err)

	pr, pw := io.Pipe()
	go func() {
		_ = snap.Persist(fakeSink{pw})
	}()

	f2 := NewFSM("map", "m", EchoHandler{})
	require.NoError(t, f2.Restore(pr))

	s, ok := f2.session(ids.SessionID(1))
	require.True(t, ok)
	assert.EqualValues(t, 2, s.LastApplied())
}
