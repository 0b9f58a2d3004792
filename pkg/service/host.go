package service

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/raftsession/pkg/executor"
	"github.com/cuemby/raftsession/pkg/ids"
	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/protocol"
	"github.com/cuemby/raftsession/pkg/session"
)

// Host runs one Raft-replicated service instance: the FSM plus the Raft
// node that replicates commands into it. It implements ServiceContext and
// ServerContext so ClientConnection's server-side counterpart can be built
// directly against it.
type Host struct {
	nodeID   string
	bindAddr string
	dataDir  string

	fsm  *FSM
	exec *executor.Executor
	raft *raft.Raft

	proto protocol.ServerProtocol
}

// Config configures a Host.
type Config struct {
	NodeID      string
	BindAddr    string
	DataDir     string
	ServiceType string
	ServiceName string
	Handler     Handler
}

// New creates a Host. Call Bootstrap or Join before serving traffic.
func New(cfg Config) (*Host, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("service: create data dir: %w", err)
	}

	h := &Host{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(cfg.ServiceType, cfg.ServiceName, cfg.Handler),
		exec:     executor.New(),
	}
	h.fsm.Wire(h.IsLeader, h.onCommit)
	return h, nil
}

// SetProtocol attaches the server-side transport, used to push event
// batches and register reset listeners. Every session the FSM hosts or
// later creates subscribes its reset listener against p on h's executor.
func (h *Host) SetProtocol(p protocol.ServerProtocol) {
	h.proto = p
	h.fsm.SetProtocol(p, h.exec)
}

// onCommit pushes a just-committed batch to whichever transport-level
// subscriber, if any, is currently attached to this session. The transport
// implementation (pkg/transport.Hub) resolves the session-to-stream mapping
// itself; member is left zero since the hub doesn't route by member.
func (h *Host) onCommit(id ids.SessionID, batch *session.EventBatch) {
	if h.proto == nil {
		return
	}
	req := &protocol.PublishRequest{
		SessionID:     id,
		EventIndex:    batch.EventIndex,
		PreviousIndex: batch.PreviousIndex,
		Events:        batch.Events,
	}
	if err := h.proto.Publish(context.Background(), ids.MemberID(""), req); err != nil {
		log.WithComponent("service").Warn().Err(err).Uint64("session_id", uint64(id)).Msg("publish failed")
	}
}

func raftConfig(nodeID string) *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (h *Host) newTransportAndStores() (*raft.NetworkTransport, raft.SnapshotStore, raft.LogStore, raft.StableStore, error) {
	addr, err := net.ResolveTCPAddr("tcp", h.bindAddr)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("service: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(h.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("service: create transport: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(h.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("service: create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(h.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("service: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(h.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("service: create stable store: %w", err)
	}
	return transport, snapshots, logStore, stableStore, nil
}

// Bootstrap starts a new single-member cluster with this Host as its only
// voter.
func (h *Host) Bootstrap() error {
	cfg := raftConfig(h.nodeID)
	transport, snapshots, logStore, stableStore, err := h.newTransportAndStores()
	if err != nil {
		return err
	}

	r, err := raft.NewRaft(cfg, h.fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return fmt.Errorf("service: create raft: %w", err)
	}
	h.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: cfg.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("service: bootstrap cluster: %w", err)
	}
	log.WithComponent("service").Info().Str("node_id", h.nodeID).Msg("bootstrapped cluster")
	return nil
}

// Join starts this Host's Raft node without bootstrapping a configuration,
// so it can be added to an existing cluster. It does not contact leaderAddr
// (which is only logged) or submit any configuration change itself; the node
// becomes a member once the cluster's leader adds it.
func (h *Host) Join(leaderAddr string) error {
	cfg := raftConfig(h.nodeID)
	transport, snapshots, logStore, stableStore, err := h.newTransportAndStores()
	if err != nil {
		return err
	}

	r, err := raft.NewRaft(cfg, h.fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return fmt.Errorf("service: create raft: %w", err)
	}
	h.raft = r
	log.WithComponent("service").Info().Str("node_id", h.nodeID).Str("leader", leaderAddr).Msg("joined cluster")
	return nil
}

// Resume starts this Host against an already-initialized data directory,
// neither bootstrapping a new cluster nor joining one — the existing log and
// stable stores already carry the cluster configuration.
func (h *Host) Resume() error {
	cfg := raftConfig(h.nodeID)
	transport, snapshots, logStore, stableStore, err := h.newTransportAndStores()
	if err != nil {
		return err
	}

	r, err := raft.NewRaft(cfg, h.fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return fmt.Errorf("service: create raft: %w", err)
	}
	h.raft = r
	log.WithComponent("service").Info().Str("node_id", h.nodeID).Msg("resumed from existing state")
	return nil
}

// IsLeader reports whether this Host's Raft node currently holds leadership.
func (h *Host) IsLeader() bool {
	return h.raft != nil && h.raft.State() == raft.Leader
}

func (h *Host) Protocol() protocol.ServerProtocol { return h.proto }

func (h *Host) CurrentIndex() uint64                    { return h.fsm.CurrentIndex() }
func (h *Host) CurrentOperation() protocol.OperationKind { return h.fsm.CurrentOperation() }
func (h *Host) Executor() protocol.Executor              { return h.exec }
func (h *Host) ServiceType() string                      { return h.fsm.ServiceType() }
func (h *Host) ServiceName() string                      { return h.fsm.ServiceName() }

// Apply submits a command to Raft and blocks until it is committed and
// applied, returning the FSM's response.
func (h *Host) Apply(op string, data any, timeout time.Duration) (any, error) {
	if h.raft == nil {
		return nil, fmt.Errorf("service: host not started")
	}
	payload, err := encode(op, data)
	if err != nil {
		return nil, err
	}
	future := h.raft.Apply(payload, timeout)
	if err := future.Error(); err != nil {
		return nil, err
	}
	return future.Response(), nil
}

// Snapshot implements metrics.Source.
func (h *Host) Snapshot() metrics.ServiceSnapshot {
	byState, eventQueueDepth, resultCacheSize, pendingCommands := h.fsm.MetricsSnapshot()
	peers := 0
	if h.raft != nil {
		peers = len(h.raft.GetConfiguration().Configuration().Servers)
	}
	return metrics.ServiceSnapshot{
		SessionsByState:  byState,
		EventQueueDepth:  eventQueueDepth,
		ResultCacheSize:  resultCacheSize,
		PendingCommands:  pendingCommands,
		IsLeader:         h.IsLeader(),
		RaftAppliedIndex: h.CurrentIndex(),
		RaftPeers:        peers,
	}
}

// Shutdown stops Raft and the host's executor.
func (h *Host) Shutdown() error {
	h.exec.Stop()
	if h.raft == nil {
		return nil
	}
	return h.raft.Shutdown().Error()
}
