// Package service hosts a single Raft-replicated service instance: an FSM
// that owns one SessionContext per open session and the Raft node that
// replicates commands into it. Each session's compaction marks and
// memoized results ride along in the FSM's own Raft snapshot, so a restart
// never has to reconcile a second, independently-timed store.
//
// Host.Bootstrap starts a new single-member cluster; Host.Join starts a node
// without bootstrapping, for the existing cluster's leader to add (it does
// not contact that leader itself); Host.Resume restarts a node against an already
// -initialized data directory. Once started, Host.Apply submits an open_session,
// close_session, keep_alive, command, or reset operation and blocks until
// the FSM has applied it, returning the FSM's response.
//
// A service's domain logic — what a named command actually does — is
// supplied as a Handler; the FSM itself only sequences, memoizes, and
// publishes on the handler's behalf.
package service
