// Package raftnode hosts the replicated service container on a
// hashicorp/raft node.
//
// Client session commands go through the raft log; raft snapshots are
// container snapshots (BEGIN marker, session records, END marker) written
// by the service FSM. Logs and stable state live in BoltDB, snapshots in a
// raft file snapshot store.
package raftnode
