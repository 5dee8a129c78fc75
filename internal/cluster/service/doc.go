// Package service implements the snapshot protocol of a clustered service.
//
// The writer side is SnapshotTaker (markers) and ServiceSnapshotTaker
// (client session records). Both append through a logbuffer.Publication
// with the same claim loop:
//
//	reset idle -> TryClaim -> encode + commit
//	                 |
//	                 +-> terminal result: *PublicationError
//	                 +-> ctx done: domain.ErrAgentTerminated
//	                 +-> invoke agent, idle, retry
//
// The reader side is SnapshotLoader, an explicit state machine
// (AWAITING_BEGIN -> IN_SNAPSHOT -> DONE) fed by logbuffer.Image.ControlledPoll.
//
// Container hosts the client sessions and sequences a full snapshot:
// BEGIN, every session, END, then the application payload. FSM adapts a
// Container to hashicorp/raft so raft snapshots are container snapshots.
package service
