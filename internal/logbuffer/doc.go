// Package logbuffer provides the append channel and log segment
// abstractions the snapshot protocol is written against.
//
//   - Publication: non-blocking, zero-copy append via TryClaim/BufferClaim
//   - Image: bounded, ordered consumption via ControlledPoll
//   - Log: an in-memory single-writer log with a flow-control window
//   - StreamPublication/StreamImage: the same frames over an io.Writer
//     or a byte slice, used to move snapshots through raft sinks
//
// Frame format (8 byte aligned):
//
//	[length:4][type:4][payload:length][padding]
//
// Positions count aligned frame bytes from the start of the stream.
package logbuffer
