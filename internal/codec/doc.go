// Package codec encodes and decodes the cluster snapshot wire messages.
//
// Every message starts with an 8 byte envelope followed by a fixed block
// of BlockLength bytes and optional variable-length fields:
//
//	[schemaId:2][templateId:2][blockLength:2][version:2]
//	[block:blockLength]
//	[varData...]   each field is [length:4][bytes:length]
//
// All integers are little-endian.
//
// Messages:
//
//   - SnapshotMarker (template 100): BEGIN/END boundary of a snapshot
//   - ClientSession (template 102): one persisted client session
//
// Decoders honour the acting BlockLength and Version of the envelope.
// Fields appended by a newer producer are skipped; fields an older
// producer did not write decode as their null value.
package codec
