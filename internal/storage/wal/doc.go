// Package wal stores cluster message streams in checksummed segment files.
//
// A Writer is a durable logbuffer.Publication and a Reader replays the
// same frames as a logbuffer.Image, so snapshot takers and loaders run
// unchanged against disk.
//
// Features:
//
//   - Batched Writes: Configurable batch size and sync interval
//   - File Rotation: Automatic rotation at configurable file sizes
//   - Verification: SHA-256 trailer on every finalized segment
//   - Compaction: Removal of segments preceding a writer offset
//   - Encryption: Optional AEAD sealing of each payload (Config.Cipher)
//
// Format:
//
//	wal-<segment-id>.log
//	[magic:8 "CSNAPWAL"]
//	[Frame]*
//	[checksum:32 SHA-256 of all bytes above] (absent on the active segment)
//
// Frame wire format:
//
//	[Length:4][CRC32:4][Payload:Length]
//
// Where:
//   - Length is the payload length (big-endian uint32)
//   - CRC32 covers the payload (IEEE)
//   - Payload is one encoded cluster message, or when sealed,
//     nonce || ciphertext || tag with the frame's stream offset as
//     associated data
package wal
