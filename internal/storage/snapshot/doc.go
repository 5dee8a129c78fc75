// Package snapshot manages snapshot recordings on disk.
//
// Each recording is a directory of WAL segments holding the snapshot
// message stream exactly as a SnapshotTaker wrote it:
//
//	<dir>/<ulid>/wal-00000001.log
//	<dir>/<ulid>/wal-00000002.log
//	...
//
// A recording becomes visible only when Complete registers it in the
// catalog. Directories without a catalog entry are leftovers of an
// interrupted snapshot and are removed by CleanupOrphans.
//
// With Config.Encryption set, each recording is sealed under a key derived
// from the configured key or passphrase and a per-recording salt. The
// catalog entry keeps the salt and algorithm, never the key.
package snapshot
