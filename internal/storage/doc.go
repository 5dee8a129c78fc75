// Package storage provides the snapshot catalog and its embedded KV engine.
//
// Snapshot recordings live on disk as WAL segments (package wal) managed
// by package snapshot. This package keeps the index over them:
//
//   - KVEngine: embedded key-value storage, implemented by BadgerEngine
//   - Catalog: CatalogEntry records keyed by log position so a prefix
//     scan returns recordings oldest first
package storage
