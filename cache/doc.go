// Package cache defines the partitioned response store used by the gateway.
//
// A store holds named partitions. Each partition maps a request [Identity]
// (method plus normalized URL) to a [Snapshot] of a successful response.
// Only GET identities and 2xx snapshots are ever stored; every [Store]
// implementation enforces this in Put and returns [ErrNotCacheable] otherwise.
//
// Partitions are named "<kind>-<version>" (see [PartitionName]). The gateway
// keeps exactly one static and one runtime partition current and deletes the
// rest on activation.
//
// # Backends
//
//   - [github.com/meigma/gateway/cache/memory]: in-process maps, lost on exit
//   - [github.com/meigma/gateway/cache/disk]: one directory per partition
//   - [github.com/meigma/gateway/cache/sqlite]: a single sqlite database
//
// All backends are safe for concurrent use. Concurrent writes to the same
// identity are last-writer-wins.
package cache
