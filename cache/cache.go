package cache

import (
	"context"
	"fmt"
	"regexp"
)

// AnyPartition makes Match search every partition in creation order.
const AnyPartition = ""

// Kind names the role of a partition.
type Kind string

// Partition kinds.
const (
	// KindStatic holds the application shell and same-origin assets.
	// It is rebuilt on every deployment.
	KindStatic Kind = "static"

	// KindRuntime accumulates dynamically fetched resources.
	KindRuntime Kind = "runtime"
)

// Store provides partitioned storage of response snapshots.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Open creates the partition if it does not exist.
	// Opening an existing partition is a no-op.
	Open(ctx context.Context, partition string) error

	// Match returns the snapshot stored for id in partition.
	// When partition is AnyPartition, partitions are searched in creation
	// order and the first match wins.
	Match(ctx context.Context, partition string, id Identity) (Snapshot, bool, error)

	// Put stores snap for id, replacing any existing entry.
	// The partition is created if needed. Returns ErrNotCacheable when id is
	// not a GET or snap is not a 2xx response.
	Put(ctx context.Context, partition string, id Identity, snap Snapshot) error

	// Identities lists the identities stored in partition.
	// A missing partition yields an empty list.
	Identities(ctx context.Context, partition string) ([]Identity, error)

	// Partitions lists partition names in creation order.
	Partitions(ctx context.Context) ([]string, error)

	// DeletePartition removes the partition and all of its entries.
	// It reports whether the partition existed.
	DeletePartition(ctx context.Context, name string) (bool, error)
}

var partitionPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// PartitionName returns the partition name for kind at version.
func PartitionName(kind Kind, version string) string {
	return string(kind) + "-" + version
}

// ValidatePartition checks that name is usable as a partition name.
// Names are restricted so they can double as directory names.
func ValidatePartition(name string) error {
	if name == "" || name == "." || name == ".." || !partitionPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return nil
}

// CheckPut validates a Put call. Store implementations call it before writing.
func CheckPut(partition string, id Identity, snap Snapshot) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if !id.Cacheable() {
		return fmt.Errorf("%w: method %s", ErrNotCacheable, id.Method)
	}
	if !snap.OK() {
		return fmt.Errorf("%w: status %d", ErrNotCacheable, snap.Status)
	}
	return nil
}
