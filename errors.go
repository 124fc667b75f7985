package gateway

import "errors"

var (
	// ErrInstallFailed is returned when a core asset cannot be fetched or
	// stored during installation. The instance becomes redundant.
	ErrInstallFailed = errors.New("gateway: install failed")

	// ErrActivateFailed is returned when stale partitions cannot be evicted.
	ErrActivateFailed = errors.New("gateway: activate failed")

	// ErrInvalidState is returned when a lifecycle step is attempted out of order.
	ErrInvalidState = errors.New("gateway: invalid lifecycle state")

	// ErrInvalidVersion is returned when a version tag cannot form a partition name.
	ErrInvalidVersion = errors.New("gateway: invalid version")

	// ErrInvalidOrigin is returned when the application origin is not an absolute URL.
	ErrInvalidOrigin = errors.New("gateway: invalid origin")
)
