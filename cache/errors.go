package cache

import "errors"

var (
	// ErrNotCacheable is returned when a request or response may not be stored.
	// Only GET requests with 2xx responses are cacheable.
	ErrNotCacheable = errors.New("cache: not cacheable")

	// ErrInvalidPartition is returned for malformed partition names.
	ErrInvalidPartition = errors.New("cache: invalid partition name")

	// ErrInvalidIdentity is returned when a request URL cannot be normalized.
	ErrInvalidIdentity = errors.New("cache: invalid request identity")
)
