// Package disk provides a disk-backed cache.Store.
//
// Each partition is a directory under the store root. Entries are stored as
// one file per identity, sharded by a prefix of the identity digest:
//
//	<root>/<partition>/.partition          creation sequence marker
//	<root>/<partition>/<hex[:2]>/<hex>     FlatBuffers record
//
// Writes go to a temp file in the shard directory and are renamed into place,
// so readers never observe a partially written record.
package disk

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/gateway/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultFilePerm       = 0o600

	// compressMinSize is the smallest body worth compressing.
	compressMinSize = 256

	markerName = ".partition"
)

// Store implements cache.Store using the local filesystem.
// The store is safe for concurrent use.
type Store struct {
	dir            string      // root directory holding partition directories
	shardPrefixLen int         // number of hex chars for subdirectory sharding
	dirPerm        os.FileMode // permissions for created directories
	maxBytes       int64       // per-partition size limit (0 = unlimited)
	compress       bool        // zstd-compress record bodies

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// mu is held for reading by every entry operation and for writing by
	// DeletePartition, so a partition never disappears mid-write.
	mu       sync.RWMutex
	createMu sync.Mutex // serializes partition creation and guards seq/sizes
	seq      int64
	sizes    map[string]*atomic.Int64
	pruneMu  sync.Mutex
}

// Interface compliance.
var _ cache.Store = (*Store)(nil)

// Option configures a disk store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for partition directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithMaxBytes caps the size of each partition in bytes.
// When a write would exceed the cap, the oldest entries of that partition are
// pruned first. Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// WithCompression enables or disables zstd compression of record bodies.
// Enabled by default.
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compress = enabled
	}
}

// New creates a disk-backed store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		compress:       true,
		sizes:          make(map[string]*atomic.Int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if s.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	s.encoder = enc
	s.decoder = dec

	parts, err := s.scanPartitions()
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.seq > s.seq {
			s.seq = p.seq
		}
		size, err := dirSize(s.partitionDir(p.name))
		if err != nil {
			return nil, err
		}
		counter := &atomic.Int64{}
		counter.Store(size)
		s.sizes[p.name] = counter
	}
	return s, nil
}

// Close releases the zstd decoder. The store must not be used afterwards.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Open implements cache.Store.
func (s *Store) Open(_ context.Context, partition string) error {
	if err := cache.ValidatePartition(partition); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ensurePartition(partition)
}

// Match implements cache.Store.
func (s *Store) Match(_ context.Context, partition string, id cache.Identity) (cache.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	if partition == cache.AnyPartition {
		parts, err := s.scanPartitions()
		if err != nil {
			return cache.Snapshot{}, false, err
		}
		for _, p := range parts {
			names = append(names, p.name)
		}
	} else {
		if err := cache.ValidatePartition(partition); err != nil {
			return cache.Snapshot{}, false, err
		}
		names = []string{partition}
	}

	for _, name := range names {
		snap, ok, err := s.read(name, id)
		if err != nil {
			return cache.Snapshot{}, false, err
		}
		if ok {
			return snap, true, nil
		}
	}
	return cache.Snapshot{}, false, nil
}

// Put implements cache.Store.
func (s *Store) Put(_ context.Context, partition string, id cache.Identity, snap cache.Snapshot) error {
	if err := cache.CheckPut(partition, id, snap); err != nil {
		return err
	}
	data, err := s.encode(id, snap)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensurePartition(partition); err != nil {
		return err
	}
	return s.write(partition, id, data)
}

// Identities implements cache.Store.
func (s *Store) Identities(_ context.Context, partition string) ([]cache.Identity, error) {
	if err := cache.ValidatePartition(partition); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := recordFiles(s.partitionDir(partition))
	if err != nil {
		return nil, err
	}
	ids := make([]cache.Identity, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path) //nolint:gosec // path is derived from the store root
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		r, err := decodeRecord(data)
		if err != nil {
			continue
		}
		ids = append(ids, r.id)
	}
	slices.SortFunc(ids, func(a, b cache.Identity) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return ids, nil
}

// Partitions implements cache.Store.
func (s *Store) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts, err := s.scanPartitions()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.name
	}
	return names, nil
}

// DeletePartition implements cache.Store.
func (s *Store) DeletePartition(_ context.Context, name string) (bool, error) {
	if err := cache.ValidatePartition(name); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.partitionDir(name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	s.createMu.Lock()
	delete(s.sizes, name)
	s.createMu.Unlock()
	return true, nil
}

// MaxBytes returns the configured per-partition size limit (0 = unlimited).
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// SizeBytes returns the current size of partition in bytes.
func (s *Store) SizeBytes(partition string) int64 {
	s.createMu.Lock()
	counter := s.sizes[partition]
	s.createMu.Unlock()
	if counter == nil {
		return 0
	}
	return counter.Load()
}

// Prune removes the oldest entries of partition until it is at or below
// targetBytes. Returns the number of bytes freed.
func (s *Store) Prune(partition string, targetBytes int64) (int64, error) {
	if err := cache.ValidatePartition(partition); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prune(partition, targetBytes)
}

func (s *Store) prune(partition string, targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	freed, remaining, err := pruneDir(s.partitionDir(partition), targetBytes)
	if err != nil {
		return 0, err
	}
	s.counter(partition).Store(remaining)
	return freed, nil
}

func (s *Store) encode(id cache.Identity, snap cache.Snapshot) ([]byte, error) {
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	r := record{
		id:       id,
		status:   snap.Status,
		header:   snap.Header,
		storedAt: storedAt,
		body:     snap.Body,
	}
	if s.compress && len(snap.Body) >= compressMinSize {
		r.body = s.encoder.EncodeAll(snap.Body, make([]byte, 0, len(snap.Body)/2))
		r.compression = compressionZstd
	}
	return encodeRecord(r), nil
}

func (s *Store) read(partition string, id cache.Identity) (cache.Snapshot, bool, error) {
	path, err := s.path(partition, id)
	if err != nil {
		return cache.Snapshot{}, false, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the identity digest
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cache.Snapshot{}, false, nil
		}
		return cache.Snapshot{}, false, err
	}
	r, err := decodeRecord(data)
	if err != nil {
		return cache.Snapshot{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	if r.id != id {
		// Digest collision or stale shard layout; treat as a miss.
		return cache.Snapshot{}, false, nil
	}
	body := r.body
	switch r.compression {
	case compressionNone:
	case compressionZstd:
		body, err = s.decoder.DecodeAll(r.body, nil)
		if err != nil {
			return cache.Snapshot{}, false, fmt.Errorf("decompress %s: %w", path, err)
		}
	default:
		return cache.Snapshot{}, false, fmt.Errorf("read %s: unknown compression %d", path, r.compression)
	}
	return cache.Snapshot{
		Status:   r.status,
		Header:   r.header,
		Body:     body,
		StoredAt: r.storedAt,
	}, true, nil
}

func (s *Store) write(partition string, id cache.Identity, data []byte) error {
	path, err := s.path(partition, id)
	if err != nil {
		return err
	}
	size := int64(len(data))
	if ok, err := s.ensureCapacity(partition, size); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("entry of %d bytes exceeds partition limit of %d bytes", size, s.maxBytes)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	var previous int64
	if info, statErr := os.Stat(path); statErr == nil {
		previous = info.Size()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	s.counter(partition).Add(size - previous)
	return nil
}

func (s *Store) ensureCapacity(partition string, need int64) (bool, error) {
	if s.maxBytes <= 0 {
		return true, nil
	}
	if need > s.maxBytes {
		return false, nil
	}
	if s.counter(partition).Load()+need <= s.maxBytes {
		return true, nil
	}
	if _, err := s.prune(partition, s.maxBytes-need); err != nil {
		return false, err
	}
	return s.counter(partition).Load()+need <= s.maxBytes, nil
}

// ensurePartition creates the partition directory and marker if missing.
// Callers hold s.mu for reading.
func (s *Store) ensurePartition(partition string) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	marker := filepath.Join(s.partitionDir(partition), markerName)
	if _, err := os.Stat(marker); err == nil {
		if s.sizes[partition] == nil {
			s.sizes[partition] = &atomic.Int64{}
		}
		return nil
	}
	if err := os.MkdirAll(s.partitionDir(partition), s.dirPerm); err != nil {
		return err
	}
	next := time.Now().UnixNano()
	if next <= s.seq {
		next = s.seq + 1
	}
	if err := os.WriteFile(marker, []byte(strconv.FormatInt(next, 10)), defaultFilePerm); err != nil {
		return err
	}
	s.seq = next
	if s.sizes[partition] == nil {
		s.sizes[partition] = &atomic.Int64{}
	}
	return nil
}

func (s *Store) counter(partition string) *atomic.Int64 {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	c := s.sizes[partition]
	if c == nil {
		c = &atomic.Int64{}
		s.sizes[partition] = c
	}
	return c
}

type partitionInfo struct {
	name string
	seq  int64
}

// scanPartitions lists partitions ordered by creation sequence.
func (s *Store) scanPartitions() ([]partitionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	parts := make([]partitionInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || cache.ValidatePartition(e.Name()) != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name(), markerName)) //nolint:gosec // path is derived from the store root
		if err != nil {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			continue
		}
		parts = append(parts, partitionInfo{name: e.Name(), seq: seq})
	}
	slices.SortFunc(parts, func(a, b partitionInfo) int {
		if c := cmp.Compare(a.seq, b.seq); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	return parts, nil
}

func (s *Store) partitionDir(partition string) string {
	return filepath.Join(s.dir, partition)
}

func (s *Store) path(partition string, id cache.Identity) (string, error) {
	d := id.Digest()
	if err := d.Validate(); err != nil {
		return "", err
	}
	hexHash := d.Encoded()
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.partitionDir(partition), hexHash), nil
	}
	prefixLen := min(s.shardPrefixLen, len(hexHash))
	return filepath.Join(s.partitionDir(partition), hexHash[:prefixLen], hexHash), nil
}
