// Package store implements the replica's persistent key-value store: one
// file per live entry, named "<hash(key)>-<chain>.entry" inside a
// per-replica directory, with collision chains kept dense by moving the
// last chain member into a vacated slot on delete.
//
// A single RWMutex guards the whole store (§5 "Shared-resource policy":
// no lock spans store + cache, and the store has exactly one lock). Reads
// walk a chain under RLock; writes (which may rename or create files) take
// the full Lock.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"

	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/metrics"
)

const (
	// DefaultKeyMax is K_MAX from the design's defaults.
	DefaultKeyMax = 1024
	// DefaultValueMax is V_MAX from the design's defaults.
	DefaultValueMax = 1024

	entrySuffix = ".entry"
	dirPerm     = 0o700
)

// Store is a directory-backed, hash-chained key-value store.
type Store struct {
	log     zerolog.Logger
	metrics metrics.Sink
	dir     string
	mu      sync.RWMutex
	keyMax  int
	valMax  int
}

// Open prepares the store rooted at dir, creating it (mode 0700) if it
// does not already exist. keyMax/valMax of 0 fall back to the design's
// defaults.
func Open(dir string, keyMax, valMax int, sink metrics.Sink, log zerolog.Logger) (*Store, error) {
	if keyMax <= 0 {
		keyMax = DefaultKeyMax
	}
	if valMax <= 0 {
		valMax = DefaultValueMax
	}
	if sink == nil {
		sink = metrics.Noop
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, kverr.Wrap(kverr.KindFileAccess, err)
	}
	return &Store{dir: dir, keyMax: keyMax, valMax: valMax, metrics: sink, log: log}, nil
}

// KeyMax and ValMax report the length limits this store was opened with,
// so callers that validate before a 2PC vote stay in sync with them.
func (s *Store) KeyMax() int { return s.keyMax }
func (s *Store) ValMax() int { return s.valMax }

func (s *Store) validate(key, value []byte) error {
	if len(key) == 0 || len(key) > s.keyMax {
		return kverr.New(kverr.KindKeyLen)
	}
	if value != nil && len(value) > s.valMax {
		return kverr.New(kverr.KindValLen)
	}
	return nil
}

func (s *Store) entryPath(hash uint64, chain int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d-%d%s", hash, chain, entrySuffix))
}

// chainLength returns the number of dense entries currently filed under
// hash, i.e. the first chain position that does not exist on disk.
func (s *Store) chainLength(hash uint64) (int, error) {
	for chain := 0; ; chain++ {
		_, err := os.Stat(s.entryPath(hash, chain))
		if os.IsNotExist(err) {
			return chain, nil
		}
		if err != nil {
			return 0, kverr.Wrap(kverr.KindFileAccess, err)
		}
	}
}

// findInChain scans the dense chain for hash looking for key, returning
// its position and true, or chainLength(hash) (the first free slot) and
// false if absent.
func (s *Store) findInChain(hash uint64, key []byte) (pos int, found bool, err error) {
	for chain := 0; ; chain++ {
		path := s.entryPath(hash, chain)
		k, _, readErr := readEntry(path)
		if os.IsNotExist(readErr) {
			return chain, false, nil
		}
		if readErr != nil {
			return 0, false, readErr
		}
		if string(k) == string(key) {
			return chain, true, nil
		}
	}
}

// Get returns the value stored for key, or a KindNoKey error if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	if err := s.validate(key, nil); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hash := djb2(key)
	pos, found, err := s.findInChain(hash, key)
	s.metrics.IncStoreOp("get")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, kverr.New(kverr.KindNoKey)
	}
	_, value, err := readEntry(s.entryPath(hash, pos))
	if err != nil {
		return nil, err
	}
	return value, nil
}

// HasKey reports whether key currently exists in the store.
func (s *Store) HasKey(key []byte) bool {
	if err := s.validate(key, nil); err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash := djb2(key)
	_, found, err := s.findInChain(hash, key)
	return err == nil && found
}

// Put creates or updates the entry for key, writing in place at its
// existing chain position or appending at the first free position.
func (s *Store) Put(key, value []byte) error {
	if err := s.validate(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := djb2(key)
	pos, _, err := s.findInChain(hash, key)
	if err != nil {
		return err
	}
	s.metrics.IncStoreOp("put")
	return writeEntry(s.entryPath(hash, pos), key, value)
}

// Delete removes key's entry, compacting its chain by moving the chain's
// last member into the vacated slot. Returns a KindNoKey error if key is
// absent (idempotent from the caller's point of view: the store is left
// unchanged either way).
func (s *Store) Delete(key []byte) error {
	if err := s.validate(key, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := djb2(key)
	pos, found, err := s.findInChain(hash, key)
	if err != nil {
		return err
	}
	s.metrics.IncStoreOp("del")
	if !found {
		return kverr.New(kverr.KindNoKey)
	}

	last, err := s.chainLength(hash)
	if err != nil {
		return err
	}
	last--

	targetPath := s.entryPath(hash, pos)
	if pos == last {
		if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
			return kverr.Wrap(kverr.KindFileAccess, err)
		}
		return nil
	}

	lastPath := s.entryPath(hash, last)
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return kverr.Wrap(kverr.KindFileAccess, err)
	}
	if err := os.Rename(lastPath, targetPath); err != nil {
		return kverr.Wrap(kverr.KindFileAccess, err)
	}
	return nil
}

// Clean removes every entry from the store, leaving the directory itself
// in place. Used by tests and by a from-scratch server bring-up.
func (s *Store) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return kverr.Wrap(kverr.KindFileAccess, err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != entrySuffix {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return kverr.Wrap(kverr.KindFileAccess, err)
		}
	}
	return nil
}

// readEntry parses the on-disk payload: a 4-byte host-endian length L
// followed by L bytes of "key\0value\0". The returned error is the raw
// os.Stat/os.Open error (check with os.IsNotExist) so callers can
// distinguish "missing chain slot" from real I/O failure.
func readEntry(path string) (key, value []byte, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) < 4 {
		return nil, nil, kverr.New(kverr.KindFileAccess)
	}
	l := binary.NativeEndian.Uint32(raw[:4])
	payload := raw[4:]
	if uint32(len(payload)) != l {
		return nil, nil, kverr.New(kverr.KindFileAccess)
	}
	return splitPayload(payload)
}

func splitPayload(payload []byte) (key, value []byte, err error) {
	nul := -1
	for i, b := range payload {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 || len(payload) == 0 || payload[len(payload)-1] != 0 {
		return nil, nil, kverr.New(kverr.KindFileAccess)
	}
	key = append([]byte(nil), payload[:nul]...)
	value = append([]byte(nil), payload[nul+1:len(payload)-1]...)
	return key, value, nil
}

func writeEntry(path string, key, value []byte) error {
	payload := make([]byte, 0, len(key)+len(value)+2)
	payload = append(payload, key...)
	payload = append(payload, 0)
	payload = append(payload, value...)
	payload = append(payload, 0)

	buf := make([]byte, 4+len(payload))
	binary.NativeEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	// atomic.WriteFile writes to a temp file in the same directory, syncs
	// it, and renames over path, so a crash never leaves a half-written
	// or missing entry file behind.
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return kverr.Wrap(kverr.KindFileCreate, err)
	}
	return nil
}
