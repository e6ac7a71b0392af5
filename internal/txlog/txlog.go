// Package txlog implements the replica's write-ahead transaction log: an
// append-only, durable record of 2PC events used to recover the last
// in-flight transaction after a crash (§4.6).
//
// One file per entry, "<id>.log" with id dense from 0, laid out as
// 4 bytes type, 4 bytes length, then length bytes of data — a PUT/DEL
// record's data is "key\0value\0" or "key\0"; COMMIT/ABORT carry none.
package txlog

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
)

// Type is one of the four accepted log record kinds.
type Type uint8

const (
	Put Type = iota + 1
	Del
	Commit
	Abort
)

func (t Type) valid() bool { return t >= Put && t <= Abort }

func (t Type) String() string {
	switch t {
	case Put:
		return "PUT"
	case Del:
		return "DEL"
	case Commit:
		return "COMMIT"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Entry is one decoded log record.
type Entry struct {
	Key   []byte
	Value []byte
	Type  Type
	ID    int
}

const logSuffix = ".log"

// Log is a directory-backed, append-only, densely-numbered sequence of
// transaction records. A single RWMutex guards it, matching §5's "each
// log owns its rw-lock" policy.
type Log struct {
	log    zerolog.Logger
	dir    string
	mu     sync.RWMutex
	nextID int
}

// Open prepares the log rooted at dir, creating it if necessary, and
// computes nextID by scanning densely from 0 until the first gap.
func Open(dir string, log zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, kverr.Wrap(kverr.KindFileAccess, err)
	}
	l := &Log{dir: dir, log: log}
	id := 0
	for {
		if _, err := os.Stat(l.path(id)); os.IsNotExist(err) {
			break
		}
		id++
	}
	l.nextID = id
	return l, nil
}

func (l *Log) path(id int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%d%s", id, logSuffix))
}

// Append writes a new entry of the given type, flushing and syncing it
// before returning, so that a crash right after Append returns still has
// the entry durable on disk (§4.6). key/value are required for PUT, key
// only for DEL, and must be nil for COMMIT/ABORT.
func (l *Log) Append(t Type, key, value []byte) error {
	if !t.valid() {
		return kverr.New(kverr.KindInvalidMsg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var data []byte
	switch t {
	case Put:
		data = make([]byte, 0, len(key)+len(value)+2)
		data = append(data, key...)
		data = append(data, 0)
		data = append(data, value...)
		data = append(data, 0)
	case Del:
		data = make([]byte, 0, len(key)+1)
		data = append(data, key...)
		data = append(data, 0)
	case Commit, Abort:
		data = nil
	}

	buf := make([]byte, 8+len(data))
	binary.NativeEndian.PutUint32(buf[0:4], uint32(t))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)

	id := l.nextID
	if err := atomic.WriteFile(l.path(id), bytes.NewReader(buf)); err != nil {
		return kverr.Wrap(kverr.KindFileCreate, err)
	}
	l.nextID++
	return nil
}

// All reads every entry currently on disk in ascending id order (oldest
// first), for recovery and for tests. It is equivalent to driving
// Iterator to exhaustion.
func (l *Log) All() ([]Entry, error) {
	it := l.Iterator()
	var entries []Entry
	for it.HasNext() {
		e, err := it.Next()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Iterator walks the log's entries in ascending id order.
type Iterator struct {
	l   *Log
	pos int
}

// Iterator returns a fresh iterator positioned before the first entry.
func (l *Log) Iterator() *Iterator {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Iterator{l: l}
}

// HasNext reports whether another entry remains to be read.
func (it *Iterator) HasNext() bool {
	it.l.mu.RLock()
	defer it.l.mu.RUnlock()
	return it.pos < it.l.nextID
}

// Next decodes and returns the next entry, advancing the iterator.
func (it *Iterator) Next() (Entry, error) {
	it.l.mu.RLock()
	defer it.l.mu.RUnlock()

	if it.pos >= it.l.nextID {
		return Entry{}, kverr.New(kverr.KindNoKey)
	}
	id := it.pos
	it.pos++
	return readEntry(it.l.path(id), id)
}

func readEntry(path string, id int) (Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, kverr.Wrap(kverr.KindFileAccess, err)
	}
	if len(raw) < 8 {
		return Entry{}, kverr.New(kverr.KindFileAccess)
	}
	t := Type(binary.NativeEndian.Uint32(raw[0:4]))
	l := binary.NativeEndian.Uint32(raw[4:8])
	data := raw[8:]
	if uint32(len(data)) != l || !t.valid() {
		return Entry{}, kverr.New(kverr.KindFileAccess)
	}

	e := Entry{Type: t, ID: id}
	switch t {
	case Put:
		nul := bytes.IndexByte(data, 0)
		if nul < 0 || len(data) == 0 || data[len(data)-1] != 0 {
			return Entry{}, kverr.New(kverr.KindFileAccess)
		}
		e.Key = append([]byte(nil), data[:nul]...)
		e.Value = append([]byte(nil), data[nul+1:len(data)-1]...)
	case Del:
		if len(data) == 0 || data[len(data)-1] != 0 {
			return Entry{}, kverr.New(kverr.KindFileAccess)
		}
		e.Key = append([]byte(nil), data[:len(data)-1]...)
	}
	return e, nil
}

// Clear removes every entry and resets nextID to 0. Callers must be
// certain recovery from the cleared entries is no longer needed (§4.6).
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return kverr.Wrap(kverr.KindFileAccess, err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != logSuffix {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil {
			return kverr.Wrap(kverr.KindFileAccess, err)
		}
	}
	l.nextID = 0
	return nil
}
