package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const defaultMaxAttempts = 5

// Memory is an in-process Store with the same transaction semantics as the
// hosted document database: per-document version counters, versioned reads,
// buffered writes, and commit-time validation of every read version.
type Memory struct {
	mu          sync.Mutex
	docs        map[Key]record
	maxAttempts int
}

type record struct {
	data    []byte
	version uint64
}

type Option func(*Memory)

// WithMaxAttempts bounds how often RunTransaction reruns a conflicting
// transaction before giving up with ErrConflict.
func WithMaxAttempts(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		docs:        make(map[Key]record),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tx is one in-flight transaction: read versions recorded per key, writes
// buffered until commit. It is not safe for concurrent use by multiple
// goroutines, matching the hosted client's contract.
type Tx struct {
	store  *Memory
	reads  map[Key]uint64
	writes []bufferedWrite
}

type bufferedWrite struct {
	key  Key
	data []byte
}

func (m *Memory) Get(ctx context.Context, key Key, dst any) error {
	if tx := txFrom(ctx); tx != nil {
		return tx.get(key, dst)
	}

	m.mu.Lock()
	rec, ok := m.docs[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(rec.data, dst)
}

func (m *Memory) Set(ctx context.Context, key Key, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s/%s: %w", key.Collection, key.ID, err)
	}

	if tx := txFrom(ctx); tx != nil {
		tx.writes = append(tx.writes, bufferedWrite{key: key, data: data})
		return nil
	}

	m.mu.Lock()
	rec := m.docs[key]
	m.docs[key] = record{data: data, version: rec.version + 1}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Create(ctx context.Context, key Key, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s/%s: %w", key.Collection, key.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; ok {
		return ErrExists
	}
	m.docs[key] = record{data: data, version: 1}
	return nil
}

// RunTransaction reruns fn from scratch on commit conflicts, with jittered
// backoff between attempts. A conflicting transaction never resumes: all of
// its reads are discarded.
func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &Tx{store: m, reads: make(map[Key]uint64)}
		if err := fn(withTx(ctx, tx)); err != nil {
			return err
		}
		if tx.commit() {
			return nil
		}

		backoff(attempt)
	}
	return fmt.Errorf("%w: retries exhausted after %d attempts", ErrConflict, m.maxAttempts)
}

// get records the version of the document at key (0 when absent, so a
// concurrent create still conflicts) and unmarshals it into dst. Reads are
// rejected once any write is buffered.
func (tx *Tx) get(key Key, dst any) error {
	if len(tx.writes) > 0 {
		return ErrReadAfterWrite
	}

	tx.store.mu.Lock()
	rec, ok := tx.store.docs[key]
	tx.store.mu.Unlock()

	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = rec.version
	}
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(rec.data, dst)
}

// commit validates every read version under the store lock and applies the
// buffered writes atomically. It reports false when a concurrent commit
// invalidated a read.
func (tx *Tx) commit() bool {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for key, version := range tx.reads {
		if tx.store.docs[key].version != version {
			return false
		}
	}
	for _, w := range tx.writes {
		rec := tx.store.docs[w.key]
		tx.store.docs[w.key] = record{data: w.data, version: rec.version + 1}
	}
	return true
}

func backoff(attempt int) {
	base := time.Millisecond << uint(attempt)
	time.Sleep(base + time.Duration(rand.Int63n(int64(time.Millisecond))))
}
