// Package docstore provides the transactional document store the order and
// inventory repositories persist into. The transaction model mirrors the
// hosted document database the service deploys against: optimistic
// concurrency, all-or-nothing commits, and a hard all-reads-before-writes
// rule inside a transaction.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists is returned by Create when the document already exists.
	ErrExists = errors.New("docstore: document already exists")
	// ErrConflict is returned when a transaction lost the optimistic
	// concurrency race and retries are exhausted.
	ErrConflict = errors.New("docstore: transaction conflict")
	// ErrReadAfterWrite is returned when a transaction issues a read after
	// buffering a write. The store rejects such transactions; it cannot
	// validate them for conflicts.
	ErrReadAfterWrite = errors.New("docstore: reads must precede all writes in a transaction")
)

// Key addresses one document inside a collection.
type Key struct {
	Collection string
	ID         string
}

// Store is the persistence port. Get and Set are transaction-aware: when the
// context carries an active transaction (see RunTransaction), Get becomes a
// versioned read and Set a buffered write; outside a transaction they act
// directly on committed state.
type Store interface {
	// Get unmarshals the document at key into dst.
	Get(ctx context.Context, key Key, dst any) error
	// Set writes the document at key, creating it if absent.
	Set(ctx context.Context, key Key, val any) error
	// Create writes the document only if it does not exist yet.
	Create(ctx context.Context, key Key, val any) error
	// RunTransaction executes fn inside a transaction carried in fn's
	// context. The transaction commits atomically when fn returns nil; any
	// error from fn aborts it with no writes applied. Commit-time version
	// conflicts rerun fn from scratch up to a bounded attempt count, after
	// which ErrConflict is returned.
	RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) *Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// InTransaction reports whether the context carries an active transaction.
// Callers with a must-be-transactional contract can assert it.
func InTransaction(ctx context.Context) bool {
	return txFrom(ctx) != nil
}
