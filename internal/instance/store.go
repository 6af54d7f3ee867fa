// Package instance implements cross-invocation coordination for the
// plugin: a persistent ledger of running and queued invocations, a report
// cache keyed by host, and the admission logic that bounds how many
// invocations talk to the scan manager at once.
//
// Every monitoring check is a separate short-lived OS process. Processes
// share nothing but the store file and OS signals: an invocation past the
// configured limit is recorded as pending and frozen with SIGSTOP until a
// terminating invocation flips its row and sends SIGCONT.
package instance

import (
	"context"
	"errors"
)

// ErrNoEntry reports a cache lookup for a host with no stored report.
var ErrNoEntry = errors.New("instance: no such entry")

// Entry is one row of the invocation ledger.
type Entry struct {
	// CreatedAt is the registration timestamp (RFC 3339 with nanoseconds).
	// It is the ordering key: pending entries are resumed oldest first.
	CreatedAt string
	PID       int
	Pending   bool
}

// Ledger is the set of invocation-ledger operations. It is implemented both
// by the store itself (each call its own transaction) and by the
// transaction handle passed to Update.
type Ledger interface {
	// AddEntry records an invocation and returns its created_at key.
	AddEntry(ctx context.Context, pid int, pending bool) (string, error)

	// CountEntries returns the number of entries with the given pending state.
	CountEntries(ctx context.Context, pending bool) (int, error)

	// OldestPending returns up to n pending entries, oldest first.
	OldestPending(ctx context.Context, n int) ([]Entry, error)

	// SetPending updates the pending state of the entry keyed by createdAt.
	SetPending(ctx context.Context, createdAt string, pending bool) error

	// DeleteEntry removes the entry for pid. Deleting an absent entry is a
	// no-op, which makes session teardown idempotent.
	DeleteEntry(ctx context.Context, pid int) error

	// ListPIDs returns the pids of all entries, pending or not.
	ListPIDs(ctx context.Context) ([]int, error)
}

// Store is the persistent state shared by all invocations.
type Store interface {
	Ledger

	// Update runs fn inside a single write transaction. The admission
	// decision is a read-then-write sequence; racing invocations must not
	// both observe the last free slot, so the whole decision runs here.
	Update(ctx context.Context, fn func(tx Ledger) error) error

	// IsStale reports whether the cached report for host, if any, can
	// serve a request with the given remote scan end and parameter
	// fingerprint. A stale entry is deleted before returning true, so a
	// following StoreReport never conflicts.
	IsStale(ctx context.Context, host, scanEnd, params string) (bool, error)

	// LoadReport returns the cached payload for host, or ErrNoEntry.
	LoadReport(ctx context.Context, host string) ([]byte, error)

	// StoreReport caches a freshly fetched report payload for host.
	StoreReport(ctx context.Context, host, scanEnd, params string, payload []byte) error

	// EvictHost removes the cached report for host and compacts the store.
	EvictHost(ctx context.Context, host string) error

	// EvictOlderThan removes cached reports whose scan end predates now
	// minus the given number of days, compacts the store, and returns the
	// number of removed entries.
	EvictOlderThan(ctx context.Context, days int) (int64, error)

	Close() error
}
