package instance

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
	ledger
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// scanEndLayouts are the timestamp formats the scan manager is known to
// emit for scan_end values.
var scanEndLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// Open connects to the store at path, creating the schema on first use.
// Use ":memory:" for testing. Concurrent invocations open the same file;
// SQLite's file locking serializes conflicting writes, and busy_timeout
// makes a blocked writer wait instead of failing.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("instance: create store directory: %w", err)
		}
		dsn = "file:" + path +
			"?_txlock=immediate" +
			"&_pragma=busy_timeout(10000)" +
			"&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("instance: open store: %w", err)
	}

	// One invocation, one connection. This also keeps ":memory:" stores
	// coherent, since each pooled connection would otherwise get its own
	// private in-memory database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("instance: ping store: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS Report(
			host        TEXT,
			scan_end    TEXT,
			params_used TEXT,
			report      BLOB
		);
		CREATE TABLE IF NOT EXISTS Instance(
			created_at TEXT,
			pid        INTEGER,
			pending    INTEGER DEFAULT 0
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("instance: create schema: %w", err)
	}

	return &SQLiteStore{db: db, ledger: ledger{q: db}}, nil
}

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ledger implements Ledger over either the connection (autocommit) or an
// open transaction.
type ledger struct {
	q queryer
}

var _ Ledger = ledger{}

func (l ledger) AddEntry(ctx context.Context, pid int, pending bool) (string, error) {
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := l.q.ExecContext(ctx,
		`INSERT INTO Instance (created_at, pid, pending) VALUES (?, ?, ?)`,
		createdAt, pid, boolToInt(pending))
	if err != nil {
		return "", fmt.Errorf("instance: add entry: %w", err)
	}
	return createdAt, nil
}

func (l ledger) CountEntries(ctx context.Context, pending bool) (int, error) {
	var n int
	err := l.q.QueryRowContext(ctx,
		`SELECT count(*) FROM Instance WHERE pending = ?`, boolToInt(pending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("instance: count entries: %w", err)
	}
	return n, nil
}

func (l ledger) OldestPending(ctx context.Context, n int) ([]Entry, error) {
	// rowid breaks ties between entries created within the same
	// timestamp, keeping the order stable within one store.
	rows, err := l.q.QueryContext(ctx,
		`SELECT created_at, pid, pending FROM Instance
		 WHERE pending = 1 ORDER BY created_at, rowid LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("instance: oldest pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			pending int
		)
		if err := rows.Scan(&e.CreatedAt, &e.PID, &pending); err != nil {
			return nil, fmt.Errorf("instance: scan entry: %w", err)
		}
		e.Pending = pending != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("instance: iterate entries: %w", err)
	}
	return entries, nil
}

func (l ledger) SetPending(ctx context.Context, createdAt string, pending bool) error {
	_, err := l.q.ExecContext(ctx,
		`UPDATE Instance SET pending = ? WHERE created_at = ?`,
		boolToInt(pending), createdAt)
	if err != nil {
		return fmt.Errorf("instance: set pending: %w", err)
	}
	return nil
}

func (l ledger) DeleteEntry(ctx context.Context, pid int) error {
	if _, err := l.q.ExecContext(ctx, `DELETE FROM Instance WHERE pid = ?`, pid); err != nil {
		return fmt.Errorf("instance: delete entry: %w", err)
	}
	return nil
}

func (l ledger) ListPIDs(ctx context.Context) ([]int, error) {
	rows, err := l.q.QueryContext(ctx, `SELECT pid FROM Instance`)
	if err != nil {
		return nil, fmt.Errorf("instance: list pids: %w", err)
	}
	defer rows.Close()

	var pids []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("instance: scan pid: %w", err)
		}
		pids = append(pids, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("instance: iterate pids: %w", err)
	}
	return pids, nil
}

// Update runs fn inside one write transaction. The connection is opened
// with _txlock=immediate, so the write lock is taken up front and two
// invocations cannot interleave their count-then-mutate sequences.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Ledger) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("instance: begin transaction: %w", err)
	}
	if err := fn(ledger{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("instance: commit transaction: %w", err)
	}
	return nil
}

// IsStale reports whether the cached report for host can serve a request
// with the given remote scan end and parameter fingerprint. The cached
// entry is reusable only when the remote scan end is not newer than the
// stored one and the fingerprints match; otherwise the entry is deleted so
// the caller can store a fresh one without conflict.
func (s *SQLiteStore) IsStale(ctx context.Context, host, scanEnd, params string) (bool, error) {
	var storedEnd, storedParams string
	err := s.db.QueryRowContext(ctx,
		`SELECT scan_end, params_used FROM Report WHERE host = ?`, host).
		Scan(&storedEnd, &storedParams)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("instance: query report: %w", err)
	}

	stored, err1 := parseScanEnd(storedEnd)
	remote, err2 := parseScanEnd(scanEnd)
	if err1 == nil && err2 == nil && !remote.After(stored) && params == storedParams {
		return false, nil
	}

	// Superseded (or unparseable) entry: drop it now.
	if err := s.deleteReport(ctx, host); err != nil {
		return false, err
	}
	return true, nil
}

// LoadReport returns the cached payload for host.
func (s *SQLiteStore) LoadReport(ctx context.Context, host string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM Report WHERE host = ?`, host).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, fmt.Errorf("instance: load report: %w", err)
	}
	return payload, nil
}

// StoreReport caches a report payload for host. IsStale removed any
// previous row, so a plain insert keeps host unique.
func (s *SQLiteStore) StoreReport(ctx context.Context, host, scanEnd, params string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO Report (host, scan_end, params_used, report) VALUES (?, ?, ?, ?)`,
		host, scanEnd, params, payload)
	if err != nil {
		return fmt.Errorf("instance: store report: %w", err)
	}
	return nil
}

// EvictHost removes the cached report for host and reclaims the space.
func (s *SQLiteStore) EvictHost(ctx context.Context, host string) error {
	if err := s.deleteReport(ctx, host); err != nil {
		return err
	}
	return s.vacuum(ctx)
}

// EvictOlderThan removes cached reports whose scan end predates now minus
// days. ISO 8601 timestamps order lexicographically, so the comparison
// happens in SQL.
func (s *SQLiteStore) EvictOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM Report WHERE scan_end <= date('now', ?)`,
		fmt.Sprintf("-%d day", days))
	if err != nil {
		return 0, fmt.Errorf("instance: evict older than %d days: %w", days, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("instance: rows affected: %w", err)
	}
	if err := s.vacuum(ctx); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) deleteReport(ctx context.Context, host string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM Report WHERE host = ?`, host); err != nil {
		return fmt.Errorf("instance: delete report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("instance: vacuum: %w", err)
	}
	return nil
}

func parseScanEnd(value string) (time.Time, error) {
	var firstErr error
	for _, layout := range scanEndLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("instance: parse scan end %q: %w", value, firstErr)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
