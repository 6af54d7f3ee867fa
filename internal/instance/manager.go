package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// DefaultLimit is the default maximum number of concurrently running
// invocations.
const DefaultLimit = 10

// Config configures a Manager.
type Config struct {
	// PID identifies this invocation in the ledger. Defaults to the
	// current process id.
	PID int

	// Limit caps how many invocations may run at once. Values below one
	// are raised to one.
	Limit int

	// Logger receives debug records for admission decisions and signals.
	// Defaults to a discarding logger.
	Logger *slog.Logger
}

// Manager ties one invocation to the shared store: it admits the
// invocation on startup and tears its registration down on exit.
type Manager struct {
	store  Store
	proc   ProcessController
	pid    int
	limit  int
	logger *slog.Logger
	done   bool
}

// NewManager creates a Manager for one invocation.
func NewManager(store Store, proc ProcessController, cfg Config) *Manager {
	pid := cfg.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	limit := cfg.Limit
	if limit < 1 {
		limit = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{store: store, proc: proc, pid: pid, limit: limit, logger: logger}
}

// Register admits this invocation. It first reclaims ledger rows whose
// processes no longer exist, then decides in one store transaction whether
// the invocation runs now or queues. A queued invocation is frozen inside
// this call and returns only once some terminating invocation resumes it;
// on return the caller always holds a running slot.
func (m *Manager) Register(ctx context.Context) error {
	if err := m.sweepOrphans(ctx); err != nil {
		return err
	}

	var (
		resume  []Entry
		suspend bool
	)
	err := m.store.Update(ctx, func(tx Ledger) error {
		// Older queued invocations get capacity first.
		drained, err := drain(ctx, tx, m.limit)
		if err != nil {
			return err
		}
		resume = drained

		active, err := tx.CountEntries(ctx, false)
		if err != nil {
			return err
		}
		queued, err := tx.CountEntries(ctx, true)
		if err != nil {
			return err
		}
		m.logger.Debug("admission check", "pid", m.pid, "active", active, "queued", queued, "limit", m.limit)

		if active < m.limit {
			_, err := tx.AddEntry(ctx, m.pid, false)
			return err
		}
		if _, err := tx.AddEntry(ctx, m.pid, true); err != nil {
			return err
		}
		suspend = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("instance: register: %w", err)
	}

	m.resumeAll(resume)

	if suspend {
		m.logger.Debug("capacity exhausted, freezing", "pid", m.pid)
		if err := m.proc.Suspend(m.pid); err != nil {
			return fmt.Errorf("instance: suspend self: %w", err)
		}
		// Execution continues here after SIGCONT. The waker already
		// flipped this invocation's row to running; no re-admission.
		m.logger.Debug("resumed", "pid", m.pid)
	}
	return nil
}

// Wake flips as many of the oldest queued invocations to running as free
// capacity allows and sends each a continue signal.
func (m *Manager) Wake(ctx context.Context) error {
	var resume []Entry
	err := m.store.Update(ctx, func(tx Ledger) error {
		drained, err := drain(ctx, tx, m.limit)
		resume = drained
		return err
	})
	if err != nil {
		return fmt.Errorf("instance: wake: %w", err)
	}
	m.resumeAll(resume)
	return nil
}

// EndSession removes this invocation from the ledger, wakes queued
// invocations into the freed capacity, and closes the store. Every step
// runs even when an earlier one fails: a skipped deregistration leaks a
// ledger row that permanently reduces effective capacity. Safe to call
// more than once.
func (m *Manager) EndSession(ctx context.Context) error {
	if m.done {
		return nil
	}
	m.done = true

	// Cleanup must finish even when the invocation was cancelled.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	if err := m.store.DeleteEntry(ctx, m.pid); err != nil {
		m.logger.Error("deregister failed", "pid", m.pid, "error", err)
		errs = append(errs, err)
	}
	if err := m.Wake(ctx); err != nil {
		m.logger.Error("wake on exit failed", "error", err)
		errs = append(errs, err)
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sweepOrphans deletes ledger rows whose process no longer exists,
// covering invocations that were killed without running EndSession.
func (m *Manager) sweepOrphans(ctx context.Context) error {
	pids, err := m.store.ListPIDs(ctx)
	if err != nil {
		return fmt.Errorf("instance: orphan sweep: %w", err)
	}
	for _, pid := range pids {
		if pid == m.pid || m.proc.Alive(pid) {
			continue
		}
		m.logger.Debug("removing orphaned entry", "pid", pid)
		if err := m.store.DeleteEntry(ctx, pid); err != nil {
			return fmt.Errorf("instance: orphan sweep: %w", err)
		}
	}
	return nil
}

func (m *Manager) resumeAll(entries []Entry) {
	for _, e := range entries {
		m.logger.Debug("resuming queued invocation", "pid", e.PID, "created_at", e.CreatedAt)
		if err := m.proc.Resume(e.PID); err != nil {
			// The target died while queued; its flipped row is
			// reclaimed by the next orphan sweep.
			m.logger.Warn("resume failed", "pid", e.PID, "error", err)
		}
	}
}

// drain flips up to (limit - active) of the oldest pending entries to
// running, re-reading the counts after each batch, and returns the flipped
// entries so the caller can signal them after the transaction commits.
func drain(ctx context.Context, tx Ledger, limit int) ([]Entry, error) {
	var flipped []Entry
	for {
		active, err := tx.CountEntries(ctx, false)
		if err != nil {
			return nil, err
		}
		queued, err := tx.CountEntries(ctx, true)
		if err != nil {
			return nil, err
		}
		if active >= limit || queued == 0 {
			return flipped, nil
		}
		batch, err := tx.OldestPending(ctx, limit-active)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return flipped, nil
		}
		for _, e := range batch {
			if err := tx.SetPending(ctx, e.CreatedAt, false); err != nil {
				return nil, err
			}
			flipped = append(flipped, e)
		}
	}
}
