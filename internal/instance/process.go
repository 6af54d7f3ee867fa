package instance

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessController sends the stop/continue signals that freeze and thaw
// queued invocations, and probes pid liveness for the orphan sweep.
type ProcessController interface {
	// Suspend freezes the process at the OS level. The process consumes
	// no CPU until resumed; no cooperation from it is required.
	Suspend(pid int) error

	// Resume thaws a suspended process.
	Resume(pid int) error

	// Alive reports whether pid currently exists on this host.
	Alive(pid int) bool
}

// OSProcesses is the ProcessController for real processes, backed by
// SIGSTOP, SIGCONT and the null-signal liveness probe.
type OSProcesses struct{}

var _ ProcessController = OSProcesses{}

// Suspend sends SIGSTOP to pid. A target that already exited is not an
// error: its ledger row will be reclaimed by the next orphan sweep.
func (OSProcesses) Suspend(pid int) error {
	return ignoreGone(unix.Kill(pid, unix.SIGSTOP))
}

// Resume sends SIGCONT to pid. As with Suspend, a vanished target is a no-op.
func (OSProcesses) Resume(pid int) error {
	return ignoreGone(unix.Kill(pid, unix.SIGCONT))
}

// Alive probes pid with signal 0. EPERM means the process exists but
// belongs to another user, which still counts as alive.
func (OSProcesses) Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func ignoreGone(err error) error {
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
