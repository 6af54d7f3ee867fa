// Package nagios defines the monitoring plugin exit contract: the four
// standard plugin states and helpers for producing state-safe output.
package nagios

import (
	"fmt"
	"strings"
)

// Status is a Nagios plugin exit status. The numeric values are the
// process exit codes the monitoring server interprets.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// String returns the conventional upper-case status label.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ExitError carries a plugin status and message out of a command handler so
// main can print the message and exit with the matching code.
type ExitError struct {
	Status  Status
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Exitf builds an ExitError with a formatted message.
func Exitf(status Status, format string, args ...any) *ExitError {
	return &ExitError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Sanitize replaces pipe characters in msg. The pipe delimits performance
// data in plugin output, so free-text lines must never contain one.
func Sanitize(msg string) string {
	return strings.ReplaceAll(msg, "|", "¦")
}
