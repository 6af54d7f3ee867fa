// Package fingerprint canonicalizes the query options that affect the
// content of a fetched report. Two checks with equal fingerprints may share
// a cached report; any difference forces a refetch even when the remote
// scan itself has not changed.
package fingerprint

import "fmt"

// AutoFP levels for automatic false-positive filtering.
const (
	AutoFPOff     = 0
	AutoFPFull    = 1
	AutoFPPartial = 2
)

// Params holds every option that changes what the scan manager puts into a
// report for the same underlying scan.
type Params struct {
	Task           string
	AutoFP         int
	Overrides      bool
	ApplyOverrides bool
}

// String renders the canonical fingerprint. The field order and encoding
// are stable across releases: stored fingerprints are compared byte for
// byte against freshly computed ones.
func (p Params) String() string {
	return fmt.Sprintf("task=%s autofp=%d overrides=%d apply_overrides=%d",
		p.Task, p.AutoFP, boolToInt(p.Overrides), boolToInt(p.ApplyOverrides))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
