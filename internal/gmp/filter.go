package gmp

import (
	"fmt"
	"strings"
)

// Severity classes for report filters. Each letter selects one class:
// high, medium, low, log, debug.
const (
	LevelsDefault = "hmlgd"
	LevelsNoLog   = "hml"
)

// ReportFilter enumerates the result-filter options a report query
// accepts. Rendering happens in one place so every invocation produces the
// same wire string for the same options.
type ReportFilter struct {
	// Levels selects the severity classes to include. Empty means the
	// manager's default.
	Levels string

	// AutoFP is the automatic false-positive trust level (0, 1 or 2).
	AutoFP int

	// Overrides includes override information in results.
	Overrides bool

	// ApplyOverrides applies overrides to result severities.
	ApplyOverrides bool

	// Host restricts results to one target host.
	Host string
}

// String renders the filter expression for the wire.
func (f ReportFilter) String() string {
	parts := []string{
		"sort-reverse=id",
		"result_hosts_only=1",
		"min_cvss_base=",
		"min_qod=",
	}
	if f.Levels != "" {
		parts = append(parts, "levels="+f.Levels)
	}
	parts = append(parts,
		fmt.Sprintf("autofp=%d", f.AutoFP),
		"notes=0",
		fmt.Sprintf("apply_overrides=%d", boolToInt(f.ApplyOverrides)),
		fmt.Sprintf("overrides=%d", boolToInt(f.Overrides)),
		"first=1",
		"rows=-1",
		"delta_states=cgns",
	)
	if f.Host != "" {
		parts = append(parts, "host="+f.Host)
	}
	return strings.Join(parts, " ")
}

// TaskFilter selects tasks by exact name across all owners.
type TaskFilter struct {
	Name string

	// Rows caps the number of returned tasks. Zero means one.
	Rows int
}

// String renders the filter expression for the wire.
func (f TaskFilter) String() string {
	rows := f.Rows
	if rows == 0 {
		rows = 1
	}
	return fmt.Sprintf("permission=any owner=any rows=%d name=%q", rows, f.Name)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
