package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gvmtools/checkgvm/internal/nagios"
)

// TextReporter renders the classic plugin output: a status line, optional
// detail lines, and a trailing performance-data section.
type TextReporter struct {
	// ReportLinkHost renders a link to the report in the manager's web
	// interface when set.
	ReportLinkHost string

	// ShowScanEnd appends the scan end timestamp.
	ShowScanEnd bool

	// ShowPorts, ShowDescriptions and ShowDFN add per-finding lines.
	ShowPorts        bool
	ShowDescriptions bool
	ShowDFN          bool

	// ShowLog includes log-level findings in the listing.
	ShowLog bool

	// Details holds extra detail lines appended before the perfdata.
	Details []string
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

// Generate writes the plugin output to w. Free-text lines are sanitized so
// a stray pipe character can never truncate the perfdata.
func (r *TextReporter) Generate(ctx context.Context, eval *Evaluation, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := &strings.Builder{}

	fmt.Fprintf(b, "GVM %s: %d vulnerabilities found - High: %d Medium: %d Low: %d\n",
		eval.Status, eval.Vulnerabilities(), eval.High, eval.Medium, eval.Low)

	if eval.TotalResults == 0 {
		fmt.Fprintln(b, "Report did not contain any vulnerabilities")
	} else if eval.Host != "" && !eval.AnyForHost {
		fmt.Fprintf(b, "Report did not contain vulnerabilities for IP %s\n", eval.Host)
	}

	if eval.ErrorCount > 0 {
		if eval.Host != "" {
			fmt.Fprintln(b, nagios.Sanitize(fmt.Sprintf(
				"Report did contain %d errors for IP %s", eval.ErrorCount, eval.Host)))
		} else {
			fmt.Fprintln(b, nagios.Sanitize(fmt.Sprintf(
				"Report did contain %d errors", eval.ErrorCount)))
		}
	}

	if r.ReportLinkHost != "" && eval.ReportID != "" {
		fmt.Fprintf(b, "https://%s/omp?cmd=get_report&report_id=%s\n",
			r.ReportLinkHost, eval.ReportID)
	}

	for _, nvt := range eval.NVTs {
		if nvt.Threat == "log" && !r.ShowLog {
			continue
		}
		fmt.Fprintln(b, nagios.Sanitize(fmt.Sprintf("NVT: %s (%s) %s", nvt.OID, nvt.Threat, nvt.Name)))
		if r.ShowPorts && nvt.Port != "" {
			fmt.Fprintln(b, nagios.Sanitize("PORT: "+nvt.Port))
		}
		if r.ShowDescriptions && nvt.Description != "" {
			fmt.Fprintln(b, nagios.Sanitize("DESCR: "+nvt.Description))
		}
		if r.ShowDFN && len(nvt.DFNCerts) > 0 {
			fmt.Fprintln(b, nagios.Sanitize("DFN-CERT: "+strings.Join(nvt.DFNCerts, ", ")))
		}
	}

	if r.ShowScanEnd && eval.ScanEnd != "" {
		fmt.Fprintf(b, "SCAN_END: %s\n", eval.ScanEnd)
	}

	for _, line := range r.Details {
		fmt.Fprintln(b, nagios.Sanitize(line))
	}

	fmt.Fprintf(b, "|High=%d Medium=%d Low=%d\n", eval.High, eval.Medium, eval.Low)

	_, err := io.WriteString(w, b.String())
	return err
}
