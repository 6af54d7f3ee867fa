// Package report turns a scan manager report document into the plugin's
// verdict and renders it as monitoring output.
package report

import (
	"fmt"
	"strings"

	"github.com/gvmtools/checkgvm/internal/gmp"
	"github.com/gvmtools/checkgvm/internal/nagios"
)

// Options controls how a report document is evaluated.
type Options struct {
	// Host restricts counting to results for one target host. Empty
	// counts every result in the document.
	Host string

	// CollectNVTs gathers per-finding details for the output.
	CollectNVTs bool

	// EmptyAsUnknown reports UNKNOWN instead of OK when the document has
	// no results (or none for the requested host).
	EmptyAsUnknown bool
}

// NVTDetail is one finding prepared for output.
type NVTDetail struct {
	Threat      string   `json:"threat"`
	OID         string   `json:"oid"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Port        string   `json:"port,omitempty"`
	DFNCerts    []string `json:"dfn_certs,omitempty"`
}

// Evaluation is the verdict over one report document.
type Evaluation struct {
	Status nagios.Status

	High   int
	Medium int
	Low    int
	Log    int

	// ErrorCount is the number of scan errors, for the requested host if
	// one was given.
	ErrorCount int

	// Host is the requested target host, if any.
	Host string

	// AnyForHost reports whether any result matched the requested host.
	AnyForHost bool

	// TotalResults is the number of results in the document before host
	// filtering.
	TotalResults int

	ReportID string
	ScanEnd  string

	NVTs []NVTDetail
}

// Vulnerabilities returns the count that appears in the status line.
func (e *Evaluation) Vulnerabilities() int {
	return e.High + e.Medium + e.Low
}

// Evaluate filters a report document down to the requested host and maps
// the finding counts to a plugin status: any high finding is CRITICAL, any
// medium finding is WARNING, otherwise OK.
func Evaluate(doc *gmp.Report, opts Options) (*Evaluation, error) {
	if doc == nil {
		return nil, fmt.Errorf("report: empty report document")
	}

	eval := &Evaluation{
		Host:         opts.Host,
		ReportID:     doc.ID,
		ScanEnd:      doc.ScanEnd,
		TotalResults: len(doc.Results.Results),
	}
	if eval.ScanEnd == "" {
		eval.ScanEnd = doc.HostScanEnd()
	}

	for _, res := range doc.Results.Results {
		if opts.Host != "" {
			if res.Host == "" {
				return nil, fmt.Errorf("report: result without host field")
			}
			if res.Host != opts.Host {
				continue
			}
			eval.AnyForHost = true
		}

		switch res.Threat {
		case "High":
			eval.High++
		case "Medium":
			eval.Medium++
		case "Low":
			eval.Low++
		case "Log":
			eval.Log++
		default:
			return nil, fmt.Errorf("report: unknown result threat %q", res.Threat)
		}

		if opts.CollectNVTs {
			eval.NVTs = append(eval.NVTs, NVTDetail{
				Threat:      strings.ToLower(res.Threat),
				OID:         res.NVT.OID,
				Name:        res.NVT.Name,
				Description: res.Description,
				Port:        res.Port,
				DFNCerts:    res.NVT.DFNCertIDs(),
			})
		}
	}

	if doc.Errors != nil {
		if opts.Host != "" {
			for _, e := range doc.Errors.Errors {
				if e.Host == opts.Host {
					eval.ErrorCount++
				}
			}
		} else {
			eval.ErrorCount = doc.Errors.Count
		}
	}

	switch {
	case eval.High > 0:
		eval.Status = nagios.StatusCritical
	case eval.Medium > 0:
		eval.Status = nagios.StatusWarning
	default:
		eval.Status = nagios.StatusOK
	}
	if opts.EmptyAsUnknown && (eval.TotalResults == 0 || (opts.Host != "" && !eval.AnyForHost)) {
		eval.Status = nagios.StatusUnknown
	}

	return eval, nil
}
