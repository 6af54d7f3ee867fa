package gmp

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Command documents sent to the manager. Marshalling through encoding/xml
// keeps attribute and credential values escaped.

type getVersionCommand struct {
	XMLName xml.Name `xml:"get_version"`
}

type authenticateCommand struct {
	XMLName     xml.Name `xml:"authenticate"`
	Credentials struct {
		Username string `xml:"username"`
		Password string `xml:"password"`
	} `xml:"credentials"`
}

type getTasksCommand struct {
	XMLName xml.Name `xml:"get_tasks"`
	Filter  string   `xml:"filter,attr,omitempty"`
}

type getReportsCommand struct {
	XMLName  xml.Name `xml:"get_reports"`
	ReportID string   `xml:"report_id,attr,omitempty"`
	Type     string   `xml:"type,attr,omitempty"`
	Host     string   `xml:"host,attr,omitempty"`
	Filter   string   `xml:"filter,attr,omitempty"`
}

// envelope is the status header every response carries.
type envelope struct {
	Status     string `xml:"status,attr"`
	StatusText string `xml:"status_text,attr"`
}

// ok reports whether the manager accepted the command.
func (e envelope) ok() bool {
	return strings.HasPrefix(e.Status, "2")
}

func (e envelope) statusErr() error {
	if e.ok() {
		return nil
	}
	return &StatusError{Status: e.Status, Text: e.StatusText}
}

// StatusError is a non-2xx response status from the manager.
type StatusError struct {
	Status string
	Text   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gmp: manager returned status %s: %s", e.Status, e.Text)
}

// VersionResponse is the reply to a get_version command.
type VersionResponse struct {
	XMLName xml.Name `xml:"get_version_response"`
	envelope
	Version string `xml:"version"`
}

type authenticateResponse struct {
	XMLName xml.Name `xml:"authenticate_response"`
	envelope
}

// TasksResponse is the reply to a get_tasks command.
type TasksResponse struct {
	XMLName xml.Name `xml:"get_tasks_response"`
	envelope
	Tasks []Task `xml:"task"`
}

// Task describes one scan task.
type Task struct {
	ID         string      `xml:"id,attr"`
	Name       string      `xml:"name"`
	Trend      string      `xml:"trend"`
	LastReport *LastReport `xml:"last_report"`
}

// LastReport references the most recent report of a task.
type LastReport struct {
	Report ReportRef `xml:"report"`
}

// ReportRef is a report reference with its completion metadata.
type ReportRef struct {
	ID          string       `xml:"id,attr"`
	ScanEnd     string       `xml:"scan_end"`
	ResultCount *ResultCount `xml:"result_count"`
}

// ResultCount aggregates result totals by class.
type ResultCount struct {
	Hole          int `xml:"hole"`
	Warning       int `xml:"warning"`
	Info          int `xml:"info"`
	Log           int `xml:"log"`
	FalsePositive int `xml:"false_positive"`
}

// ReportsResponse is the reply to a get_reports command. The manager nests
// the report document inside an outer report element.
type ReportsResponse struct {
	XMLName xml.Name `xml:"get_reports_response"`
	envelope
	Reports []struct {
		ID     string  `xml:"id,attr"`
		Report *Report `xml:"report"`
	} `xml:"report"`
}

// Document returns the first (inner) report document, if any.
func (r *ReportsResponse) Document() *Report {
	if len(r.Reports) == 0 {
		return nil
	}
	return r.Reports[0].Report
}

// Report is a full report document.
type Report struct {
	ID      string `xml:"id,attr"`
	ScanEnd string `xml:"scan_end"`
	Results struct {
		Results []Result `xml:"result"`
	} `xml:"results"`
	Errors *ReportErrors `xml:"errors"`
	Hosts  []ReportHost  `xml:"host"`
}

// Result is a single finding.
type Result struct {
	Host        string `xml:"host"`
	Port        string `xml:"port"`
	Threat      string `xml:"threat"`
	Description string `xml:"description"`
	NVT         NVT    `xml:"nvt"`
}

// NVT identifies the network vulnerability test behind a finding.
type NVT struct {
	OID   string    `xml:"oid,attr"`
	Name  string    `xml:"name"`
	Certs []CertRef `xml:"cert>cert_ref"`
}

// CertRef is an advisory reference attached to an NVT.
type CertRef struct {
	Type string `xml:"type,attr"`
	ID   string `xml:"id,attr"`
}

// DFNCertIDs returns the DFN-CERT advisory ids referenced by the NVT.
func (n NVT) DFNCertIDs() []string {
	var ids []string
	for _, ref := range n.Certs {
		if ref.Type == "DFN-CERT" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// ReportErrors lists per-host scan errors inside a report.
type ReportErrors struct {
	Count  int `xml:"count"`
	Errors []struct {
		Host        string `xml:"host"`
		Description string `xml:"description"`
	} `xml:"error"`
}

// ReportHost carries per-host asset details inside a report.
type ReportHost struct {
	IP      string `xml:"ip"`
	End     string `xml:"end"`
	Details []struct {
		Name  string `xml:"name"`
		Value string `xml:"value"`
	} `xml:"detail"`
}

// HostDetail returns the value of the first host detail with the given
// name, searching all hosts in document order.
func (r *Report) HostDetail(name string) (string, bool) {
	for _, h := range r.Hosts {
		for _, d := range h.Details {
			if d.Name == name {
				return d.Value, true
			}
		}
	}
	return "", false
}

// HostScanEnd returns the scan end timestamp of the first host entry.
func (r *Report) HostScanEnd() string {
	for _, h := range r.Hosts {
		if h.End != "" {
			return h.End
		}
	}
	return ""
}

// ParseReportsPayload decodes a cached get_reports_response payload.
func ParseReportsPayload(data []byte) (*ReportsResponse, error) {
	var resp ReportsResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gmp: decode cached report: %w", err)
	}
	return &resp, nil
}
