package report

import (
	"context"
	"encoding/json"
	"io"
)

// JSONReporter emits the evaluation as a single JSON document, one check
// per line, suitable for machine consumption.
type JSONReporter struct{}

type jsonOutput struct {
	Status       string      `json:"status"`
	StatusCode   int         `json:"status_code"`
	High         int         `json:"high"`
	Medium       int         `json:"medium"`
	Low          int         `json:"low"`
	Log          int         `json:"log"`
	Errors       int         `json:"errors"`
	Host         string      `json:"host,omitempty"`
	ReportID     string      `json:"report_id,omitempty"`
	ScanEnd      string      `json:"scan_end,omitempty"`
	TotalResults int         `json:"total_results"`
	NVTs         []NVTDetail `json:"nvts,omitempty"`
}

// Format returns "json".
func (r *JSONReporter) Format() string {
	return "json"
}

// Generate writes the evaluation to w as JSON.
func (r *JSONReporter) Generate(ctx context.Context, eval *Evaluation, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out := jsonOutput{
		Status:       eval.Status.String(),
		StatusCode:   int(eval.Status),
		High:         eval.High,
		Medium:       eval.Medium,
		Low:          eval.Low,
		Log:          eval.Log,
		Errors:       eval.ErrorCount,
		Host:         eval.Host,
		ReportID:     eval.ReportID,
		ScanEnd:      eval.ScanEnd,
		TotalResults: eval.TotalResults,
		NVTs:         eval.NVTs,
	}

	enc := json.NewEncoder(w)
	return enc.Encode(out)
}
