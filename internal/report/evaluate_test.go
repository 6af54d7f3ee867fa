package report

import (
	"strings"
	"testing"

	"github.com/gvmtools/checkgvm/internal/gmp"
	"github.com/gvmtools/checkgvm/internal/nagios"
)

const sampleReportXML = `<get_reports_response status="200" status_text="OK">
  <report id="outer-1">
    <report id="rep-1">
      <scan_end>2024-03-01T10:00:00Z</scan_end>
      <results>
        <result>
          <host>10.0.0.5</host>
          <port>443/tcp</port>
          <threat>High</threat>
          <description>TLS service allows SSLv3.</description>
          <nvt oid="1.3.6.1.4.1.25623.1.0.111111">
            <name>SSLv3 enabled</name>
            <cert><cert_ref type="DFN-CERT" id="DFN-CERT-2014-1366"/></cert>
          </nvt>
        </result>
        <result>
          <host>10.0.0.5</host>
          <port>22/tcp</port>
          <threat>Medium</threat>
          <description>Weak MAC algorithms.</description>
          <nvt oid="1.3.6.1.4.1.25623.1.0.222222">
            <name>SSH weak MACs</name>
          </nvt>
        </result>
        <result>
          <host>10.0.0.9</host>
          <port>80/tcp</port>
          <threat>Low</threat>
          <description>Server banner exposed.</description>
          <nvt oid="1.3.6.1.4.1.25623.1.0.333333">
            <name>HTTP banner</name>
          </nvt>
        </result>
        <result>
          <host>10.0.0.5</host>
          <port>general/tcp</port>
          <threat>Log</threat>
          <description>Traceroute.</description>
          <nvt oid="1.3.6.1.4.1.25623.1.0.444444">
            <name>Traceroute</name>
          </nvt>
        </result>
      </results>
      <errors>
        <count>2</count>
        <error><host>10.0.0.5</host><description>NVT timed out</description></error>
        <error><host>10.0.0.9</host><description>NVT timed out</description></error>
      </errors>
      <host>
        <ip>10.0.0.5</ip>
        <end>2024-03-01T09:58:00Z</end>
      </host>
    </report>
  </report>
</get_reports_response>`

func sampleReport(t *testing.T) *gmp.Report {
	t.Helper()
	resp, err := gmp.ParseReportsPayload([]byte(sampleReportXML))
	if err != nil {
		t.Fatalf("ParseReportsPayload: %v", err)
	}
	doc := resp.Document()
	if doc == nil {
		t.Fatal("sample payload has no report document")
	}
	return doc
}

func TestEvaluateWholeReport(t *testing.T) {
	eval, err := Evaluate(sampleReport(t), Options{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Status != nagios.StatusCritical {
		t.Errorf("status = %v, want CRITICAL", eval.Status)
	}
	if eval.High != 1 || eval.Medium != 1 || eval.Low != 1 || eval.Log != 1 {
		t.Errorf("counts = %d/%d/%d/%d, want 1/1/1/1", eval.High, eval.Medium, eval.Low, eval.Log)
	}
	if eval.Vulnerabilities() != 3 {
		t.Errorf("Vulnerabilities() = %d, want 3", eval.Vulnerabilities())
	}
	if eval.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", eval.ErrorCount)
	}
	if eval.ReportID != "rep-1" {
		t.Errorf("ReportID = %q, want rep-1", eval.ReportID)
	}
	if eval.ScanEnd != "2024-03-01T10:00:00Z" {
		t.Errorf("ScanEnd = %q", eval.ScanEnd)
	}
}

func TestEvaluateHostFilter(t *testing.T) {
	eval, err := Evaluate(sampleReport(t), Options{Host: "10.0.0.5"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !eval.AnyForHost {
		t.Error("AnyForHost = false, want true")
	}
	if eval.High != 1 || eval.Medium != 1 || eval.Low != 0 || eval.Log != 1 {
		t.Errorf("counts = %d/%d/%d/%d, want 1/1/0/1", eval.High, eval.Medium, eval.Low, eval.Log)
	}
	if eval.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", eval.ErrorCount)
	}
	if eval.TotalResults != 4 {
		t.Errorf("TotalResults = %d, want 4", eval.TotalResults)
	}
}

func TestEvaluateHostWithoutResults(t *testing.T) {
	eval, err := Evaluate(sampleReport(t), Options{Host: "10.0.0.77"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.AnyForHost {
		t.Error("AnyForHost = true, want false")
	}
	if eval.Status != nagios.StatusOK {
		t.Errorf("status = %v, want OK", eval.Status)
	}

	eval, err = Evaluate(sampleReport(t), Options{Host: "10.0.0.77", EmptyAsUnknown: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Status != nagios.StatusUnknown {
		t.Errorf("status = %v, want UNKNOWN", eval.Status)
	}
}

func TestEvaluateStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		threat string
		want   nagios.Status
	}{
		{"high is critical", "High", nagios.StatusCritical},
		{"medium is warning", "Medium", nagios.StatusWarning},
		{"low is ok", "Low", nagios.StatusOK},
		{"log is ok", "Log", nagios.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xmlDoc := `<get_reports_response status="200" status_text="OK"><report id="o"><report id="r">
<results><result><host>h</host><threat>` + tt.threat + `</threat><nvt oid="x"><name>n</name></nvt></result></results>
</report></report></get_reports_response>`
			resp, err := gmp.ParseReportsPayload([]byte(xmlDoc))
			if err != nil {
				t.Fatalf("ParseReportsPayload: %v", err)
			}
			eval, err := Evaluate(resp.Document(), Options{})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if eval.Status != tt.want {
				t.Errorf("status = %v, want %v", eval.Status, tt.want)
			}
		})
	}
}

func TestEvaluateRejectsUnknownThreat(t *testing.T) {
	xmlDoc := `<get_reports_response status="200" status_text="OK"><report id="o"><report id="r">
<results><result><host>h</host><threat>Severe</threat></result></results>
</report></report></get_reports_response>`
	resp, err := gmp.ParseReportsPayload([]byte(xmlDoc))
	if err != nil {
		t.Fatalf("ParseReportsPayload: %v", err)
	}
	if _, err := Evaluate(resp.Document(), Options{}); err == nil {
		t.Fatal("Evaluate accepted unknown threat class")
	}
}

func TestEvaluateRejectsResultWithoutHost(t *testing.T) {
	xmlDoc := `<get_reports_response status="200" status_text="OK"><report id="o"><report id="r">
<results><result><threat>High</threat></result></results>
</report></report></get_reports_response>`
	resp, err := gmp.ParseReportsPayload([]byte(xmlDoc))
	if err != nil {
		t.Fatalf("ParseReportsPayload: %v", err)
	}
	if _, err := Evaluate(resp.Document(), Options{Host: "10.0.0.5"}); err == nil {
		t.Fatal("Evaluate accepted result without host while filtering")
	}
}

func TestEvaluateNilDocument(t *testing.T) {
	if _, err := Evaluate(nil, Options{}); err == nil {
		t.Fatal("Evaluate accepted nil document")
	}
}

func TestEvaluateCollectNVTs(t *testing.T) {
	eval, err := Evaluate(sampleReport(t), Options{Host: "10.0.0.5", CollectNVTs: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(eval.NVTs) != 3 {
		t.Fatalf("len(NVTs) = %d, want 3", len(eval.NVTs))
	}
	first := eval.NVTs[0]
	if first.Threat != "high" || first.OID != "1.3.6.1.4.1.25623.1.0.111111" {
		t.Errorf("first NVT = %+v", first)
	}
	if len(first.DFNCerts) != 1 || first.DFNCerts[0] != "DFN-CERT-2014-1366" {
		t.Errorf("DFNCerts = %v", first.DFNCerts)
	}
}

func TestEvaluateScanEndFallsBackToHost(t *testing.T) {
	xmlDoc := `<get_reports_response status="200" status_text="OK"><report id="o"><report id="r">
<results></results>
<host><ip>10.0.0.5</ip><end>2024-04-01T00:00:00Z</end></host>
</report></report></get_reports_response>`
	resp, err := gmp.ParseReportsPayload([]byte(xmlDoc))
	if err != nil {
		t.Fatalf("ParseReportsPayload: %v", err)
	}
	eval, err := Evaluate(resp.Document(), Options{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !strings.HasPrefix(eval.ScanEnd, "2024-04-01") {
		t.Errorf("ScanEnd = %q, want host end fallback", eval.ScanEnd)
	}
}
