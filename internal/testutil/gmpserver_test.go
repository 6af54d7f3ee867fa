package testutil

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestGMPServerRoundTrip(t *testing.T) {
	srv := NewGMPServer()
	sockPath := srv.Start(t)

	conn, err := net.DialTimeout("unix", sockPath, 5*time.Second)
	if err != nil {
		t.Fatalf("dial fake manager: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`<get_version/>`)); err != nil {
		t.Fatalf("write command: %v", err)
	}
	name, raw, err := readCommand(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if name != "get_version_response" {
		t.Errorf("response element = %q", name)
	}
	if !strings.Contains(string(raw), "<version>22.4</version>") {
		t.Errorf("response missing version: %s", raw)
	}

	got := srv.Commands()
	if len(got) != 1 || got[0] != "get_version" {
		t.Errorf("Commands() = %v, want [get_version]", got)
	}
}

func TestGMPServerCredentials(t *testing.T) {
	srv := NewGMPServer()
	srv.RequireCredentials("admin", "secret")
	sockPath := srv.Start(t)

	conn, err := net.DialTimeout("unix", sockPath, 5*time.Second)
	if err != nil {
		t.Fatalf("dial fake manager: %v", err)
	}
	defer conn.Close()

	cmd := `<authenticate><credentials><username>admin</username><password>wrong</password></credentials></authenticate>`
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.Fatalf("write command: %v", err)
	}
	_, raw, err := readCommand(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(string(raw), `status="400"`) {
		t.Errorf("wrong password accepted: %s", raw)
	}
}

func TestFixtureBuilders(t *testing.T) {
	tasks := TasksResponse("Weekly", "up", "rid-1", "2024-01-01T00:00:00Z")
	for _, want := range []string{"<name>Weekly</name>", "<trend>up</trend>", `id="rid-1"`} {
		if !strings.Contains(tasks, want) {
			t.Errorf("TasksResponse missing %q:\n%s", want, tasks)
		}
	}

	reports := ReportsResponse("rid-2", "2024-01-01T00:00:00Z", ResultFixture{
		Host: "10.0.0.5", Threat: "High", OID: "1.3.6.1", Name: "CVE test", DFNCerts: []string{"DFN-CERT-2024-0001"},
	})
	for _, want := range []string{"<threat>High</threat>", `oid="1.3.6.1"`, "DFN-CERT-2024-0001"} {
		if !strings.Contains(reports, want) {
			t.Errorf("ReportsResponse missing %q:\n%s", want, reports)
		}
	}

	assets := AssetsResponse("10.0.0.5", "rid-3", "2024-01-01T00:00:00Z", 2, 1, 0)
	for _, want := range []string{"report/@id", "<value>rid-3</value>", "report/result_count/high"} {
		if !strings.Contains(assets, want) {
			t.Errorf("AssetsResponse missing %q:\n%s", want, assets)
		}
	}
}
