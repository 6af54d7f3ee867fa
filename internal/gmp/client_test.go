package gmp_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gvmtools/checkgvm/internal/gmp"
	"github.com/gvmtools/checkgvm/internal/testutil"
)

func connectFake(t *testing.T, srv *testutil.GMPServer) *gmp.Conn {
	t.Helper()
	sockPath := srv.Start(t)
	conn, err := gmp.Connect(gmp.Options{
		Type:     gmp.ConnSocket,
		SockPath: sockPath,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGetVersion(t *testing.T) {
	conn := connectFake(t, testutil.NewGMPServer())

	v, err := conn.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.Version != "22.4" {
		t.Errorf("Version = %q, want 22.4", v.Version)
	}
	if v.Status != "200" {
		t.Errorf("Status = %q, want 200", v.Status)
	}
}

func TestAuthenticate(t *testing.T) {
	srv := testutil.NewGMPServer()
	srv.RequireCredentials("admin", "secret")
	conn := connectFake(t, srv)
	ctx := context.Background()

	if err := conn.Authenticate(ctx, "admin", "secret"); err != nil {
		t.Fatalf("Authenticate with valid credentials: %v", err)
	}

	err := conn.Authenticate(ctx, "admin", "wrong")
	var se *gmp.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Authenticate error = %v, want *StatusError", err)
	}
	if se.Status != "400" {
		t.Errorf("Status = %q, want 400", se.Status)
	}
}

func TestGetTasks(t *testing.T) {
	srv := testutil.NewGMPServer()
	srv.Respond("get_tasks", testutil.TasksResponse("Weekly Scan", "down", "r-1", "2024-01-01T00:00:00Z"))
	conn := connectFake(t, srv)

	resp, err := conn.GetTasks(context.Background(), gmp.TaskFilter{Name: "Weekly Scan"})
	if err != nil {
		t.Fatalf("GetTasks: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].Name != "Weekly Scan" {
		t.Fatalf("tasks = %+v", resp.Tasks)
	}
	if resp.Tasks[0].Trend != "down" {
		t.Errorf("Trend = %q", resp.Tasks[0].Trend)
	}
}

func TestGetReports(t *testing.T) {
	srv := testutil.NewGMPServer()
	srv.Respond("get_reports", testutil.ReportsResponse("r-1", "2024-01-01T00:00:00Z",
		testutil.ResultFixture{Host: "10.0.0.5", Threat: "Medium", OID: "1.3.6.1", Name: "n"}))
	conn := connectFake(t, srv)

	resp, raw, err := conn.GetReports(context.Background(), gmp.ReportsRequest{
		ReportID: "r-1",
		Filter:   gmp.ReportFilter{Levels: gmp.LevelsDefault, Host: "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("GetReports: %v", err)
	}
	doc := resp.Document()
	if doc == nil || len(doc.Results.Results) != 1 {
		t.Fatalf("document = %+v", doc)
	}
	if doc.Results.Results[0].Threat != "Medium" {
		t.Errorf("Threat = %q", doc.Results.Results[0].Threat)
	}

	// The raw payload caches and decodes back to the same document.
	if len(raw) == 0 {
		t.Fatal("raw payload is empty")
	}
	reparsed, err := gmp.ParseReportsPayload(raw)
	if err != nil {
		t.Fatalf("reparse raw payload: %v", err)
	}
	if reparsed.Document() == nil {
		t.Error("reparsed payload lost its document")
	}
}

func TestGetReportsStatusError(t *testing.T) {
	srv := testutil.NewGMPServer()
	srv.Respond("get_reports", `<get_reports_response status="404" status_text="Failed to find report"/>`)
	conn := connectFake(t, srv)

	_, _, err := conn.GetReports(context.Background(), gmp.ReportsRequest{ReportID: "nope"})
	var se *gmp.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if !strings.Contains(se.Error(), "404") {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestConnectUnknownType(t *testing.T) {
	_, err := gmp.Connect(gmp.Options{Type: "carrier-pigeon"})
	if err == nil {
		t.Fatal("Connect accepted an unknown connection type")
	}
}

func TestConnectRefused(t *testing.T) {
	_, err := gmp.Connect(gmp.Options{
		Type:     gmp.ConnSocket,
		SockPath: "/nonexistent/gvmd.sock",
		Timeout:  time.Second,
	})
	if err == nil {
		t.Fatal("Connect to missing socket succeeded")
	}
}

func TestCommandSequence(t *testing.T) {
	srv := testutil.NewGMPServer()
	srv.Respond("get_tasks", testutil.TasksResponse("t", "", "", "2024-01-01T00:00:00Z"))
	conn := connectFake(t, srv)
	ctx := context.Background()

	if _, err := conn.GetVersion(ctx); err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if err := conn.Authenticate(ctx, "u", "p"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := conn.GetTasks(ctx, gmp.TaskFilter{Name: "t"}); err != nil {
		t.Fatalf("GetTasks: %v", err)
	}

	want := []string{"get_version", "authenticate", "get_tasks"}
	got := srv.Commands()
	if len(got) != len(want) {
		t.Fatalf("Commands() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRateLimitPacesCommands(t *testing.T) {
	srv := testutil.NewGMPServer()
	sockPath := srv.Start(t)
	conn, err := gmp.Connect(gmp.Options{
		Type:     gmp.ConnSocket,
		SockPath: sockPath,
		Timeout:  5 * time.Second,
		MaxRPS:   20,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	// The first command spends the initial token; the next two must each
	// wait for a 50ms refill.
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := conn.GetVersion(ctx); err != nil {
			t.Fatalf("GetVersion %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 commands took %v, want at least ~100ms at 20 rps", elapsed)
	}
}
