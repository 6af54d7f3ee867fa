// Package testutil provides an in-process fake scan manager for testing
// the GMP client and the check flow without a real GVM appliance. The fake
// listens on a unix socket and answers each command with a canned response.
package testutil

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// GMPServer is a fake scan manager. Responses are canned per command name;
// authenticate and get_version have sensible defaults.
type GMPServer struct {
	mu        sync.Mutex
	responses map[string]string
	commands  []string
	username  string
	password  string
	ln        net.Listener
}

// NewGMPServer creates a fake manager that accepts any credentials and
// reports protocol version 22.4.
func NewGMPServer() *GMPServer {
	return &GMPServer{
		responses: map[string]string{
			"get_version": `<get_version_response status="200" status_text="OK"><version>22.4</version></get_version_response>`,
		},
	}
}

// Respond sets the canned response for a command element name.
func (s *GMPServer) Respond(command, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[command] = response
}

// RequireCredentials makes authenticate fail for any other credentials.
func (s *GMPServer) RequireCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
	s.password = password
}

// Commands returns every command element name received so far.
func (s *GMPServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Start listens on a unix socket under the test's temp directory and
// serves until the test ends. It returns the socket path.
func (s *GMPServer) Start(t *testing.T) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "gvmd.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("testutil: listen on %s: %v", sockPath, err)
	}
	s.ln = ln
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return sockPath
}

func (s *GMPServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		name, raw, err := readCommand(conn)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, name)
		resp, ok := s.responses[name]
		username, password := s.username, s.password
		s.mu.Unlock()

		if name == "authenticate" {
			resp = s.authResponse(raw, username, password)
		} else if !ok {
			resp = fmt.Sprintf(`<%s_response status="400" status_text="Bogus command name"/>`, name)
		}
		if _, err := io.WriteString(conn, resp); err != nil {
			return
		}
	}
}

func (s *GMPServer) authResponse(raw []byte, username, password string) string {
	if username != "" {
		var cmd struct {
			Credentials struct {
				Username string `xml:"username"`
				Password string `xml:"password"`
			} `xml:"credentials"`
		}
		if err := xml.Unmarshal(raw, &cmd); err != nil ||
			cmd.Credentials.Username != username || cmd.Credentials.Password != password {
			return `<authenticate_response status="400" status_text="Authentication failed"/>`
		}
	}
	return `<authenticate_response status="200" status_text="OK"/>`
}

// readCommand consumes one XML element from r, returning its root name
// and raw bytes.
func readCommand(r io.Reader) (string, []byte, error) {
	var buf bytes.Buffer
	dec := xml.NewDecoder(io.TeeReader(r, &buf))

	var name string
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				name = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return name, bytes.TrimSpace(buf.Bytes()), nil
			}
		}
	}
}

// ResultFixture describes one finding in a fake report.
type ResultFixture struct {
	Host        string
	Threat      string
	Port        string
	OID         string
	Name        string
	Description string
	DFNCerts    []string
}

// TasksResponse builds a get_tasks_response holding one task.
func TasksResponse(taskName, trend, reportID, scanEnd string) string {
	if reportID == "" {
		reportID = uuid.NewString()
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<get_tasks_response status="200" status_text="OK"><task id=%q><name>%s</name>`,
		uuid.NewString(), taskName)
	if trend != "" {
		fmt.Fprintf(&b, `<trend>%s</trend>`, trend)
	}
	fmt.Fprintf(&b, `<last_report><report id=%q><scan_end>%s</scan_end>`, reportID, scanEnd)
	b.WriteString(`<result_count><hole>1</hole><warning>1</warning><info>0</info><log>0</log><false_positive>0</false_positive></result_count>`)
	b.WriteString(`</report></last_report></task></get_tasks_response>`)
	return b.String()
}

// ReportsResponse builds a get_reports_response with the given findings.
func ReportsResponse(reportID, scanEnd string, results ...ResultFixture) string {
	if reportID == "" {
		reportID = uuid.NewString()
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<get_reports_response status="200" status_text="OK"><report id=%q><report id=%q>`,
		reportID, reportID)
	fmt.Fprintf(&b, `<scan_end>%s</scan_end><results>`, scanEnd)
	for _, r := range results {
		b.WriteString(`<result>`)
		fmt.Fprintf(&b, `<host>%s</host><port>%s</port><threat>%s</threat>`, r.Host, r.Port, r.Threat)
		if r.Description != "" {
			fmt.Fprintf(&b, `<description>%s</description>`, r.Description)
		}
		fmt.Fprintf(&b, `<nvt oid=%q><name>%s</name>`, r.OID, r.Name)
		if len(r.DFNCerts) > 0 {
			b.WriteString(`<cert>`)
			for _, id := range r.DFNCerts {
				fmt.Fprintf(&b, `<cert_ref type="DFN-CERT" id=%q/>`, id)
			}
			b.WriteString(`</cert>`)
		}
		b.WriteString(`</nvt></result>`)
	}
	b.WriteString(`</results></report></report></get_reports_response>`)
	return b.String()
}

// AssetsResponse builds a get_reports_response as returned by an asset
// management query: per-host details carrying the report id and result
// counts.
func AssetsResponse(host, reportID, scanEnd string, high, medium, low int) string {
	if reportID == "" {
		reportID = uuid.NewString()
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<get_reports_response status="200" status_text="OK"><report id=%q><report id=%q><host>`,
		uuid.NewString(), uuid.NewString())
	fmt.Fprintf(&b, `<ip>%s</ip><end>%s</end>`, host, scanEnd)
	fmt.Fprintf(&b, `<detail><name>report/@id</name><value>%s</value></detail>`, reportID)
	fmt.Fprintf(&b, `<detail><name>report/result_count/high</name><value>%d</value></detail>`, high)
	fmt.Fprintf(&b, `<detail><name>report/result_count/medium</name><value>%d</value></detail>`, medium)
	fmt.Fprintf(&b, `<detail><name>report/result_count/low</name><value>%d</value></detail>`, low)
	b.WriteString(`</host></report></report></get_reports_response>`)
	return b.String()
}
