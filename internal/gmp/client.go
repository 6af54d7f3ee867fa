// Package gmp is a minimal client for the Greenbone Management Protocol,
// covering exactly the commands the check needs. Connections speak XML
// request/response pairs over TLS, a unix socket, or SSH.
package gmp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ConnType selects the transport to the scan manager.
type ConnType string

const (
	ConnTLS    ConnType = "tls"
	ConnSSH    ConnType = "ssh"
	ConnSocket ConnType = "socket"
)

// ReportsRequest selects which reports a get_reports command fetches.
type ReportsRequest struct {
	// ReportID fetches a single report document.
	ReportID string

	// Type switches the query kind; "assets" queries asset management.
	Type string

	// Host restricts an asset query to one host.
	Host string

	Filter ReportFilter
}

// Client is the narrow view of the scan manager the check needs.
type Client interface {
	GetVersion(ctx context.Context) (*VersionResponse, error)

	Authenticate(ctx context.Context, username, password string) error

	GetTasks(ctx context.Context, filter TaskFilter) (*TasksResponse, error)

	// GetReports returns both the decoded response and the raw response
	// bytes; the raw form is what the report cache stores.
	GetReports(ctx context.Context, req ReportsRequest) (*ReportsResponse, []byte, error)

	Close() error
}

// Options configures a connection to the scan manager.
type Options struct {
	Type ConnType

	// Host and Port address the manager for TLS and SSH connections.
	Host string
	Port int

	// SockPath is the manager's unix socket for socket connections.
	SockPath string

	// SSHUser is the login user for SSH connections.
	SSHUser string

	// Timeout bounds connection establishment and each command round
	// trip. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRPS caps the command rate against the manager (0 = unlimited).
	MaxRPS float64

	Logger *slog.Logger
}

// DefaultTimeout bounds command round trips when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Conn is a Client over one of the supported transports.
type Conn struct {
	t       transport
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Client = (*Conn)(nil)

// Connect dials the scan manager. The returned connection is not yet
// authenticated.
func Connect(opts Options) (*Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var (
		t   transport
		err error
	)
	switch opts.Type {
	case ConnTLS:
		t, err = dialTLS(opts)
	case ConnSocket:
		t, err = dialSocket(opts)
	case ConnSSH:
		t, err = dialSSH(opts)
	default:
		return nil, fmt.Errorf("gmp: unknown connection type %q", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return &Conn{t: t, limiter: limiter, logger: logger}, nil
}

// GetVersion asks the manager for its protocol version.
func (c *Conn) GetVersion(ctx context.Context) (*VersionResponse, error) {
	var resp VersionResponse
	if _, err := c.exec(ctx, getVersionCommand{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Authenticate logs the session in. Authentication failures surface as a
// StatusError.
func (c *Conn) Authenticate(ctx context.Context, username, password string) error {
	cmd := authenticateCommand{}
	cmd.Credentials.Username = username
	cmd.Credentials.Password = password

	var resp authenticateResponse
	if _, err := c.exec(ctx, cmd, &resp); err != nil {
		return err
	}
	return resp.statusErr()
}

// GetTasks fetches tasks matching the filter.
func (c *Conn) GetTasks(ctx context.Context, filter TaskFilter) (*TasksResponse, error) {
	var resp TasksResponse
	if _, err := c.exec(ctx, getTasksCommand{Filter: filter.String()}, &resp); err != nil {
		return nil, err
	}
	if err := resp.statusErr(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetReports fetches report documents.
func (c *Conn) GetReports(ctx context.Context, req ReportsRequest) (*ReportsResponse, []byte, error) {
	cmd := getReportsCommand{
		ReportID: req.ReportID,
		Type:     req.Type,
		Host:     req.Host,
		Filter:   req.Filter.String(),
	}
	var resp ReportsResponse
	raw, err := c.exec(ctx, cmd, &resp)
	if err != nil {
		return nil, nil, err
	}
	if err := resp.statusErr(); err != nil {
		return nil, nil, err
	}
	return &resp, raw, nil
}

// Close shuts the connection down.
func (c *Conn) Close() error {
	return c.t.close()
}

// exec marshals one command, sends it, and decodes the reply into out.
// It returns the raw response bytes.
func (c *Conn) exec(ctx context.Context, command any, out any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("gmp: rate limit: %w", err)
		}
	}

	payload, err := xml.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("gmp: encode command: %w", err)
	}
	c.logger.Debug("sending command", "command", string(payload))

	raw, err := c.t.roundTrip(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("gmp: %w", err)
	}

	if err := xml.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("gmp: decode response: %w", err)
	}
	return raw, nil
}
