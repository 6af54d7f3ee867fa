package gmp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// transport sends one command and reads one response document.
type transport interface {
	roundTrip(ctx context.Context, command []byte) ([]byte, error)
	close() error
}

func dialTLS(opts Options) (transport, error) {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	dialer := &net.Dialer{Timeout: opts.Timeout}
	// GVM appliances ship self-signed certificates; the protocol relies
	// on GMP-level authentication, not on the TLS trust chain.
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gmp: dial tls %s: %w", addr, err)
	}
	return &netTransport{conn: conn, timeout: opts.Timeout}, nil
}

func dialSocket(opts Options) (transport, error) {
	conn, err := net.DialTimeout("unix", opts.SockPath, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("gmp: dial socket %s: %w", opts.SockPath, err)
	}
	return &netTransport{conn: conn, timeout: opts.Timeout}, nil
}

// netTransport is the stream transport shared by TLS and unix-socket
// connections.
type netTransport struct {
	conn    net.Conn
	timeout time.Duration
}

func (t *netTransport) roundTrip(ctx context.Context, command []byte) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := t.conn.Write(command); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	return readElement(t.conn)
}

func (t *netTransport) close() error {
	return t.conn.Close()
}

func dialSSH(opts Options) (transport, error) {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	config := &ssh.ClientConfig{
		User: opts.SSHUser,
		// The gmp login shell on the appliance accepts an empty
		// password and speaks the protocol directly.
		Auth:            []ssh.AuthMethod{ssh.Password("")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.Timeout,
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("gmp: dial ssh %s: %w", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("gmp: ssh session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("gmp: ssh stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("gmp: ssh stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("gmp: ssh shell: %w", err)
	}
	return &sshTransport{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

// sshTransport pipes commands through the manager's GMP login shell.
// SSH channels have no read deadlines; the dial timeout bounds connection
// establishment and the server closes idle sessions.
type sshTransport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (t *sshTransport) roundTrip(ctx context.Context, command []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := t.stdin.Write(command); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	return readElement(t.stdout)
}

func (t *sshTransport) close() error {
	t.stdin.Close()
	t.session.Close()
	return t.client.Close()
}

// readElement consumes exactly one top-level XML element from r and
// returns its raw bytes. The manager sends one document per command, so
// the element boundary is the response boundary.
func readElement(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	dec := xml.NewDecoder(io.TeeReader(r, &buf))

	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return bytes.TrimSpace(buf.Bytes()), nil
			}
		}
	}
}
