package ipc

import (
	"fmt"
	"time"
)

// Probe attempts a Ping against the control channel at path and reports
// whether a live instance answered. Used at startup for the single-instance
// guarantee: a successful Ping means another process already owns the
// endpoint and this process must exit; a connection refusal or timeout
// means the endpoint is stale (or absent) and safe to bind.
func Probe(path string, timeout time.Duration) (bool, error) {
	conn, err := Dial(path)
	if err != nil {
		// connection refused / no such file: no live instance.
		return false, nil
	}
	defer conn.Close()

	if timeout > 0 {
		deadline := time.Now().Add(timeout)
		_ = conn.SetDeadline(deadline)
	}

	env, err := newEnvelope(CmdPing, nil)
	if err != nil {
		return false, err
	}
	if err := WriteFrame(conn, env); err != nil {
		return false, nil
	}

	resp, err := ReadFrame(conn)
	if err != nil {
		return false, nil
	}
	if resp.Type != RespPong {
		return false, fmt.Errorf("ipc: unexpected probe response type %q", resp.Type)
	}
	return true, nil
}

// Client is a thin synchronous request/response wrapper for CLI-style
// callers that issue one command per connection.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient builds a Client targeting the control channel at path.
func NewClient(path string, timeout time.Duration) *Client {
	return &Client{path: path, timeout: timeout}
}

// Send opens a connection, writes one command envelope, reads the matching
// response, and closes the connection.
func (c *Client) Send(typ string, payload any) (Envelope, error) {
	conn, err := Dial(c.path)
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: dial: %w", err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	env, err := newEnvelope(typ, payload)
	if err != nil {
		return Envelope{}, err
	}
	if err := WriteFrame(conn, env); err != nil {
		return Envelope{}, fmt.Errorf("ipc: write: %w", err)
	}

	resp, err := ReadFrame(conn)
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: read: %w", err)
	}
	return resp, nil
}
