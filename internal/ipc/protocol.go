// Package ipc implements the length-prefixed JSON control channel a
// CLI/TUI client uses to drive a running server without going through
// HTTP: a single AF_UNIX socket on Unix-like platforms, dispatching a
// tagged command envelope sequentially per connection.
//
// Framing is 4 bytes of big-endian length, then that many bytes of JSON.
// Commands and responses both travel as a tagged
// {"type":...,"payload":...} envelope.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single payload; a declared length above this is a
// fatal protocol error for the connection.
const MaxFrameSize = 64 * 1024

// Protocol errors.
var (
	ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum message size")
	ErrIncomplete    = errors.New("ipc: incomplete frame")
)

// Envelope is the tagged wrapper every command and response travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes v as a length-prefixed frame: 4-byte big-endian length
// followed by the JSON bytes.
func Encode(v Envelope) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// Decode attempts to read one frame's worth of bytes from buf. It returns
// the decoded envelope, the number of bytes consumed from buf, and
// ErrIncomplete if buf does not yet hold a complete frame. The caller's
// buffer is only ever advanced by the returned consumed count — a partial
// frame must be left untouched for the next read to extend.
func Decode(buf []byte) (Envelope, int, error) {
	if len(buf) < 4 {
		return Envelope{}, 0, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(buf[:4])
	if length > MaxFrameSize {
		return Envelope{}, 0, ErrFrameTooLarge
	}
	total := 4 + int(length)
	if len(buf) < total {
		return Envelope{}, 0, ErrIncomplete
	}

	var env Envelope
	if err := json.Unmarshal(buf[4:total], &env); err != nil {
		return Envelope{}, 0, fmt.Errorf("ipc: decode envelope: %w", err)
	}
	return env, total, nil
}

// WriteFrame encodes v and writes it to w in one call.
func WriteFrame(w io.Writer, v Envelope) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads exactly one frame from r: a 4-byte length prefix, then
// that many payload bytes. It never reads past a single frame, so a
// connection's next ReadFrame call starts exactly where this one left off.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("ipc: decode envelope: %w", err)
	}
	return env, nil
}

// newEnvelope marshals payload into an Envelope tagged with typ.
func newEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}
