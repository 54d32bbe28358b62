//go:build windows

package ipc

import (
	"errors"
	"net"
)

// DefaultSocketPath is the well-known Named Pipe name. Go's standard
// library has no Named Pipe support, so the Windows transport is a stub;
// a real implementation needs microsoft/go-winio or equivalent.
const DefaultSocketPath = `\\.\pipe\shortlinker`

var errUnsupported = errors.New("ipc: windows named pipe transport is not implemented")

// Listen always fails on Windows builds; see errUnsupported.
func Listen(path string) (net.Listener, error) {
	return nil, errUnsupported
}

// Dial always fails on Windows builds; see errUnsupported.
func Dial(path string) (net.Conn, error) {
	return nil, errUnsupported
}
