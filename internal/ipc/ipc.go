// Package ipc locates the local Unix-socket bridge channel used by CLI
// subcommands (history/paste/pin/clear/status) to talk to a running
// clipvault daemon.
//
// The socket carries the same NDJSON protocol as the optional TCP listener,
// always unencrypted — the socket file is owner-restricted by the OS.
package ipc

import (
	"net"
	"os"
	"path/filepath"
)

// SocketPath returns the path of the bridge socket.
//
// Resolution order: $CLIPVAULT_SOCKET, $XDG_RUNTIME_DIR/clipvault.sock,
// $TMPDIR/clipvault.sock.
func SocketPath() string {
	if s := os.Getenv("CLIPVAULT_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipvault.sock")
	}
	return filepath.Join(os.TempDir(), "clipvault.sock")
}

// IsRunning reports whether a clipvault daemon appears to be listening on
// the bridge socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := net.Dial("unix", SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates and returns a net.Listener on the socket path, removing
// any stale socket file from a previous (crashed) run first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// Dial connects to the bridge socket.
func Dial() (net.Conn, error) {
	return net.Dial("unix", SocketPath())
}
