package net

import (
	"fmt"
	"net"
)

// FreeLoopbackAddr returns a loopback "host:port" address whose port was free a moment ago.
// Another process may still grab it before the caller listens on it.
func FreeLoopbackAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
