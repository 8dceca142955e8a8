//go:build !windows && !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package ipc

import (
	"errors"
	"os"
)

// FileInput returns an Input reading from f.
// Platforms without a non-blocking readiness check fall back to a pumping reader.
func FileInput(f *os.File) (Input, error) {
	if f == nil {
		return nil, errors.New("nil file")
	}
	return ReaderInput(f), nil
}

// StdinInput opens the process's stdin as an Input.
func StdinInput() (Input, error) {
	return FileInput(os.Stdin)
}
