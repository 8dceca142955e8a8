//go:build !unix && !windows

package ipc

import (
	"errors"
)

// OpenProcess is unsupported here, so every host counts as gone.
func OpenProcess(pid int) (ProcessHandle, error) {
	return nil, errors.New("process handles are not supported on this platform")
}
