//go:build unix

package ipc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// probeHandle checks a process with signal 0. It holds no kernel reference, so unlike a pidfd it can't tell a recycled PID apart.
type probeHandle struct {
	pid int
}

func openSignalProbe(pid int) (ProcessHandle, error) {
	h := &probeHandle{pid: pid}
	running, err := h.Running()
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, fmt.Errorf("process %d: %w", pid, unix.ESRCH)
	}
	return h, nil
}

func (h *probeHandle) Running() (bool, error) {
	err := unix.Kill(h.pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		// EPERM means it exists but belongs to someone else
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	}
	return false, fmt.Errorf("probing process %d: %w", h.pid, err)
}

func (h *probeHandle) Close() error {
	return nil
}
