package ipc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// pidfdHandle is a pidfd, which becomes readable once the process exits and can't be confused with a later process reusing the PID.
type pidfdHandle struct {
	fd int
}

// OpenProcess opens a pidfd for pid, falling back to signal probing on kernels without pidfd_open.
func OpenProcess(pid int) (ProcessHandle, error) {
	fd, err := unix.PidfdOpen(pid, 0)
	if errors.Is(err, unix.ENOSYS) {
		return openSignalProbe(pid)
	}
	if err != nil {
		return nil, fmt.Errorf("opening pidfd for %d: %w", pid, err)
	}
	return &pidfdHandle{fd: fd}, nil
}

func (h *pidfdHandle) Running() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(h.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("polling pidfd: %w", err)
		}
		return n == 0, nil
	}
}

func (h *pidfdHandle) Close() error {
	return unix.Close(h.fd)
}
