package ipc

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code GetExitCodeProcess reports for a running process.
const stillActive = 259

type windowsHandle struct {
	h windows.Handle
}

// OpenProcess opens pid with only the rights needed to query its exit code.
func OpenProcess(pid int) (ProcessHandle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}
	return &windowsHandle{h: h}, nil
}

func (h *windowsHandle) Running() (bool, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(h.h, &code); err != nil {
		return false, fmt.Errorf("getting exit code: %w", err)
	}
	return code == stillActive, nil
}

func (h *windowsHandle) Close() error {
	return windows.CloseHandle(h.h)
}
