//go:build unix && !linux

package ipc

// OpenProcess opens a handle to pid. Without pidfds this is a signal-0 probe.
func OpenProcess(pid int) (ProcessHandle, error) {
	return openSignalProbe(pid)
}
