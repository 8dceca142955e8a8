package ipc

import (
	"strconv"

	"go.uber.org/zap"
)

// ProcessHandle is an open reference to another process.
type ProcessHandle interface {
	// Running reports whether the process has not exited yet.
	Running() (bool, error)
	Close() error
}

// ProcessOpener opens a handle to the process with the given PID.
type ProcessOpener func(pid int) (ProcessHandle, error)

// CheckAlive reports whether pid refers to a running process.
// A process that can't be opened counts as gone. The handle is closed before returning.
func CheckAlive(pid int) bool {
	return checkAlive(OpenProcess, pid)
}

func checkAlive(open ProcessOpener, pid int) bool {
	h, err := open(pid)
	if err != nil {
		return false
	}
	defer h.Close()
	running, err := h.Running()
	return err == nil && running
}

// Monitor watches the host process named by the worker's first positional argument.
//
// The PID is parsed once and a handle is opened once and cached. When the process is seen to exit, the handle is closed and never reopened:
// PIDs are recycled by the OS, so a second open could silently bind to an unrelated process.
// The same applies when the first open fails. This assumes the host's PID doesn't get reused while the worker is still deciding whether it is alive.
//
// Monitor is not goroutine-safe; it belongs to the worker loop.
type Monitor struct {
	log  *zap.SugaredLogger
	open ProcessOpener

	parsed  bool
	invalid bool
	pid     int
	handle  ProcessHandle
	gone    bool
}

type MonitorOption func(m *Monitor)

func WithMonitorLogger(l *zap.SugaredLogger) MonitorOption {
	return func(m *Monitor) {
		m.log = l
	}
}

// WithMonitorOpener replaces the platform's process handles, mostly for tests.
func WithMonitorOpener(o ProcessOpener) MonitorOption {
	return func(m *Monitor) {
		m.open = o
	}
}

func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		log:  zap.NewNop().Sugar(),
		open: OpenProcess,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CheckAliveFromArgs reports whether the host named by args[0] is alive.
// args are the positional arguments, without the program name.
// With no arguments liveness checking is disabled and this always returns true.
// An argument that isn't a positive decimal PID makes every check fail.
func (m *Monitor) CheckAliveFromArgs(args []string) bool {
	if len(args) == 0 {
		return true
	}
	if !m.parsed {
		m.parsed = true
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			m.log.Warnf("invalid host PID %q, treating host as gone", args[0])
			m.invalid = true
		}
		m.pid = pid
	}
	if m.invalid || m.gone {
		return false
	}

	if m.handle == nil {
		h, err := m.open(m.pid)
		if err != nil {
			m.log.Debugf("opening host process %d: %s", m.pid, err)
			m.gone = true
			return false
		}
		m.handle = h
	}

	running, err := m.handle.Running()
	if err != nil {
		m.log.Debugf("querying host process %d: %s", m.pid, err)
		return false
	}
	if !running {
		m.log.Debugf("host process %d exited", m.pid)
		m.handle.Close()
		m.handle = nil
		m.gone = true
		return false
	}
	return true
}

// Close releases the cached handle, if any.
func (m *Monitor) Close() error {
	if m.handle == nil {
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	return err
}
