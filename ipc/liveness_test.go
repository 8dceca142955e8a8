package ipc

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	running bool
	err     error
	closed  int
}

func (p *fakeProcess) Running() (bool, error) { return p.running, p.err }

func (p *fakeProcess) Close() error {
	p.closed++
	return nil
}

// fakeOpener hands out proc and counts how often it was asked to.
type fakeOpener struct {
	proc  *fakeProcess
	err   error
	opens int
	pids  []int
}

func (o *fakeOpener) open(pid int) (ProcessHandle, error) {
	o.opens++
	o.pids = append(o.pids, pid)
	if o.err != nil {
		return nil, o.err
	}
	return o.proc, nil
}

func TestMonitorWithoutArgs(t *testing.T) {
	o := &fakeOpener{}
	m := NewMonitor(WithMonitorOpener(o.open))
	assert.True(t, m.CheckAliveFromArgs(nil))
	assert.True(t, m.CheckAliveFromArgs([]string{}))
	assert.Zero(t, o.opens)
}

func TestMonitorInvalidPID(t *testing.T) {
	for _, arg := range []string{"abc", "", "-5", "0", "12abc", "1.5"} {
		t.Run(arg, func(t *testing.T) {
			o := &fakeOpener{proc: &fakeProcess{running: true}}
			m := NewMonitor(WithMonitorOpener(o.open))
			assert.False(t, m.CheckAliveFromArgs([]string{arg}))
			assert.False(t, m.CheckAliveFromArgs([]string{arg}))
			assert.Zero(t, o.opens)
		})
	}
}

func TestMonitorCachesHandle(t *testing.T) {
	o := &fakeOpener{proc: &fakeProcess{running: true}}
	m := NewMonitor(WithMonitorOpener(o.open))
	args := []string{"4242", "ignored"}

	assert.True(t, m.CheckAliveFromArgs(args))
	assert.True(t, m.CheckAliveFromArgs(args))
	assert.True(t, m.CheckAliveFromArgs(args))
	assert.Equal(t, 1, o.opens)
	assert.Equal(t, []int{4242}, o.pids)

	require.NoError(t, m.Close())
	assert.Equal(t, 1, o.proc.closed)
	require.NoError(t, m.Close())
	assert.Equal(t, 1, o.proc.closed)
}

func TestMonitorNeverReopensAfterExit(t *testing.T) {
	o := &fakeOpener{proc: &fakeProcess{running: true}}
	m := NewMonitor(WithMonitorOpener(o.open))
	args := []string{"4242"}

	require.True(t, m.CheckAliveFromArgs(args))
	o.proc.running = false
	assert.False(t, m.CheckAliveFromArgs(args))
	assert.Equal(t, 1, o.proc.closed)

	// a new process with the same PID must not revive the host
	o.proc.running = true
	assert.False(t, m.CheckAliveFromArgs(args))
	assert.Equal(t, 1, o.opens)
	assert.Equal(t, 1, o.proc.closed)
}

func TestMonitorOpenFailureIsTerminal(t *testing.T) {
	o := &fakeOpener{err: errors.New("no such process")}
	m := NewMonitor(WithMonitorOpener(o.open))
	assert.False(t, m.CheckAliveFromArgs([]string{"4242"}))

	o.err = nil
	o.proc = &fakeProcess{running: true}
	assert.False(t, m.CheckAliveFromArgs([]string{"4242"}))
	assert.Equal(t, 1, o.opens)
}

func TestMonitorQueryErrorKeepsHandle(t *testing.T) {
	proc := &fakeProcess{err: errors.New("transient")}
	o := &fakeOpener{proc: proc}
	m := NewMonitor(WithMonitorOpener(o.open))

	assert.False(t, m.CheckAliveFromArgs([]string{"4242"}))
	assert.Zero(t, proc.closed)

	proc.err = nil
	proc.running = true
	assert.True(t, m.CheckAliveFromArgs([]string{"4242"}))
	assert.Equal(t, 1, o.opens)
}

func TestCheckAliveSelf(t *testing.T) {
	assert.True(t, CheckAlive(os.Getpid()))
	assert.True(t, NewMonitor().CheckAliveFromArgs([]string{strconv.Itoa(os.Getpid())}))
}

func TestCheckAliveClosesHandle(t *testing.T) {
	proc := &fakeProcess{running: true}
	o := &fakeOpener{proc: proc}
	assert.True(t, checkAlive(o.open, 1))
	assert.Equal(t, 1, proc.closed)

	proc.running = false
	assert.False(t, checkAlive(o.open, 1))
	assert.Equal(t, 2, proc.closed)

	o.err = errors.New("denied")
	assert.False(t, checkAlive(o.open, 1))
}

func TestCheckAliveExitedChild(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	pid := cmd.Process.Pid

	assert.False(t, CheckAlive(pid))
	assert.False(t, NewMonitor().CheckAliveFromArgs([]string{strconv.Itoa(pid)}))
}
