package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/stdipc/ipc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxLineSize is the longest line the host accepts from a worker.
const MaxLineSize = 16 << 20

// ErrClosed is returned by calls that can't complete because the worker's output ended.
var ErrClosed = errors.New("worker output closed")

// RemoteError is a failure reported by the worker in an error response.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Host talks to one worker over its stdin and stdout.
// Calls may be made from any number of goroutines; responses are routed back by id.
type Host struct {
	log *zap.SugaredLogger

	args        []string
	env         []string
	parentPID   bool
	stderr      io.Writer
	passthrough io.Writer

	cmd    *exec.Cmd
	input  io.WriteCloser
	output io.Reader

	writeMut sync.Mutex
	frames   *ipc.FrameWriter

	mut           sync.Mutex
	pending       map[string]chan ipc.Response
	closed        bool
	closeErr      error
	lastHeartbeat time.Time

	group    *errgroup.Group
	done     chan struct{}
	waitOnce sync.Once
	waitErr  error
}

type Option func(h *Host)

func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.log = l.Named("host").Sugar()
	}
}

// WithArgs appends arguments to the worker's command line, before the host PID.
func WithArgs(args ...string) Option {
	return func(h *Host) {
		h.args = append(h.args, args...)
	}
}

// WithEnv adds environment variables, in "KEY=value" form, to the worker's environment.
func WithEnv(env ...string) Option {
	return func(h *Host) {
		h.env = append(h.env, env...)
	}
}

// WithoutParentPID stops the host from passing its PID to the worker, which disables the worker's liveness checks.
func WithoutParentPID() Option {
	return func(h *Host) {
		h.parentPID = false
	}
}

// WithStderr sends the worker's stderr to w instead of the host's stderr.
func WithStderr(w io.Writer) Option {
	return func(h *Host) {
		h.stderr = w
	}
}

// WithPassthrough sends worker output lines that aren't frames to w.
// By default they are logged.
func WithPassthrough(w io.Writer) Option {
	return func(h *Host) {
		h.passthrough = w
	}
}

func newHost(opts []Option) *Host {
	h := &Host{
		log:       zap.NewNop().Sugar(),
		parentPID: true,
		stderr:    os.Stderr,
		pending:   map[string]chan ipc.Response{},
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Start launches the worker at path and starts reading its output.
// The host's PID is passed as the worker's last argument unless WithoutParentPID is given,
// so flags given with WithArgs come before it.
// The worker is killed if ctx is canceled before it exits.
func Start(ctx context.Context, path string, opts ...Option) (*Host, error) {
	h := newHost(opts)

	args := slices.Clone(h.args)
	if h.parentPID {
		args = append(args, strconv.Itoa(os.Getpid()))
	}
	cmd := exec.CommandContext(ctx, path, args...)
	if len(h.env) > 0 {
		cmd.Env = append(os.Environ(), h.env...)
	}
	cmd.Stderr = h.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	h.log.Debugw("starting worker", "Path", path, "Args", args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %q: %w", path, err)
	}
	h.cmd = cmd
	h.attach(stdin, stdout)
	return h, nil
}

// New attaches a host to a worker that is already running, writing requests to w and reading frames from r.
func New(w io.WriteCloser, r io.Reader, opts ...Option) *Host {
	h := newHost(opts)
	h.attach(w, r)
	return h
}

func (h *Host) attach(w io.WriteCloser, r io.Reader) {
	h.input = w
	h.output = r
	h.frames = ipc.NewFrameWriter(w)
	h.group = &errgroup.Group{}
	h.group.Go(h.readOutput)
}

func (h *Host) readOutput() error {
	sc := bufio.NewScanner(h.output)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for sc.Scan() {
		h.handleLine(sc.Bytes())
	}
	err := sc.Err()
	if err != nil {
		h.log.Debugf("reading worker output: %s", err)
	}
	h.shutdown(err)
	if errors.Is(err, os.ErrClosed) {
		// the pipe was closed under us by cmd.Wait or Kill
		return nil
	}
	return err
}

func (h *Host) handleLine(line []byte) {
	if !bytes.HasPrefix(line, []byte(ipc.Magic)) {
		h.passThrough(line)
		return
	}
	frame, ok := ipc.DecodeFrame(line)
	if !ok {
		h.log.Warnf("dropping malformed frame %q", line)
		return
	}
	if len(frame) == 0 {
		h.mut.Lock()
		h.lastHeartbeat = time.Now()
		h.mut.Unlock()
		return
	}

	resp := ipc.ResponseFromFrame(frame)
	h.mut.Lock()
	ch, ok := h.pending[resp.ID]
	delete(h.pending, resp.ID)
	h.mut.Unlock()
	if !ok {
		h.log.Debugf("dropping response for unknown id %q", resp.ID)
		return
	}
	ch <- resp
}

func (h *Host) passThrough(line []byte) {
	if h.passthrough == nil {
		h.log.Infof("worker: %s", line)
		return
	}
	b := make([]byte, 0, len(line)+1)
	b = append(append(b, line...), '\n')
	if _, err := h.passthrough.Write(b); err != nil {
		h.log.Debugf("writing passthrough output: %s", err)
	}
}

func (h *Host) shutdown(err error) {
	h.mut.Lock()
	defer h.mut.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.closeErr = err
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
	close(h.done)
}

func (h *Host) errClosed() error {
	h.mut.Lock()
	defer h.mut.Unlock()
	if h.closeErr != nil {
		return fmt.Errorf("%w: %w", ErrClosed, h.closeErr)
	}
	return ErrClosed
}

func (h *Host) send(req ipc.Request) error {
	h.writeMut.Lock()
	defer h.writeMut.Unlock()
	return h.frames.WriteFrame(req)
}

func (h *Host) forget(id string) {
	h.mut.Lock()
	delete(h.pending, id)
	h.mut.Unlock()
}

// Call sends a request for op and waits for its response.
// A failed response is returned as a *RemoteError.
func (h *Host) Call(ctx context.Context, op string, data ipc.Object) (ipc.Object, error) {
	id := uuid.NewString()
	ch := make(chan ipc.Response, 1)

	h.mut.Lock()
	if h.closed {
		h.mut.Unlock()
		return nil, h.errClosed()
	}
	h.pending[id] = ch
	h.mut.Unlock()

	if err := h.send(ipc.Request{Call: op, ID: id, Data: data}); err != nil {
		h.forget(id)
		return nil, fmt.Errorf("sending %s request: %w", op, err)
	}

	select {
	case <-ctx.Done():
		h.forget(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, h.errClosed()
		}
		if resp.Failed() {
			return nil, &RemoteError{Op: op, Message: *resp.Error}
		}
		return resp.Data, nil
	}
}

// Notify sends a request without an id and doesn't wait for the response.
func (h *Host) Notify(op string, data ipc.Object) error {
	if err := h.send(ipc.Request{Call: op, Data: data}); err != nil {
		return fmt.Errorf("sending %s notification: %w", op, err)
	}
	return nil
}

// Alive reports whether the worker's output is still open.
func (h *Host) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the worker's output ends.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// LastHeartbeat returns when the worker last sent a heartbeat, or the zero time if it never did.
func (h *Host) LastHeartbeat() time.Time {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.lastHeartbeat
}

// PID returns the worker's PID, or 0 for an attached host.
func (h *Host) PID() int {
	if h.cmd == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Wait waits for the worker's output to end and, for a launched worker, for the process to exit.
func (h *Host) Wait() error {
	h.waitOnce.Do(func() {
		readErr := h.group.Wait()
		if h.cmd != nil {
			if err := h.cmd.Wait(); err != nil {
				h.waitErr = fmt.Errorf("waiting for worker: %w", err)
				return
			}
		}
		if readErr != nil {
			h.waitErr = fmt.Errorf("reading worker output: %w", readErr)
		}
	})
	return h.waitErr
}

// Stop asks the worker to stop. A launched worker is interrupted (killed on Windows, which has no interrupt);
// an attached worker has its input closed.
func (h *Host) Stop() error {
	if h.cmd == nil {
		return h.input.Close()
	}
	if runtime.GOOS == "windows" {
		return h.Kill()
	}
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("interrupting worker: %w", err)
	}
	return nil
}

// Kill stops the worker immediately.
func (h *Host) Kill() error {
	if h.cmd == nil {
		return h.input.Close()
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing worker: %w", err)
	}
	return nil
}

// Close stops the worker and waits for it.
func (h *Host) Close() error {
	if err := h.Stop(); err != nil {
		return err
	}
	return h.Wait()
}
