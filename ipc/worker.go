package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the pause between two ticks of the worker loop.
const DefaultInterval = 20 * time.Millisecond

var (
	// ErrHostGone is returned by Run when the host process is no longer alive. It is the normal way for a worker to stop.
	ErrHostGone = errors.New("host process is gone")
	// ErrTransport is returned by Run when the input or output stream fails.
	ErrTransport = errors.New("transport failed")
	// ErrCapabilityUnavailable is returned by Run when a required capability marker is missing.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// Worker drives the loop: every tick it checks the host's liveness, then polls and dispatches input.
type Worker struct {
	logger *zap.Logger
	log    *zap.SugaredLogger

	registry   *Registry
	middleware []Middleware
	openInput  InputOpener
	output     io.Writer
	frames     *FrameWriter

	interval          time.Duration
	heartbeatInterval time.Duration
	parentArgs        []string
	processOpener     ProcessOpener

	requireCapability bool
	markerExt         string
	exePath           string
}

type Option func(w *Worker)

func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithInterval sets the pause between ticks.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.interval = d
	}
}

// WithHeartbeatInterval makes the worker write an empty frame every d. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.heartbeatInterval = d
	}
}

// WithParentArgs sets the positional arguments the host PID is taken from.
func WithParentArgs(args []string) Option {
	return func(w *Worker) {
		w.parentArgs = args
	}
}

// WithProcessOpener replaces the platform's process handles used for liveness checks.
func WithProcessOpener(o ProcessOpener) Option {
	return func(w *Worker) {
		w.processOpener = o
	}
}

// WithInput replaces stdin as the request stream.
func WithInput(open InputOpener) Option {
	return func(w *Worker) {
		w.openInput = open
	}
}

// WithOutput replaces stdout as the response stream.
func WithOutput(out io.Writer) Option {
	return func(w *Worker) {
		w.output = out
	}
}

func WithMiddleware(mws ...Middleware) Option {
	return func(w *Worker) {
		w.middleware = append(w.middleware, mws...)
	}
}

// WithRequireCapability makes Run fail unless the capability marker with extension ext sits next to the executable.
func WithRequireCapability(ext string) Option {
	return func(w *Worker) {
		w.requireCapability = true
		w.markerExt = ext
	}
}

// WithExecutablePath overrides the executable path used by the capability gate.
func WithExecutablePath(p string) Option {
	return func(w *Worker) {
		w.exePath = p
	}
}

func NewWorker(registry *Registry, opts ...Option) *Worker {
	w := &Worker{
		logger:    zap.NewNop(),
		registry:  registry,
		openInput: StdinInput,
		output:    os.Stdout,
		interval:  DefaultInterval,
		markerExt: DefaultMarkerExt,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.logger.Named("worker").Sugar()
	w.frames = NewFrameWriter(w.output)
	return w
}

// SendHeartbeat writes an empty frame to the output.
// It must not be called concurrently with Run.
func (w *Worker) SendHeartbeat() error {
	return w.frames.WriteHeartbeat()
}

func (w *Worker) capabilityAvailable() bool {
	if w.exePath != "" {
		return CapabilityAvailableAt(w.exePath, w.markerExt)
	}
	return CapabilityAvailable(w.markerExt)
}

// Run runs the loop until the host is gone, the transport fails, or ctx is done.
// It returns ErrHostGone when the host is gone, an error wrapping ErrTransport when the transport fails, and nil when ctx is done.
// The registry is frozen before the first tick.
func (w *Worker) Run(ctx context.Context) error {
	if w.requireCapability && !w.capabilityAvailable() {
		return fmt.Errorf("%w: no .%s marker next to the executable", ErrCapabilityUnavailable, w.markerExt)
	}
	w.registry.Freeze()

	monitorOpts := []MonitorOption{WithMonitorLogger(w.logger.Named("monitor").Sugar())}
	if w.processOpener != nil {
		monitorOpts = append(monitorOpts, WithMonitorOpener(w.processOpener))
	}
	monitor := NewMonitor(monitorOpts...)
	defer monitor.Close()

	mws := append([]Middleware{LoggingMiddleware(w.logger.Named("dispatcher").Sugar())}, w.middleware...)
	dispatcher := NewDispatcher(w.logger.Named("dispatcher").Sugar(), w.registry, w.output, mws...)
	poller := NewPoller(w.logger.Named("poller").Sugar(), w.openInput, dispatcher)

	var lastHeartbeat time.Time
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	w.log.Debugw("worker loop started", "Interval", w.interval, "Operations", w.registry.Names())
	for {
		select {
		case <-ctx.Done():
			w.log.Debugf("context done: %s", ctx.Err())
			return nil
		case <-timer.C:
		}

		if !monitor.CheckAliveFromArgs(w.parentArgs) {
			w.log.Info("host is gone, stopping")
			return ErrHostGone
		}

		if poller.Poll(ctx) == StatusError {
			return fmt.Errorf("%w: %w", ErrTransport, poller.Err())
		}

		if w.heartbeatInterval > 0 && time.Since(lastHeartbeat) >= w.heartbeatInterval {
			if err := w.SendHeartbeat(); err != nil {
				return fmt.Errorf("%w: %w", ErrTransport, err)
			}
			lastHeartbeat = time.Now()
		}

		// the pause is between ticks, not around handlers
		timer.Reset(w.interval)
	}
}

// ExitCode maps the result of Run to a process exit code: 0 for a graceful stop, 1 otherwise.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, ErrHostGone) {
		return 0
	}
	return 1
}
