package ipc

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Handler resolves a request into a response. Middleware wraps Handlers.
type Handler func(ctx context.Context, req Request) Response

type Middleware func(next Handler) Handler

// Chain composes middleware so that the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Dispatcher resolves decoded frames against a Registry and writes one response per request.
type Dispatcher struct {
	log      *zap.SugaredLogger
	registry *Registry
	frames   *FrameWriter
	handle   Handler
}

func NewDispatcher(log *zap.SugaredLogger, registry *Registry, out io.Writer, mws ...Middleware) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		registry: registry,
		frames:   NewFrameWriter(out),
	}
	d.handle = Chain(mws...)(d.invoke)
	return d
}

// Dispatch builds the response for a decoded frame. It never fails: unknown calls, handler errors and handler panics all become error responses.
func (d *Dispatcher) Dispatch(ctx context.Context, frame Object) Response {
	req := RequestFromFrame(frame)
	resp := d.handle(ctx, req)
	resp.ID = req.ID
	return resp
}

// HandleLine decodes a line and, if it is a frame, dispatches it and writes the response.
// Lines that aren't frames are dropped without writing anything.
// A response that can't be encoded is replaced by an error response for the same id.
// The returned error is always an output error.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte) error {
	frame, ok := DecodeFrame(line)
	if !ok {
		d.log.Debugf("ignoring %d-byte line that is not a frame", len(line))
		return nil
	}
	resp := d.Dispatch(ctx, frame)
	b, err := EncodeFrame(resp)
	if err != nil {
		// data the handler returned can't be encoded as JSON, e.g. NaN or a func
		d.log.Warnw("replacing unencodable response", "ID", resp.ID, "Error", err)
		if b, err = EncodeFrame(Failure(resp.ID, "encoding response: "+err.Error())); err != nil {
			return err
		}
	}
	return d.frames.WriteEncoded(b)
}

func (d *Dispatcher) invoke(ctx context.Context, req Request) (resp Response) {
	fn, ok := d.registry.Lookup(req.Call)
	if !ok {
		return Failure(req.ID, "No handler: "+req.Call)
	}

	defer func() {
		if p := recover(); p != nil {
			d.log.Errorw("handler panicked", "Call", req.Call, "ID", req.ID, "Panic", p)
			resp = Failure(req.ID, fmt.Sprintf("panic: %v", p))
		}
	}()

	out := Object{}
	if err := fn(ctx, req.Data, out); err != nil {
		return Failure(req.ID, err.Error())
	}
	return Success(req.ID, out)
}
