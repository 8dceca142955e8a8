package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ChunkSize bounds how many bytes a single Poll reads.
const ChunkSize = 4096

var (
	// ErrClosed is reported by an Input whose other end has gone away.
	ErrClosed = errors.New("input closed")
	// ErrNoData is reported by an Input when a read would block. Pollers treat it as an idle tick.
	ErrNoData = errors.New("no data available")
)

// Input is a byte stream that can report how much can be read without blocking.
type Input interface {
	// Available returns the number of bytes that can be read without blocking.
	Available() (int, error)
	Read(p []byte) (int, error)
}

// InputOpener acquires an Input. Pollers call it lazily, on their first Poll.
type InputOpener func() (Input, error)

type Status int

const (
	StatusSuccess Status = iota
	// StatusError means the transport failed and the loop must stop.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Poller accumulates input across ticks and feeds every complete line to a Dispatcher.
// It is not goroutine-safe; it belongs to the loop that calls Poll.
type Poller struct {
	log        *zap.SugaredLogger
	open       InputOpener
	dispatcher *Dispatcher

	in    Input
	buf   []byte
	chunk []byte
	err   error
}

func NewPoller(log *zap.SugaredLogger, open InputOpener, dispatcher *Dispatcher) *Poller {
	return &Poller{
		log:        log,
		open:       open,
		dispatcher: dispatcher,
		chunk:      make([]byte, ChunkSize),
	}
}

// Poll runs one tick without blocking on input.
// Handlers for any complete lines run inline before Poll returns.
func (p *Poller) Poll(ctx context.Context) Status {
	if p.in == nil {
		in, err := p.open()
		if err != nil {
			return p.fail(fmt.Errorf("acquiring input: %w", err))
		}
		p.in = in
	}

	avail, err := p.in.Available()
	if err != nil {
		return p.classify(err)
	}
	if avail <= 0 {
		return StatusSuccess
	}
	if avail > ChunkSize {
		avail = ChunkSize
	}

	n, readErr := p.in.Read(p.chunk[:avail])
	if n > 0 {
		p.buf = append(p.buf, p.chunk[:n]...)
		if err := p.drain(ctx); err != nil {
			return p.fail(err)
		}
	}
	if readErr != nil {
		return p.classify(readErr)
	}
	return StatusSuccess
}

// Err returns the reason for the last StatusError.
func (p *Poller) Err() error {
	return p.err
}

// Buffered returns the number of bytes held back waiting for a newline.
func (p *Poller) Buffered() int {
	return len(p.buf)
}

func (p *Poller) drain(ctx context.Context) error {
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		if err := p.dispatcher.HandleLine(ctx, line); err != nil {
			return err
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return nil
}

func (p *Poller) classify(err error) Status {
	switch {
	case errors.Is(err, ErrNoData):
		return StatusSuccess
	case errors.Is(err, io.EOF), errors.Is(err, ErrClosed):
		return p.fail(ErrClosed)
	default:
		return p.fail(fmt.Errorf("reading input: %w", err))
	}
}

func (p *Poller) fail(err error) Status {
	p.err = err
	p.log.Debugf("poll failed: %s", err)
	return StatusError
}
