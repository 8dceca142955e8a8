package ipc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(in Input) (*Poller, *bytes.Buffer) {
	d, out := newTestDispatcher(testRegistry())
	return NewPoller(log, openFake(in), d), out
}

func TestPollIdle(t *testing.T) {
	in := &fakeInput{}
	p, out := newTestPoller(in)
	assert.Equal(t, StatusSuccess, p.Poll(context.Background()))
	assert.Zero(t, in.reads)
	assert.Zero(t, out.Len())
}

func TestPollPartialLine(t *testing.T) {
	in := &fakeInput{}
	p, out := newTestPoller(in)
	ctx := context.Background()

	line := requestLine(t, "x", "1", Object{"k": "v"})
	split := len(line) / 2

	in.feed(line[:split])
	require.Equal(t, StatusSuccess, p.Poll(ctx))
	assert.Zero(t, out.Len())
	assert.Equal(t, split, p.Buffered())

	// idle ticks keep the partial line
	require.Equal(t, StatusSuccess, p.Poll(ctx))
	assert.Equal(t, split, p.Buffered())

	in.feed(line[split:])
	require.Equal(t, StatusSuccess, p.Poll(ctx))
	frames := decodeOutput(t, out.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0]["id"])
	assert.Zero(t, p.Buffered())

	require.Equal(t, StatusSuccess, p.Poll(ctx))
	assert.Len(t, decodeOutput(t, out.String()), 1)
}

func TestPollDispatchesInOrder(t *testing.T) {
	in := &fakeInput{}
	p, out := newTestPoller(in)

	in.feed(requestLine(t, "x", "1", nil) +
		"some unrelated output\n" +
		requestLine(t, "fail", "2", nil) +
		requestLine(t, "y", "3", nil) +
		`PYIPCHEAD_{"call":"x","id":"4"`)
	require.Equal(t, StatusSuccess, p.Poll(context.Background()))

	frames := decodeOutput(t, out.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "1", frames[0]["id"])
	assert.Equal(t, Object{"id": "2", "error": "boom"}, frames[1])
	assert.Equal(t, Object{"id": "3", "error": "No handler: y"}, frames[2])
	assert.Equal(t, len(`PYIPCHEAD_{"call":"x","id":"4"`), p.Buffered())
}

func TestPollReadsBoundedChunks(t *testing.T) {
	in := &fakeInput{}
	p, _ := newTestPoller(in)
	in.feed(strings.Repeat("a", ChunkSize*2+10))

	require.Equal(t, StatusSuccess, p.Poll(context.Background()))
	assert.Equal(t, ChunkSize, p.Buffered())
	require.Equal(t, StatusSuccess, p.Poll(context.Background()))
	assert.Equal(t, ChunkSize*2, p.Buffered())
	require.Equal(t, StatusSuccess, p.Poll(context.Background()))
	assert.Equal(t, ChunkSize*2+10, p.Buffered())
	assert.Equal(t, 3, in.reads)
}

func TestPollErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status Status
		is     error
	}{
		{name: "would block", err: ErrNoData, status: StatusSuccess},
		{name: "wrapped would block", err: errors.Join(errors.New("EAGAIN"), ErrNoData), status: StatusSuccess},
		{name: "closed", err: ErrClosed, status: StatusError, is: ErrClosed},
		{name: "EOF", err: io.EOF, status: StatusError, is: ErrClosed},
		{name: "other", err: errors.New("bad fd"), status: StatusError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, out := newTestPoller(&fakeInput{err: c.err})
			assert.Equal(t, c.status, p.Poll(context.Background()))
			assert.Zero(t, out.Len())
			if c.status == StatusError {
				require.Error(t, p.Err())
				if c.is != nil {
					assert.ErrorIs(t, p.Err(), c.is)
				}
			} else {
				assert.NoError(t, p.Err())
			}
		})
	}
}

func TestPollAcquiresInputLazily(t *testing.T) {
	opened := 0
	in := &fakeInput{}
	d, _ := newTestDispatcher(testRegistry())
	p := NewPoller(log, func() (Input, error) {
		opened++
		return in, nil
	}, d)
	assert.Zero(t, opened)

	p.Poll(context.Background())
	p.Poll(context.Background())
	assert.Equal(t, 1, opened)
}

func TestPollInputAcquisitionFailure(t *testing.T) {
	d, _ := newTestDispatcher(testRegistry())
	p := NewPoller(log, func() (Input, error) { return nil, errors.New("no stdin") }, d)
	assert.Equal(t, StatusError, p.Poll(context.Background()))
	assert.ErrorContains(t, p.Err(), "acquiring input: no stdin")
}

func TestPollOutputFailure(t *testing.T) {
	in := &fakeInput{}
	d := NewDispatcher(log, testRegistry(), failingWriter{})
	p := NewPoller(log, openFake(in), d)

	in.feed("noise is fine\n")
	require.Equal(t, StatusSuccess, p.Poll(context.Background()))

	in.feed(requestLine(t, "x", "1", nil))
	assert.Equal(t, StatusError, p.Poll(context.Background()))
	assert.ErrorContains(t, p.Err(), "disk on fire")
}

func TestPollReaderInput(t *testing.T) {
	r, w := io.Pipe()
	p, out := newTestPoller(ReaderInput(r))
	ctx := context.Background()

	line := requestLine(t, "x", "1", nil)
	go func() {
		w.Write([]byte(line[:5]))
		w.Write([]byte(line[5:]))
		w.Close()
	}()

	require.Eventually(t, func() bool {
		return p.Poll(ctx) == StatusError
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, p.Err(), ErrClosed)

	frames := decodeOutput(t, out.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0]["id"])
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "Status(7)", Status(7).String())
}
