package ipc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log = zap.NewNop().Sugar()

// syncBuffer is a bytes.Buffer that can be written by the worker loop while a test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeInput is a scripted Input for the poller. It is not goroutine-safe.
type fakeInput struct {
	pending []byte
	// err is returned by Available once pending is empty
	err   error
	reads int
}

func (f *fakeInput) feed(s string) {
	f.pending = append(f.pending, s...)
}

func (f *fakeInput) Available() (int, error) {
	if len(f.pending) > 0 {
		return len(f.pending), nil
	}
	return 0, f.err
}

func (f *fakeInput) Read(p []byte) (int, error) {
	f.reads++
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func openFake(in Input) InputOpener {
	return func() (Input, error) { return in, nil }
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk on fire") }

// decodeOutput decodes every frame written to out, in order.
func decodeOutput(t *testing.T, out string) []Object {
	t.Helper()
	var frames []Object
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		frame, ok := DecodeFrame(sc.Bytes())
		require.True(t, ok, "output line %q is not a frame", sc.Text())
		frames = append(frames, frame)
	}
	require.NoError(t, sc.Err())
	return frames
}

func requestLine(t *testing.T, call, id string, data Object) string {
	t.Helper()
	b, err := EncodeFrame(Request{Call: call, ID: id, Data: data})
	require.NoError(t, err)
	return string(b)
}

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("x", func(ctx context.Context, in Object, out Object) error {
		out["got"] = in
		return nil
	})
	reg.Register("fail", func(ctx context.Context, in Object, out Object) error {
		out["ignored"] = true
		return errors.New("boom")
	})
	return reg
}
