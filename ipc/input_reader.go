package ipc

import (
	"errors"
	"io"
	"sync"
)

// readerInput turns a blocking reader into an Input by pumping it into a buffer from a background goroutine.
// The goroutine only moves bytes; nothing is dispatched off the loop.
type readerInput struct {
	mu  sync.Mutex
	buf []byte
	err error
}

// ReaderInput adapts any reader, such as an io.Pipe or a network connection, into an Input.
// Once r returns an error, Available reports it after the buffered bytes have been read, with io.EOF reported as ErrClosed.
func ReaderInput(r io.Reader) Input {
	in := &readerInput{}
	go in.pump(r)
	return in
}

func (in *readerInput) pump(r io.Reader) {
	chunk := make([]byte, ChunkSize)
	for {
		n, err := r.Read(chunk)
		in.mu.Lock()
		in.buf = append(in.buf, chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrClosed
			}
			in.err = err
			in.mu.Unlock()
			return
		}
		in.mu.Unlock()
	}
}

func (in *readerInput) Available() (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.buf) > 0 {
		return len(in.buf), nil
	}
	return 0, in.err
}

func (in *readerInput) Read(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.buf) == 0 {
		if in.err != nil {
			return 0, in.err
		}
		return 0, ErrNoData
	}
	n := copy(p, in.buf)
	in.buf = in.buf[n:]
	if len(in.buf) == 0 {
		in.buf = nil
	}
	return n, nil
}
