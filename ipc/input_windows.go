package ipc

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procPeekNamedPipe = windows.NewLazySystemDLL("kernel32.dll").NewProc("PeekNamedPipe")

type fileInput struct {
	f *os.File
	h windows.Handle
}

// FileInput returns an Input reading from f, which must be an anonymous or named pipe.
// Availability is checked with PeekNamedPipe, which never blocks.
func FileInput(f *os.File) (Input, error) {
	if f == nil {
		return nil, errors.New("nil file")
	}
	h := windows.Handle(f.Fd())
	if h == windows.InvalidHandle || h == 0 {
		return nil, errors.New("invalid input handle")
	}
	return &fileInput{f: f, h: h}, nil
}

// StdinInput opens the process's stdin as an Input.
func StdinInput() (Input, error) {
	h, err := windows.GetStdHandle(windows.STD_INPUT_HANDLE)
	if err != nil {
		return nil, fmt.Errorf("getting stdin handle: %w", err)
	}
	if h == windows.InvalidHandle || h == 0 {
		return nil, errors.New("no stdin handle")
	}
	return FileInput(os.Stdin)
}

func (in *fileInput) Available() (int, error) {
	var avail uint32
	r1, _, e1 := procPeekNamedPipe.Call(uintptr(in.h), 0, 0, 0, uintptr(unsafe.Pointer(&avail)), 0)
	if r1 == 0 {
		switch {
		case errors.Is(e1, windows.ERROR_BROKEN_PIPE):
			return 0, ErrClosed
		case errors.Is(e1, windows.ERROR_NO_DATA):
			return 0, ErrNoData
		}
		return 0, fmt.Errorf("peeking input pipe: %w", e1)
	}
	return int(avail), nil
}

func (in *fileInput) Read(p []byte) (int, error) {
	n, err := in.f.Read(p)
	if errors.Is(err, windows.ERROR_BROKEN_PIPE) {
		return n, ErrClosed
	}
	if errors.Is(err, windows.ERROR_NO_DATA) {
		return n, ErrNoData
	}
	return n, err
}
