//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package ipc

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type fileInput struct {
	f  *os.File
	fd int
}

// FileInput returns an Input reading from f, typically a pipe.
// Availability is checked with a zero-timeout poll and FIONREAD, so neither call ever blocks.
func FileInput(f *os.File) (Input, error) {
	if f == nil {
		return nil, errors.New("nil file")
	}
	return &fileInput{f: f, fd: int(f.Fd())}, nil
}

// StdinInput opens the process's stdin as an Input.
func StdinInput() (Input, error) {
	return FileInput(os.Stdin)
}

func (in *fileInput) Available() (int, error) {
	fds := []unix.PollFd{{Fd: int32(in.fd), Events: unix.POLLIN}}
	var n int
	var err error
	for {
		n, err = unix.Poll(fds, 0)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("polling fd %d: %w", in.fd, err)
	}
	if n == 0 {
		return 0, nil
	}
	revents := fds[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return 0, fmt.Errorf("polling fd %d: invalid descriptor", in.fd)
	}

	avail, err := unix.IoctlGetInt(in.fd, fionread)
	if err != nil {
		return 0, fmt.Errorf("querying readable bytes on fd %d: %w", in.fd, err)
	}
	// ready with nothing to read means the writer hung up (or a file hit EOF)
	if avail == 0 {
		return 0, ErrClosed
	}
	return avail, nil
}

func (in *fileInput) Read(p []byte) (int, error) {
	return in.f.Read(p)
}
