package ipc

import "golang.org/x/sys/unix"

// fionread asks for the number of bytes waiting in a pipe or socket. Linux calls it TIOCINQ.
const fionread uint = unix.TIOCINQ
