//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package ipc

// fionread is FIONREAD, _IOR('f', 127, int), which x/sys/unix doesn't export on these platforms.
const fionread uint = 0x4004667f
