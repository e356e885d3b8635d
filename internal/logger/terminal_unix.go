//go:build linux || darwin || freebsd

package logger

import "golang.org/x/sys/unix"

// isTerminal checks if the file descriptor refers to a terminal
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	return err == nil
}
