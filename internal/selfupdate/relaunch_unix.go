//go:build !windows

package selfupdate

import (
	"os"
	"syscall"
)

// Relaunch replaces the current process image with the executable at
// execPath, passing through the original arguments and environment. It does
// not return on success.
func Relaunch(execPath string) error {
	_ = os.Stdout.Sync()
	_ = os.Stderr.Sync()
	return syscall.Exec(execPath, os.Args, os.Environ())
}
