//go:build windows

package selfupdate

import (
	"os"
	"os/exec"
)

// Relaunch starts the executable at execPath with the original arguments
// and exits the current process. Windows has no exec-style process image
// replacement, so a spawn-and-exit is the closest equivalent.
func Relaunch(execPath string) error {
	cmd := exec.Command(execPath, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
