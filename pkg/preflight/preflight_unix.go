//go:build !windows

package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// platformCheckPath verifies that a local repository directory exists
// and is readable, writable and traversable by the current user.
func platformCheckPath(path string) error {
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("repository path %s not accessible: %w", path, err)
	}
	return nil
}
