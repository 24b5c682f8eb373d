//go:build windows

package preflight

import (
	"fmt"
	"os"
)

// platformCheckPath verifies that a local repository directory exists.
// Windows has no faccessat equivalent worth the ACL gymnastics; an
// existence check is the useful part.
func platformCheckPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("repository path %s not accessible: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repository path %s is not a directory", path)
	}
	return nil
}
