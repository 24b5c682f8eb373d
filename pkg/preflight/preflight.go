// Package preflight validates repository reachability before a run
// touches it.
package preflight

import "strings"

// IsRemote reports whether a repository path addresses a remote
// endpoint, either an ssh:// URL or the host-qualified user@host:path
// form. Remote repositories are assumed reachable; only the backup tool
// itself can tell, and it will fail loudly if they are not.
func IsRemote(path string) bool {
	if strings.HasPrefix(path, "ssh://") {
		return true
	}
	at := strings.IndexByte(path, '@')
	if at < 0 {
		return false
	}
	rest := path[at+1:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return false
	}
	// A slash before the colon means the '@' was part of a local
	// directory name, not a host qualifier.
	return !strings.ContainsRune(rest[:colon], '/')
}

// CheckRepoPath reports whether a repository can be processed this run.
// Remote paths always pass; local paths must exist and be accessible.
func CheckRepoPath(path string) error {
	if IsRemote(path) {
		return nil
	}
	return platformCheckPath(path)
}
