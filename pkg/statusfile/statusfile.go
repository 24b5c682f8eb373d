// Package statusfile publishes machine-readable run outcomes for
// external monitoring. One small JSON document per unit, written
// atomically so a monitoring agent never reads a torn file.
package statusfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// States recorded in status documents.
const (
	StateOK      = "ok"
	StateError   = "error"
	StateSkipped = "skipped"
)

// Status is the content of one status document.
type Status struct {
	State   string `json:"state"`
	Time    int64  `json:"time"`
	Message string `json:"message,omitempty"`
}

// Writer emits status documents into a directory. A Writer with an
// empty directory is a no-op, which is how status reporting is disabled.
type Writer struct {
	dir string
}

// NewWriter returns a Writer emitting into dir. Pass "" to disable.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Enabled reports whether this writer actually writes anything.
func (w *Writer) Enabled() bool {
	return w.dir != ""
}

// Write records the status document for the named unit as
// <dir>/<name>.status.json via temp-file-then-rename.
func (w *Writer) Write(name string, status Status) error {
	if !w.Enabled() {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create status directory %s: %w", w.dir, err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status for %s: %w", name, err)
	}

	target := filepath.Join(w.dir, name+".status.json")
	tmp, err := os.CreateTemp(w.dir, name+".status.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp status file %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp status file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp status file %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp status file %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace status file %s: %w", target, err)
	}
	return nil
}

// Read loads a previously written status document, mainly for tests and
// ad-hoc inspection.
func (w *Writer) Read(name string) (Status, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, name+".status.json"))
	if err != nil {
		return Status{}, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("parse status for %s: %w", name, err)
	}
	return status, nil
}
