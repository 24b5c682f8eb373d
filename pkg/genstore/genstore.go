// Package genstore persists the durable scheduling state of backup and
// sync units: per-archive generation counters with last-success
// timestamps, and per-repository sync timestamps. The whole state lives
// in a single JSON document that is loaded once per run, mutated in
// memory and flushed atomically after every successful unit.
package genstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ArchiveGeneration is the persisted state of one archive. The zero
// value means "no successful backup yet": generation 0 is never a real
// generation, and time 0 (unix seconds) means never.
type ArchiveGeneration struct {
	Generation int   `json:"generation"`
	Time       int64 `json:"time"`
}

// document is the on-disk shape of the state file.
type document struct {
	Archive map[string]ArchiveGeneration `json:"archive"`
	Sync    map[string]int64             `json:"sync"`
}

// Store owns the state document for the lifetime of a run. It is not
// safe for concurrent use; the run driver is strictly sequential.
type Store struct {
	path string
	doc  document
	log  zerolog.Logger
}

// Open loads the state document at path. A missing file is not an
// error and yields an empty store; any other read or parse failure is.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		doc: document{
			Archive: make(map[string]ArchiveGeneration),
			Sync:    make(map[string]int64),
		},
		log: logger.With().Str("component", "genstore").Logger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Debug().Str("path", path).Msg("no generation state yet, starting empty")
			return s, nil
		}
		return nil, fmt.Errorf("read generation state %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse generation state %s: %w", path, err)
	}

	// A hand-edited or truncated document may omit either sub-mapping.
	if s.doc.Archive == nil {
		s.doc.Archive = make(map[string]ArchiveGeneration)
	}
	if s.doc.Sync == nil {
		s.doc.Sync = make(map[string]int64)
	}

	s.log.Debug().
		Str("path", path).
		Int("archives", len(s.doc.Archive)).
		Int("syncs", len(s.doc.Sync)).
		Msg("generation state loaded")
	return s, nil
}

// Archive returns the persisted generation state of the named archive.
// Unknown archives yield the zero value.
func (s *Store) Archive(name string) ArchiveGeneration {
	return s.doc.Archive[name]
}

// SetArchive records a new generation state for the named archive. The
// caller must Flush to make the change durable.
func (s *Store) SetArchive(name string, gen ArchiveGeneration) {
	s.doc.Archive[name] = gen
}

// SyncTime returns the unix timestamp of the repository's last
// successful sync, or 0 if it never synced.
func (s *Store) SyncTime(repository string) int64 {
	return s.doc.Sync[repository]
}

// SetSyncTime records the repository's last successful sync time. The
// caller must Flush to make the change durable.
func (s *Store) SetSyncTime(repository string, t int64) {
	s.doc.Sync[repository] = t
}

// Flush writes the state document durably. The document is marshalled
// into a temporary file next to the target and renamed over it, so a
// crash mid-write leaves the previous file untouched.
func (s *Store) Flush() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal generation state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file %s: %w", s.path, err)
	}

	s.log.Debug().Str("path", s.path).Msg("generation state flushed")
	return nil
}
