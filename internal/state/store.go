// Package state owns mole's on-disk process-tracking layout: one JSON
// record and one log file per tunnel name under a fixed root directory.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mole-cli/mole/internal/appconfig"
)

// Record is the persisted tracking state for one tunnel.
type Record struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	LogPath   string    `json:"log_path,omitempty"`
}

// Store provides CRUD access to tunnel records and log files, keyed by
// tunnel name. Writes are whole-file, so a record is the atomicity unit.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// DefaultStore roots the store in mole's config directory.
func DefaultStore() (*Store, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewStore(dir), nil
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.root, "pids", name+".json")
}

// LogPath returns the log file path for a tunnel, whether or not it exists.
func (s *Store) LogPath(name string) string {
	return filepath.Join(s.root, "logs", name+".log")
}

func oldLogPath(logPath string) string {
	return strings.TrimSuffix(logPath, ".log") + ".log.old"
}

// Read loads a tunnel's record. A missing record returns (nil, nil). A
// corrupt record is removed and also reported as absent: the tunnel is
// treated as inactive and the record is overwritten on the next start.
func (s *Store) Read(name string) (*Record, error) {
	b, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil || rec.PID <= 0 {
		_ = os.Remove(s.recordPath(name))
		return nil, nil
	}
	return &rec, nil
}

// Write persists a tunnel's record, creating the directory tree if needed.
// The record's LogPath is filled in from the store layout when unset.
func (s *Store) Write(name string, rec Record) error {
	if rec.LogPath == "" {
		rec.LogPath = s.LogPath(name)
	}
	path := s.recordPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Delete removes a tunnel's record. Deleting an absent record is not an
// error, so stop stays idempotent.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.recordPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns the names of all tunnels with a persisted record, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "pids"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Logs returns the names of all tunnels with a log file, sorted. Rotated
// logs count toward the same name.
func (s *Store) Logs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "logs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".old"), ".log")
		if name == e.Name() {
			continue
		}
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Rename moves a tunnel's record and log files to a new name. The record is
// written under the new name before the old one is deleted, so a crash in
// between leaves at most a duplicate, never a loss.
func (s *Store) Rename(oldName, newName string) error {
	rec, err := s.Read(oldName)
	if err != nil {
		return err
	}
	if rec != nil {
		rec.LogPath = s.LogPath(newName)
		if err := s.Write(newName, *rec); err != nil {
			return err
		}
	}

	if err := renameIfExists(s.LogPath(oldName), s.LogPath(newName)); err != nil {
		return err
	}
	if err := renameIfExists(oldLogPath(s.LogPath(oldName)), oldLogPath(s.LogPath(newName))); err != nil {
		return err
	}

	return s.Delete(oldName)
}

// Purge removes every file the store holds for a tunnel: record, log, and
// rotated log.
func (s *Store) Purge(name string) error {
	if err := s.Delete(name); err != nil {
		return err
	}
	for _, p := range []string{s.LogPath(name), oldLogPath(s.LogPath(name))} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// OpenLog rotates the tunnel's log if it exceeds maxBytes, then opens it
// for appending. Rotation happens only here, before a new writer attaches,
// never mid-write.
func (s *Store) OpenLog(name string, maxBytes int64) (*os.File, error) {
	path := s.LogPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	rotateLog(path, maxBytes)
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// rotateLog renames path to its .log.old sibling when it exceeds maxBytes,
// replacing any previous rotation so the new run starts near-empty.
func rotateLog(path string, maxBytes int64) {
	info, err := os.Stat(path)
	if err != nil || maxBytes <= 0 || info.Size() <= maxBytes {
		return
	}
	_ = os.Rename(path, oldLogPath(path))
}

func renameIfExists(from, to string) error {
	if _, err := os.Stat(from); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o700); err != nil {
		return err
	}
	return os.Rename(from, to)
}
