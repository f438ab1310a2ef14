package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// FileStore is the file-backed Rule Store: a single JSON file holding the
// ordered rule list, atomically replaced on every write (write-to-temp,
// rename), the same durability technique the teacher uses for per-session
// files in internal/sessions/manager.go Save.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data []Rule
}

// NewFileStore opens (or lazily creates) a rules file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = nil
			return nil
		}
		return fmt.Errorf("read rules file: %w", err)
	}
	var rs []Rule
	if err := json.Unmarshal(raw, &rs); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	s.data = rs
	return nil
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "rules-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// GetAll returns a snapshot copy, taken under the read lock, of all
// non-expired rules, newest first. A rule past its ExpiresAt is skipped rather than matched forever.
func (s *FileStore) GetAll() ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make([]Rule, 0, len(s.data))
	for i := len(s.data) - 1; i >= 0; i-- {
		if s.data[i].Expired(now) {
			continue
		}
		out = append(out, s.data[i])
	}
	return out, nil
}

// Add appends a new rule, assigning an id if the caller left one blank.
func (s *FileStore) Add(r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.data = append(s.data, r)
	return s.saveLocked()
}

// Update applies a partial update in place. Returns an error if id is not
// found.
func (s *FileStore) Update(id string, partial PartialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		if s.data[i].ID != id {
			continue
		}
		if partial.Effect != nil {
			s.data[i].Effect = *partial.Effect
		}
		if partial.Description != nil {
			s.data[i].Description = *partial.Description
		}
		if partial.ExpiresAt != nil {
			s.data[i].ExpiresAt = partial.ExpiresAt
		}
		return s.saveLocked()
	}
	return fmt.Errorf("rule not found: %s", id)
}

// Remove deletes a rule by id. Returns an error if not found.
func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		if s.data[i].ID == id {
			s.data = append(s.data[:i], s.data[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("rule not found: %s", id)
}

// Watch reloads the store from disk whenever rules.json changes on disk
// outside this process (an operator hand-editing the file, or a second
// gateway instance sharing it read-only). Grounded on the pack's
// fsnotify-watches-the-containing-directory idiom (config/provider/file.go
// FileProvider.Watch) rather than watching the path directly, since a
// rule-store atomic save unlinks and replaces the inode.
func (s *FileStore) Watch(ctx context.Context, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.mu.Lock()
				err := s.load()
				s.mu.Unlock()
				if err != nil {
					log.Warn("rules.reload_failed", "error", err)
				} else {
					log.Info("rules.reloaded", "path", s.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("rules.watch_error", "error", err)
			}
		}
	}()
	return nil
}

// SeedIfEmpty populates the store with initial rules only if it currently
// holds none — used on first startup with a preset's seed rules.
func (s *FileStore) SeedIfEmpty(initial []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) > 0 {
		return nil
	}
	s.data = append([]Rule(nil), initial...)
	return s.saveLocked()
}
