// Package file implements SessionStore over one JSON file per session in
// a directory, grounded on the teacher's internal/sessions/manager.go
// Save/loadAll atomic-write idiom: marshal under a read-lock-then-copy,
// write to a temp file in the same directory, fsync, rename.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentrelay/gateway/internal/store"
)

// SessionStore is a directory of one JSON file per session.
type SessionStore struct {
	mu  sync.RWMutex
	dir string
}

// NewSessionStore opens (creating if necessary) a session directory.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

// sanitizeFilename strips characters that would escape the sessions
// directory; session ids are uuids but this guards against future
// changes to id generation regardless.
func sanitizeFilename(id string) string {
	return strings.ReplaceAll(strings.ReplaceAll(id, "/", "_"), ":", "_")
}

func (s *SessionStore) pathFor(id string) string {
	return filepath.Join(s.dir, sanitizeFilename(id)+".json")
}

// Save atomically replaces the on-disk record for s.ID.
func (s *SessionStore) Save(sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := s.pathFor(sess.ID)
	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
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
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp session file: %w", err)
	}
	cleanup = false
	return nil
}

// Get loads a single session by id.
func (s *SessionStore) Get(id string) (store.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return store.Session{}, false, nil
		}
		return store.Session{}, false, fmt.Errorf("read session file: %w", err)
	}
	var sess store.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return store.Session{}, false, fmt.Errorf("parse session file: %w", err)
	}
	return sess, true, nil
}

// List loads every session in the directory.
func (s *SessionStore) List() ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var out []store.Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var sess store.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Delete removes a session's on-disk record, if present.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
