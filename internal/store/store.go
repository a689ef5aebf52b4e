// Package store persists the reload-recovery hint for the external session.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
)

var unsafeNamespace = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store keeps at most one SessionRecord per namespace. All operations are
// synchronous and idempotent; write failures are logged and swallowed because
// losing the hint is not fatal.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// DefaultDir returns ~/.heirlock/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".heirlock", "sessions"), nil
}

// New creates a store for namespace under dir. The namespace is usually the
// host origin and is sanitized into a file name.
func New(dir, namespace string, logger *zap.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	name := NamespaceFile(namespace)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   filepath.Join(dir, name),
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// NamespaceFile maps a namespace to its record file name.
func NamespaceFile(namespace string) string {
	ns := strings.Trim(unsafeNamespace.ReplaceAllString(strings.TrimSpace(namespace), "_"), "_.")
	if ns == "" {
		ns = "default"
	}
	return ns + ".json"
}

// Path returns the record file.
func (s *Store) Path() string { return s.path }

// Save overwrites any prior record.
func (s *Store) Save(rec domain.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(rec); err != nil {
		s.logger.Warn("failed to persist session record",
			zap.String("session_id", rec.SessionID), zap.Error(err))
		return
	}
	s.logger.Debug("session record saved", zap.String("session_id", rec.SessionID))
}

func (s *Store) write(rec domain.SessionRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".record-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load returns the persisted record, or nil when there is none or it cannot
// be read or parsed.
func (s *Store) Load() *domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read session record", zap.Error(err))
		}
		return nil
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		s.logger.Warn("ignoring malformed session record", zap.Error(err))
		return nil
	}
	if rec.SessionID == "" || rec.CreatedAt.IsZero() {
		s.logger.Warn("ignoring incomplete session record")
		return nil
	}
	return &rec
}

// Clear deletes the record. Clearing an absent record is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to clear session record", zap.Error(err))
		return
	}
	s.logger.Debug("session record cleared")
}
