package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"warden/pkg/oauth"
)

const (
	// SessionFile holds the StoredSession.
	SessionFile = "session.json"

	// PendingFile holds the PendingAuthorization of an in-flight login.
	PendingFile = "pending.json"
)

// FileStore persists the session under a private directory. Every write goes
// to a temporary file that is renamed into place, so concurrent readers in
// other processes never observe a partial session.
//
// SECURITY: the directory is created 0700 and files are written 0600.
type FileStore struct {
	sessionStore
	dir string
}

// NewFileStore creates a store rooted at dir, creating it if needed. An empty
// dir selects ~/.config/warden.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session storage directory: %w", err)
	}

	s := &FileStore{dir: dir}
	s.init(fileBackend{dir: dir}, opts)
	return s, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// DefaultDir returns ~/.config/warden.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, oauth.DefaultStorageDir), nil
}

var (
	defaultOnce  sync.Once
	defaultStore Store
)

// Default returns the process-wide store. It is a FileStore in the default
// directory, or a MemoryStore when the home directory is unusable.
func Default() Store {
	defaultOnce.Do(func() {
		fs, err := NewFileStore("")
		if err != nil {
			defaultStore = NewMemoryStore()
			return
		}
		defaultStore = fs
	})
	return defaultStore
}

type fileBackend struct {
	dir string
}

func (b fileBackend) name() string { return "file" }

func (b fileBackend) readSession() (*StoredSession, error) {
	var sess StoredSession
	if err := b.readJSON(SessionFile, &sess); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &sess, nil
}

func (b fileBackend) writeSession(s *StoredSession) error {
	return b.writeJSON(SessionFile, s)
}

func (b fileBackend) removeSession() error {
	return b.remove(SessionFile)
}

func (b fileBackend) readPending() (*PendingAuthorization, error) {
	var p PendingAuthorization
	if err := b.readJSON(PendingFile, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoPending
		}
		return nil, err
	}
	return &p, nil
}

func (b fileBackend) writePending(p *PendingAuthorization) error {
	return b.writeJSON(PendingFile, p)
}

func (b fileBackend) removePending() error {
	return b.remove(PendingFile)
}

func (b fileBackend) readJSON(name string, v interface{}) error {
	// #nosec G304 -- name is one of the package's fixed file names
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

func (b fileBackend) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(b.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict %s permissions: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(b.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (b fileBackend) remove(name string) error {
	err := os.Remove(filepath.Join(b.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
