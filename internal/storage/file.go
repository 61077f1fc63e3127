package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/neyroplan/neyroplan/internal/session"
)

// lockRetryDelay is how often TryLockContext re-attempts the advisory
// lock while another process holds it.
const lockRetryDelay = 50 * time.Millisecond

// FileStore persists the session collection as a single JSON file.
// Writes are atomic: the snapshot goes to a temp file in the same
// directory and is renamed over the target. An advisory lock guards
// against a second process writing the same file.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a FileStore for the given path, creating the
// parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Load reads the persisted snapshot. A missing file means nothing was
// saved yet and returns (nil, nil).
func (s *FileStore) Load(ctx context.Context) ([]session.ChatSession, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var sessions []session.ChatSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decoding sessions file: %w", err)
	}
	return sessions, nil
}

// Save atomically replaces the snapshot on disk.
func (s *FileStore) Save(ctx context.Context, sessions []session.ChatSession) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing sessions file: %w", err)
	}
	return nil
}

func (s *FileStore) acquire(ctx context.Context) error {
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("file lock unavailable")
	}
	return nil
}

func (s *FileStore) release() {
	// Unlock failure leaves a stale flock that the OS reclaims on
	// process exit; nothing actionable for the caller.
	_ = s.lock.Unlock()
}
