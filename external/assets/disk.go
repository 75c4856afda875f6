package assets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	internalassets "github.com/hazuki-lab/utawakun/internal/assets"
)

// DiskStore materializes temp media files under a single directory. Names are
// uuid-based so an attacker cannot pre-create or symlink a predictable path;
// O_EXCL rejects anything that somehow already exists.
type DiskStore struct {
	dir string

	mu      sync.Mutex
	tracked map[string]struct{}
}

func NewDiskStore(dir string) (internalassets.Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "utawakun")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create asset dir: %w", err)
	}
	return &DiskStore{
		dir:     dir,
		tracked: make(map[string]struct{}),
	}, nil
}

func (s *DiskStore) Allocate(suffix string) (string, error) {
	path := filepath.Join(s.dir, "vcq-"+uuid.NewString()+suffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to allocate asset file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close allocated asset file: %w", err)
	}
	s.mu.Lock()
	s.tracked[path] = struct{}{}
	s.mu.Unlock()
	return path, nil
}

func (s *DiskStore) Release(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to remove asset file", "error", err, "path", path)
	}
	s.mu.Lock()
	delete(s.tracked, path)
	s.mu.Unlock()
}

func (s *DiskStore) ReleaseAll() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.tracked))
	for p := range s.tracked {
		paths = append(paths, p)
	}
	s.mu.Unlock()
	for _, p := range paths {
		s.Release(p)
	}
	slog.Info("released all tracked assets", "count", len(paths))
}

func (s *DiskStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
