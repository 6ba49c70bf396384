package objstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FSStore stores files under a local root directory. The revision token is the
// hex SHA-256 of the stored bytes, which makes conflict detection a pure
// content comparison and keeps tokens stable across processes.
//
// Put's check-and-write is guarded by a per-store mutex, so conflict detection
// is reliable for any number of goroutines sharing one FSStore. It does not
// lock the files on disk: the local overlay assumes a single writing process,
// with the GitHub store as the backend for concurrent writers.
type FSStore struct {
	mu   sync.Mutex
	root string
}

// NewFSStore creates a store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

func (s *FSStore) Get(path string) ([]byte, string, error) {
	full := filepath.Join(s.root, path)
	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyObject, "", nil
		}
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, revisionOf(content), nil
}

func (s *FSStore) Put(path string, content []byte, expectedRevision string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := filepath.Join(s.root, path)

	current, err := os.ReadFile(full)
	switch {
	case err == nil:
		// A create (empty revision) racing an existing file conflicts too,
		// mirroring the contents API's 422 on a missing sha.
		if revisionOf(current) != expectedRevision {
			return "", ErrConflict
		}
	case os.IsNotExist(err):
		if expectedRevision != "" {
			// The caller read a file that has since been deleted.
			return "", ErrConflict
		}
	default:
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	log.Debug().Str("path", path).Int("bytes", len(content)).Msg("File written")
	return revisionOf(content), nil
}

func (s *FSStore) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func revisionOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
