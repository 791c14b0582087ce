package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/gofrs/flock"
	"github.com/josephgoksu/PlanWing/types"
	"github.com/spf13/afero"
)

const (
	// shardPrefixLen is how many address characters name the shard directory.
	// 256 shards keeps directory listings small without deep nesting.
	shardPrefixLen = 2

	lockFileName = ".lock"
)

var addressPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FileArtifactStore implements the ArtifactStore interface on a filesystem.
// Blobs are stored under {dir}/{addr[:2]}/{addr}; the address is the sha256
// of the content, so a write of existing content is detected by a stat and
// skipped. A file lock guards cross-process writers when the store is
// backed by the OS filesystem.
type FileArtifactStore struct {
	fsys afero.Fs
	dir  string
	mu   sync.RWMutex
	flk  *flock.Flock // nil for in-memory filesystems
}

// NewFileArtifactStore creates a store rooted at dir on the given
// filesystem. Pass afero.NewOsFs() for durable storage or
// afero.NewMemMapFs() in tests.
func NewFileArtifactStore(fsys afero.Fs, dir string) (*FileArtifactStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact store dir required")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}

	s := &FileArtifactStore{fsys: fsys, dir: dir}

	// File locking only makes sense on a real filesystem.
	if _, ok := fsys.(*afero.OsFs); ok {
		s.flk = flock.New(filepath.Join(dir, lockFileName))
	}

	return s, nil
}

// Put persists the content and returns its address. Identical bytes yield
// the identical address; the second write is a no-op.
func (s *FileArtifactStore) Put(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	address := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flk != nil {
		if err := s.flk.Lock(); err != nil {
			return "", fmt.Errorf("acquire store lock: %w", err)
		}
		defer func() { _ = s.flk.Unlock() }()
	}

	path := s.blobPath(address)
	if ok, _ := afero.Exists(s.fsys, path); ok {
		// Idempotent write: same content already present.
		return address, nil
	}

	if err := s.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	// Write to a temp name then rename so a crashed writer never leaves a
	// partial blob at the final address.
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fsys, tmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", address, err)
	}
	if err := s.fsys.Rename(tmp, path); err != nil {
		_ = s.fsys.Remove(tmp)
		return "", fmt.Errorf("commit blob %s: %w", address, err)
	}

	return address, nil
}

// Get retrieves the content for an address.
func (s *FileArtifactStore) Get(address string) ([]byte, error) {
	if !addressPattern.MatchString(address) {
		return nil, fmt.Errorf("malformed address %q", address)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := afero.ReadFile(s.fsys, s.blobPath(address))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", address, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %s: %w", address, err)
	}
	return data, nil
}

// Has reports whether the address is present.
func (s *FileArtifactStore) Has(address string) (bool, error) {
	if !addressPattern.MatchString(address) {
		return false, fmt.Errorf("malformed address %q", address)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return afero.Exists(s.fsys, s.blobPath(address))
}

// Close releases the store's file lock, if any.
func (s *FileArtifactStore) Close() error {
	if s.flk != nil {
		return s.flk.Unlock()
	}
	return nil
}

func (s *FileArtifactStore) blobPath(address string) string {
	return filepath.Join(s.dir, address[:shardPrefixLen], address)
}
