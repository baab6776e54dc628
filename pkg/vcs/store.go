package vcs

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/matzehuels/lariat/pkg/cache"
)

// Store holds the clones performed during one run. Each Store gets a
// unique scratch root, so two resolutions running at the same time never
// step on each other's clones.
type Store struct {
	root string
}

// NewStore returns a store rooted at rootDir, or at a per-run unique
// directory under the system temp dir when rootDir is empty.
func NewStore(rootDir string) (*Store, error) {
	if rootDir == "" {
		rootDir = filepath.Join(os.TempDir(), "lariat-vcs-"+uuid.NewString())
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: rootDir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// baseDir partitions the store by host and hashed repository path.
func (s *Store) baseDir(vcsURL string) string {
	host := "local"
	pathPart := vcsURL
	if u, err := url.Parse(vcsURL); err == nil && u.Host != "" {
		host = u.Host
		pathPart = u.Path
	}
	return filepath.Join(s.root, "vcs", host, cache.Hash([]byte(pathPart)))
}

// CloneDir returns the directory where the given url and ref should be
// cloned. An empty ref maps to "HEAD".
func (s *Store) CloneDir(vcsURL, ref string) string {
	if ref == "" {
		ref = "HEAD"
	}
	return filepath.Join(s.baseDir(vcsURL), ref)
}

// Clear removes the whole store.
func (s *Store) Clear() error {
	return os.RemoveAll(s.root)
}

// ClearClone removes the clone for one url and ref, if present.
func (s *Store) ClearClone(vcsURL, ref string) error {
	return os.RemoveAll(s.CloneDir(vcsURL, ref))
}
