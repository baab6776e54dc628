package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/cache"
)

// LocalConfig configures a LocalSource.
type LocalConfig struct {
	Name     string
	Path     string
	Priority int

	// CacheRoot overrides the root of the on-disk package store.
	CacheRoot string

	Logger *log.Logger
}

// LocalSource provides access to a CRAN layout on local disk. Packages
// are still copied into the source store on retrieval: the directory may
// be a network mount, and the DESCRIPTION has to be extracted somewhere
// regardless.
type LocalSource struct {
	name     string
	path     string
	priority int
	store    *cache.SourceCache
	logger   *log.Logger

	mu       sync.Mutex
	active   []*Package
	archived map[string][]*Package
	versions map[string][]*Package
}

// NewLocalSource opens a local source rooted at cfg.Path.
func NewLocalSource(cfg LocalConfig) (*LocalSource, error) {
	store, err := cache.NewSourceCache(cfg.Path, cfg.CacheRoot)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &LocalSource{
		name:     cfg.Name,
		path:     cfg.Path,
		priority: cfg.Priority,
		store:    store,
		logger:   logger,
		archived: make(map[string][]*Package),
		versions: make(map[string][]*Package),
	}, nil
}

func (s *LocalSource) Name() string     { return s.name }
func (s *LocalSource) Location() string { return s.path }
func (s *LocalSource) Priority() int    { return s.priority }

// ContribPath is where the currently published packages live.
func (s *LocalSource) ContribPath() string { return filepath.Join(s.path, "src", "contrib") }

// ArchivePath is where older package versions live.
func (s *LocalSource) ArchivePath() string { return filepath.Join(s.ContribPath(), "Archive") }

// FindPackage returns the package with the exact name and version.
func (s *LocalSource) FindPackage(ctx context.Context, name, version string) (*Package, error) {
	packages, err := s.FindPackageVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, pkg := range packages {
		if pkg.Version() == version {
			return pkg, nil
		}
	}
	return nil, notFound(name, version)
}

// FindPackageVersions returns every known version of a package, active
// and archived.
func (s *LocalSource) FindPackageVersions(ctx context.Context, name string) ([]*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if packages, ok := s.versions[name]; ok {
		return packages, nil
	}

	active, err := s.activePackages()
	if err != nil {
		return nil, err
	}
	var packages []*Package
	for _, pkg := range active {
		if pkg.Name() == name {
			packages = append(packages, pkg)
		}
	}
	archived, err := s.archivedPackages(name)
	if err != nil {
		return nil, err
	}
	packages = append(packages, archived...)

	s.versions[name] = packages
	return packages, nil
}

// Retrieve copies the package tarball into the local store and parses
// its DESCRIPTION.
func (s *LocalSource) Retrieve(ctx context.Context, pkg *Package) error {
	s.logger.Debug("copying package into store", "path", pkg.URL)
	return attachFromStore(s.store, pkg, pkg.URL)
}

// activePackages lists src/contrib/. A missing directory is an empty
// source, not an error. The caller holds s.mu.
func (s *LocalSource) activePackages() ([]*Package, error) {
	if s.active != nil {
		return s.active, nil
	}

	packages := []*Package{}
	pkgfiles, _, err := listDir(s.ContribPath())
	if err != nil {
		return nil, err
	}
	for _, filename := range pkgfiles {
		pkg, err := NewPackage(filename, true, filepath.Join(s.ContribPath(), filename), s)
		if err != nil {
			continue
		}
		attachIfStored(s.store, pkg)
		packages = append(packages, pkg)
	}

	s.active = packages
	return packages, nil
}

// archivedPackages lists Archive/<name>/, accepting both the CRAN and
// the Artifactory layout, one level deep. First-level tarballs win over
// same-named ones in version directories. The caller holds s.mu.
func (s *LocalSource) archivedPackages(name string) ([]*Package, error) {
	if packages, ok := s.archived[name]; ok {
		return packages, nil
	}

	subdir := filepath.Join(s.ArchivePath(), name)

	var packages []*Package
	seen := make(map[string]bool)

	add := func(filename, dir string) {
		if seen[filename] {
			return
		}
		pkg, err := NewPackage(filename, false, filepath.Join(dir, filename), s)
		if err != nil {
			return
		}
		attachIfStored(s.store, pkg)
		seen[filename] = true
		packages = append(packages, pkg)
	}

	pkgfiles, dirs, err := listDir(subdir)
	if err != nil {
		return nil, err
	}
	for _, filename := range pkgfiles {
		add(filename, subdir)
	}
	for _, dir := range dirs {
		versionedDir := filepath.Join(subdir, dir)
		versionedFiles, _, err := listDir(versionedDir)
		if err != nil {
			return nil, err
		}
		for _, filename := range versionedFiles {
			add(filename, versionedDir)
		}
	}

	s.archived[name] = packages
	return packages, nil
}

// listDir returns the package tarballs and subdirectories at path. A
// missing path yields empty lists.
func listDir(path string) (pkgfiles, dirs []string, err error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case name == "PACKAGES.gz":
		case strings.HasSuffix(name, "gz"):
			pkgfiles = append(pkgfiles, name)
		case entry.IsDir():
			dirs = append(dirs, name)
		}
	}
	return pkgfiles, dirs, nil
}
