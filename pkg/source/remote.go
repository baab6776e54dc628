package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/matzehuels/lariat/pkg/cache"
	"github.com/matzehuels/lariat/pkg/description"
	"github.com/matzehuels/lariat/pkg/errors"
)

// defaultIndexTTL bounds how long a fetched repository index page is
// reused. Published packages rarely disappear, so staleness is cheap.
const defaultIndexTTL = 15 * time.Minute

// RemoteConfig configures a RemoteSource.
type RemoteConfig struct {
	Name     string
	URL      string
	Priority int

	// Client is the HTTP client for index and tarball fetches.
	// Defaults to http.DefaultClient.
	Client *http.Client

	// IndexCache caches fetched index pages across runs (and, with the
	// Redis backend, across machines). Defaults to no caching.
	IndexCache cache.Cache

	// IndexTTL is the lifetime of cached index pages.
	IndexTTL time.Duration

	// CacheRoot overrides the root of the on-disk package store.
	CacheRoot string

	Logger *log.Logger
}

// RemoteSource provides access to a CRAN-like repository over HTTP.
// It supports both the CRAN and the Artifactory archive layouts.
//
// Index pages are parsed once and memoized for the lifetime of the
// source; the byte-level IndexCache additionally persists them across
// processes.
type RemoteSource struct {
	name     string
	url      string
	priority int

	client     *http.Client
	indexCache cache.Cache
	indexTTL   time.Duration
	store      *cache.SourceCache
	logger     *log.Logger

	mu       sync.Mutex
	active   []*Package
	archived map[string][]*Package
	versions map[string][]*Package
}

// NewRemoteSource opens a remote source.
func NewRemoteSource(cfg RemoteConfig) (*RemoteSource, error) {
	store, err := cache.NewSourceCache(cfg.URL, cfg.CacheRoot)
	if err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	indexCache := cfg.IndexCache
	if indexCache == nil {
		indexCache = cache.NewNullCache()
	}
	ttl := cfg.IndexTTL
	if ttl == 0 {
		ttl = defaultIndexTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RemoteSource{
		name:       cfg.Name,
		url:        strings.TrimSuffix(cfg.URL, "/") + "/",
		priority:   cfg.Priority,
		client:     client,
		indexCache: indexCache,
		indexTTL:   ttl,
		store:      store,
		logger:     logger,
		archived:   make(map[string][]*Package),
		versions:   make(map[string][]*Package),
	}, nil
}

func (s *RemoteSource) Name() string     { return s.name }
func (s *RemoteSource) Location() string { return s.url }
func (s *RemoteSource) Priority() int    { return s.priority }

// ContribURL is where the currently published packages live.
func (s *RemoteSource) ContribURL() string { return s.url + "src/contrib/" }

// ArchiveURL is where older package versions live.
func (s *RemoteSource) ArchiveURL() string { return s.ContribURL() + "Archive/" }

// FindPackage returns the package with the exact name and version.
func (s *RemoteSource) FindPackage(ctx context.Context, name, version string) (*Package, error) {
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
func (s *RemoteSource) FindPackageVersions(ctx context.Context, name string) ([]*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if packages, ok := s.versions[name]; ok {
		return packages, nil
	}
	s.logger.Debug("listing package versions", "source", s.name, "package", name)

	active, err := s.activePackages(ctx)
	if err != nil {
		return nil, err
	}
	var packages []*Package
	for _, pkg := range active {
		if pkg.Name() == name {
			packages = append(packages, pkg)
		}
	}
	archived, err := s.archivedPackages(ctx, name)
	if err != nil {
		return nil, err
	}
	packages = append(packages, archived...)

	s.versions[name] = packages
	return packages, nil
}

// Retrieve downloads the package tarball into the local store and parses
// its DESCRIPTION. The download always happens, even over an existing
// store entry.
func (s *RemoteSource) Retrieve(ctx context.Context, pkg *Package) error {
	s.logger.Debug("downloading package", "url", pkg.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkg.URL, nil)
	if err != nil {
		return err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, err, "failed to fetch %s", pkg.URL)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.New(errors.ErrCodeNetwork, "failed to fetch %s: status %d", pkg.URL, res.StatusCode)
	}

	tmpDir, err := os.MkdirTemp("", "lariat-download-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, pkg.Filename)
	f, err := os.Create(tmpFile)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, res.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, err, "failed to fetch %s", pkg.URL)
	}

	return attachFromStore(s.store, pkg, tmpFile)
}

// activePackages lists src/contrib/. The caller holds s.mu.
func (s *RemoteSource) activePackages(ctx context.Context) ([]*Package, error) {
	if s.active != nil {
		return s.active, nil
	}
	s.logger.Debug("fetching contrib index", "source", s.name, "url", s.ContribURL())

	body, found, err := s.fetchIndex(ctx, s.ContribURL())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrCodeNetwork, "source %s has no contrib index at %s", s.name, s.ContribURL())
	}
	pkgfiles, _, err := parseIndex(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	packages := make([]*Package, 0, len(pkgfiles))
	for _, filename := range pkgfiles {
		pkg, err := NewPackage(filename, true, s.ContribURL()+filename, s)
		if err != nil {
			// Non-package tarballs in the listing are not ours to reject.
			continue
		}
		attachIfStored(s.store, pkg)
		packages = append(packages, pkg)
	}

	s.active = packages
	return packages, nil
}

// archivedPackages lists Archive/<name>/, handling both layouts:
//
//	CRAN style:        Archive/name/name_version.tar.gz
//	Artifactory style: Archive/name/version/name_version.tar.gz
//
// Tarballs at the first level win over same-named ones inside version
// directories. The listing goes one level deep only. The caller holds
// s.mu.
func (s *RemoteSource) archivedPackages(ctx context.Context, name string) ([]*Package, error) {
	if packages, ok := s.archived[name]; ok {
		return packages, nil
	}

	subdirURL := s.ArchiveURL() + name + "/"

	var packages []*Package
	seen := make(map[string]bool)

	add := func(filename, baseURL string) {
		if seen[filename] {
			return
		}
		pkg, err := NewPackage(filename, false, baseURL+filename, s)
		if err != nil {
			return
		}
		attachIfStored(s.store, pkg)
		seen[filename] = true
		packages = append(packages, pkg)
	}

	pkgfiles, dirs, err := s.fetchAndParse(ctx, subdirURL)
	if err != nil {
		return nil, err
	}
	for _, filename := range pkgfiles {
		add(filename, subdirURL)
	}
	for _, dir := range dirs {
		versionedURL := subdirURL + dir
		versionedFiles, _, err := s.fetchAndParse(ctx, versionedURL)
		if err != nil {
			return nil, err
		}
		for _, filename := range versionedFiles {
			add(filename, versionedURL)
		}
	}

	s.archived[name] = packages
	return packages, nil
}

// fetchAndParse returns the package files and directories listed at an
// index URL. A missing page yields empty lists.
func (s *RemoteSource) fetchAndParse(ctx context.Context, url string) ([]string, []string, error) {
	body, found, err := s.fetchIndex(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	return parseIndex(bytes.NewReader(body))
}

// fetchIndex gets an index page, consulting the byte cache first. The
// second return is false when the page does not exist (404).
func (s *RemoteSource) fetchIndex(ctx context.Context, url string) ([]byte, bool, error) {
	key := "index:" + url
	if data, hit, err := s.indexCache.Get(ctx, key); err == nil && hit {
		return data, true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeNetwork, err, "failed to fetch %s", url)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, false, errors.New(errors.ErrCodeNetwork, "failed to fetch %s: status %d", url, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeNetwork, err, "failed to fetch %s", url)
	}
	if err := s.indexCache.Set(ctx, key, body, s.indexTTL); err != nil {
		s.logger.Warn("failed to cache index page", "url", url, "error", err)
	}
	return body, true, nil
}

// attachIfStored binds a package to its store copy when one exists, so
// later Dependencies/Hash calls need no download.
func attachIfStored(store *cache.SourceCache, pkg *Package) {
	path, ok := store.PackageFile(pkg.Name(), pkg.Version())
	if !ok {
		return
	}
	descPath, err := store.DescriptionFile(pkg.Name(), pkg.Version())
	if err != nil {
		return
	}
	desc, err := description.ParseFile(descPath)
	if err != nil {
		return
	}
	pkg.SetLocal(path, desc)
}

// attachFromStore adds the tarball at src to the store and binds the
// package to the stored copy.
func attachFromStore(store *cache.SourceCache, pkg *Package, src string) error {
	path, err := store.AddPackageFile(pkg.Name(), pkg.Version(), src)
	if err != nil {
		return err
	}
	descPath, err := store.DescriptionFile(pkg.Name(), pkg.Version())
	if err != nil {
		return err
	}
	desc, err := description.ParseFile(descPath)
	if err != nil {
		return fmt.Errorf("package %s: %w", pkg.VersionedName(), err)
	}
	pkg.SetLocal(path, desc)
	return nil
}

// parseIndex extracts the package tarballs and subdirectories from a
// repository index page. An anchor counts only when its href equals its
// text, which filters out the sorting links and parent-directory entries
// that CRAN and Artifactory listings carry.
func parseIndex(r io.Reader) (pkgfiles, dirs []string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, nil, err
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			text := textContent(n)
			switch {
			case strings.HasSuffix(href, "gz") && href == text && href != "PACKAGES.gz":
				pkgfiles = append(pkgfiles, href)
			case strings.HasSuffix(href, "/") && href == text:
				dirs = append(dirs, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return pkgfiles, dirs, nil
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
