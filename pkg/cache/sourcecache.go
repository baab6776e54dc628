package cache

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRoot returns the root directory for lariat's on-disk caches
// (~/.lariat/cache).
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lariat", "cache"), nil
}

// SourceCache is the local store for package tarballs downloaded from one
// source, plus the DESCRIPTION files extracted from them.
//
// Even packages coming from a local directory source are copied in: the
// directory may live on a network drive that goes away, and the
// DESCRIPTION must be extracted somewhere regardless.
type SourceCache struct {
	root      string
	sourceURL string
}

// NewSourceCache opens the cache section for the given source URL (remote)
// or path (local). If rootDir is empty the default root is used.
func NewSourceCache(sourceURL, rootDir string) (*SourceCache, error) {
	if rootDir == "" {
		var err error
		rootDir, err = DefaultRoot()
		if err != nil {
			return nil, err
		}
	}
	c := &SourceCache{root: rootDir, sourceURL: sourceURL}
	if err := os.MkdirAll(c.baseDir(), 0o755); err != nil {
		return nil, err
	}
	return c, nil
}

// baseDir partitions the cache per source: remote sources by host, local
// sources under "local", both suffixed with a hash of the path so two
// sources on the same host do not collide.
func (c *SourceCache) baseDir() string {
	u, err := url.Parse(c.sourceURL)
	location := "local"
	pathPart := c.sourceURL
	if err == nil && u.Host != "" {
		location = filepath.Join("remote", u.Host)
		pathPart = u.Path
	}
	return filepath.Join(c.root, "source", location, Hash([]byte(pathPart)))
}

func (c *SourceCache) packageDir(name string) string {
	return filepath.Join(c.baseDir(), name)
}

func (c *SourceCache) packagePath(name, version string) string {
	return filepath.Join(c.packageDir(name), fmt.Sprintf("%s_%s.tar.gz", name, version))
}

func (c *SourceCache) metaDir(name, version string) string {
	return filepath.Join(c.packageDir(name), fmt.Sprintf("%s_%s.meta-info", name, version))
}

// PackageFile returns the path of the cached tarball for name/version and
// whether it is present.
func (c *SourceCache) PackageFile(name, version string) (string, bool) {
	p := c.packagePath(name, version)
	_, err := os.Stat(p)
	return p, err == nil
}

// HasPackageFile reports whether the tarball for name/version is cached.
func (c *SourceCache) HasPackageFile(name, version string) bool {
	_, ok := c.PackageFile(name, version)
	return ok
}

// AddPackageFile copies the tarball at src into the cache and returns its
// cached path. The copy goes to a temporary name first and is renamed into
// place, so concurrent processes adding the same package cannot corrupt
// each other; whoever renames first wins.
func (c *SourceCache) AddPackageFile(name, version, src string) (string, error) {
	dst := c.packagePath(name, version)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(c.packageDir(name), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(c.packageDir(name), fmt.Sprintf("%s_%s.partial.*", name, version))
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	in, err := os.Open(src)
	if err != nil {
		tmp.Close()
		return "", err
	}
	_, err = io.Copy(tmp, in)
	in.Close()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		// A concurrent process may have renamed its copy first; if the
		// target exists now, that copy is just as good.
		if _, statErr := os.Stat(dst); statErr != nil {
			return "", err
		}
	}
	return dst, nil
}

// DescriptionFile returns the path of the DESCRIPTION extracted from the
// cached tarball for name/version, extracting it on first access.
func (c *SourceCache) DescriptionFile(name, version string) (string, error) {
	meta := c.metaDir(name, version)
	descPath := filepath.Join(meta, "DESCRIPTION")
	if _, err := os.Stat(descPath); err == nil {
		return descPath, nil
	}

	pkgPath, ok := c.PackageFile(name, version)
	if !ok {
		return "", fmt.Errorf("package %s %s is not in the source cache", name, version)
	}

	content, err := extractDescription(pkgPath)
	if err != nil {
		return "", fmt.Errorf("extract DESCRIPTION from %s: %w", pkgPath, err)
	}

	if err := os.MkdirAll(meta, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(meta, "DESCRIPTION.*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), descPath); err != nil {
		if _, statErr := os.Stat(descPath); statErr != nil {
			return "", err
		}
	}
	return descPath, nil
}

// extractDescription pulls the top-level DESCRIPTION member out of a
// package tarball. The shortest member name ending in DESCRIPTION is the
// package's own; longer ones belong to bundled sub-packages or tests.
func extractDescription(tarballPath string) ([]byte, error) {
	f, err := os.Open(tarballPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	type member struct {
		name    string
		content []byte
	}
	var candidates []member

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, "DESCRIPTION") {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, member{name: hdr.Name, content: content})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("the package does not have a DESCRIPTION file")
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i].name) < len(candidates[j].name) })
	return candidates[0].content, nil
}
