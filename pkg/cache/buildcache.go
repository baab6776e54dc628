package cache

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BuildCache stores compiled package libraries as tarballs so that a
// package built once does not need to be built again for the same
// interpreter version and platform.
type BuildCache struct {
	root     string
	rVersion string
	platform string
}

// NewBuildCache opens the build cache section for one interpreter version
// and platform. If rootDir is empty the default root is used.
func NewBuildCache(rVersion, platform, rootDir string) (*BuildCache, error) {
	if rootDir == "" {
		var err error
		rootDir, err = DefaultRoot()
		if err != nil {
			return nil, err
		}
	}
	c := &BuildCache{root: rootDir, rVersion: rVersion, platform: platform}
	if err := os.MkdirAll(c.baseDir(), 0o755); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *BuildCache) baseDir() string {
	return filepath.Join(c.root, "build", c.rVersion, c.platform)
}

func (c *BuildCache) buildPath(name, version string) string {
	return filepath.Join(c.baseDir(), fmt.Sprintf("%s_%s.tar.gz", name, version))
}

// HasBuild reports whether a built library for name/version is cached.
func (c *BuildCache) HasBuild(name, version string) bool {
	_, err := os.Stat(c.buildPath(name, version))
	return err == nil
}

// AddBuild archives the built library directory libDir (the package's
// directory inside the R library) into the cache.
func (c *BuildCache) AddBuild(name, version, libDir string) error {
	if err := os.MkdirAll(c.baseDir(), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.baseDir(), fmt.Sprintf("%s_%s.partial.*", name, version))
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = writeTarGz(tmp, libDir, name)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	dst := c.buildPath(name, version)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		if _, statErr := os.Stat(dst); statErr != nil {
			return err
		}
	}
	return nil
}

// RestoreBuild unpacks the cached build of name/version into the library
// directory libraryDir, recreating libraryDir/<name>.
func (c *BuildCache) RestoreBuild(name, version, libraryDir string) error {
	if !c.HasBuild(name, version) {
		return fmt.Errorf("build for %s %s is not in the build cache", name, version)
	}
	return extractTarGz(c.buildPath(name, version), libraryDir)
}

// ClearBuild removes the cached build for name/version, if present.
func (c *BuildCache) ClearBuild(name, version string) error {
	err := os.Remove(c.buildPath(name, version))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clear removes every cached build for this interpreter version and
// platform.
func (c *BuildCache) Clear() error {
	if err := os.RemoveAll(c.baseDir()); err != nil {
		return err
	}
	return os.MkdirAll(c.baseDir(), 0o755)
}

// writeTarGz archives dir under the member prefix prefix/.
func writeTarGz(w io.Writer, dir, prefix string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// extractTarGz unpacks the archive at path into dir, rejecting members
// that would escape it.
func extractTarGz(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if rel, err := filepath.Rel(dir, target); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive member %q escapes the target directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		}
	}
}
