package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/matzehuels/lariat/pkg/cache"
	"github.com/matzehuels/lariat/pkg/description"
	"github.com/matzehuels/lariat/pkg/errors"
)

// Package represents one downloadable version of a package on a source.
//
// A Package starts as a lightweight index entry (filename and URL only).
// Dependencies, the interpreter constraint and the content hash all live in
// the tarball, so accessing them triggers a download into the source store
// the first time.
type Package struct {
	// Filename is the tarball filename, e.g. "stringr_1.5.0.tar.gz".
	Filename string

	// Active is true for the currently published version (src/contrib)
	// and false for archived ones.
	Active bool

	// URL is where the tarball can be fetched from. For local sources
	// this is a filesystem path.
	URL string

	// ExpectedHash, when set, is the hash the downloaded tarball must
	// have (lockfile replay). Format "sha256:<hex>".
	ExpectedHash string

	source    Source
	name      string
	version   string
	localPath string
	desc      *description.Description
}

// NewPackage builds a Package from an index entry. The filename must be of
// the form name_version.tar.gz.
func NewPackage(filename string, active bool, url string, src Source) (*Package, error) {
	versioned := strings.TrimSuffix(filename, ".gz")
	versioned = strings.TrimSuffix(versioned, ".tar")
	versioned = strings.TrimSuffix(versioned, ".tgz")

	name, version, ok := strings.Cut(versioned, "_")
	if !ok || name == "" || version == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"filename %q cannot be split into package name and version", filename)
	}
	return &Package{
		Filename: filename,
		Active:   active,
		URL:      url,
		source:   src,
		name:     name,
		version:  version,
	}, nil
}

// Name returns the plain package name, e.g. "stringr".
func (p *Package) Name() string { return p.name }

// Version returns the version from the filename, e.g. "1.5.0".
func (p *Package) Version() string { return p.version }

// VersionedName returns name and version joined as in the filename,
// e.g. "stringr_1.5.0".
func (p *Package) VersionedName() string { return p.name + "_" + p.version }

// Source returns the source this package was found on.
func (p *Package) Source() Source { return p.source }

// LocalPath returns the path of the tarball in the source store, or ""
// if the package has not been retrieved yet.
func (p *Package) LocalPath() string { return p.localPath }

// HasLocalFile reports whether the tarball is present in the source store.
func (p *Package) HasLocalFile() bool { return p.localPath != "" }

// SetLocal records the stored tarball path and its parsed DESCRIPTION.
// Sources call this after retrieval or a store hit.
func (p *Package) SetLocal(path string, desc *description.Description) {
	p.localPath = path
	p.desc = desc
}

// EnsureLocal retrieves the package if the tarball is not already in the
// source store.
func (p *Package) EnsureLocal(ctx context.Context) error {
	if p.HasLocalFile() {
		return nil
	}
	return p.source.Retrieve(ctx, p)
}

// Hash returns the content hash of the tarball in the form
// "sha256:<hex>", retrieving the package first if needed.
func (p *Package) Hash(ctx context.Context) (string, error) {
	if err := p.EnsureLocal(ctx); err != nil {
		return "", err
	}
	return cache.HashFile(p.localPath)
}

// Dependencies returns the package requirements from its DESCRIPTION,
// retrieving the package first if needed.
func (p *Package) Dependencies(ctx context.Context) ([]description.Dependency, error) {
	if err := p.EnsureLocal(ctx); err != nil {
		return nil, err
	}
	return p.desc.Dependencies, nil
}

// RConstraint returns the interpreter constraint operands from the
// DESCRIPTION, retrieving the package first if needed. An empty list
// means any interpreter version.
func (p *Package) RConstraint(ctx context.Context) ([]string, error) {
	if err := p.EnsureLocal(ctx); err != nil {
		return nil, err
	}
	return p.desc.RConstraint, nil
}

// HashMatch reports whether the tarball's hash equals ExpectedHash,
// retrieving the package first if needed.
func (p *Package) HashMatch(ctx context.Context) (bool, error) {
	if p.ExpectedHash == "" {
		return false, errors.New(errors.ErrCodeInternal,
			"package %s has no expected hash", p.VersionedName())
	}
	h, err := p.Hash(ctx)
	if err != nil {
		return false, err
	}
	return h == p.ExpectedHash, nil
}

func (p *Package) String() string {
	return fmt.Sprintf("Package(name=%q, version=%q, source=%q)",
		p.name, p.version, p.source.Name())
}
