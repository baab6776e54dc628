// Package source provides access to CRAN-like package repositories, both
// remote (over HTTP) and on local disk, and the priority-ordered grouping
// used to pick package versions across several of them.
//
// A repository follows the CRAN layout: the currently published version of
// every package lives under src/contrib/, and older versions live under
// src/contrib/Archive/<name>/. The Artifactory variant adds one more
// directory level (Archive/<name>/<version>/); both are handled
// transparently.
package source

import (
	"context"

	"github.com/matzehuels/lariat/pkg/errors"
)

// Source is a repository that lariat can list and download packages from.
type Source interface {
	// Name is the configured identifier of the source.
	Name() string

	// Location is the URL (remote) or path (local) of the source root.
	Location() string

	// Priority orders sources into bands; higher values are consulted
	// first.
	Priority() int

	// FindPackage returns the package with the exact name and version.
	FindPackage(ctx context.Context, name, version string) (*Package, error)

	// FindPackageVersions returns every known version of a package,
	// active and archived, in no particular order. An unknown name
	// yields an empty list, not an error.
	FindPackageVersions(ctx context.Context, name string) ([]*Package, error)

	// Retrieve downloads the package tarball into the local store and
	// parses its DESCRIPTION, even if a copy is already present.
	Retrieve(ctx context.Context, pkg *Package) error
}

// notFound builds the standard error for a name+detail lookup miss.
func notFound(name, detail string) error {
	if detail == "" {
		return errors.New(errors.ErrCodePackageNotFound, "%s", name)
	}
	return errors.New(errors.ErrCodePackageNotFound, "%s %s", name, detail)
}
