package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// newTestLocalRepo lays out a CRAN-style repository on disk:
//
//	stringr 1.5.0 active, 1.4.0 archived (CRAN style),
//	1.3.0 archived (Artifactory style).
func newTestLocalRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	contrib := filepath.Join(root, "src", "contrib")
	archive := filepath.Join(contrib, "Archive", "stringr")
	if err := os.MkdirAll(filepath.Join(archive, "1.3.0"), 0o755); err != nil {
		t.Fatal(err)
	}

	write := func(path string, data []byte) {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(filepath.Join(contrib, "PACKAGES.gz"), []byte("index"))
	write(filepath.Join(contrib, "stringr_1.5.0.tar.gz"),
		makeTarball(t, "stringr", "1.5.0", "Imports: glue\n"))
	write(filepath.Join(archive, "stringr_1.4.0.tar.gz"),
		makeTarball(t, "stringr", "1.4.0", ""))
	write(filepath.Join(archive, "1.3.0", "stringr_1.3.0.tar.gz"),
		makeTarball(t, "stringr", "1.3.0", ""))
	return root
}

func newTestLocal(t *testing.T, root string) *LocalSource {
	t.Helper()
	src, err := NewLocalSource(LocalConfig{
		Name:      "internal",
		Path:      root,
		CacheRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewLocalSource error: %v", err)
	}
	return src
}

func TestLocalSourceFindPackageVersions(t *testing.T) {
	src := newTestLocal(t, newTestLocalRepo(t))
	ctx := context.Background()

	packages, err := src.FindPackageVersions(ctx, "stringr")
	if err != nil {
		t.Fatalf("FindPackageVersions error: %v", err)
	}

	got := map[string]bool{}
	for _, pkg := range packages {
		got[pkg.Version()] = pkg.Active
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 versions, got %v", got)
	}
	if !got["1.5.0"] {
		t.Error("1.5.0 should be active")
	}
	if got["1.4.0"] || got["1.3.0"] {
		t.Error("Archived versions should not be active")
	}
}

func TestLocalSourceRetrieve(t *testing.T) {
	src := newTestLocal(t, newTestLocalRepo(t))
	ctx := context.Background()

	pkg, err := src.FindPackage(ctx, "stringr", "1.5.0")
	if err != nil {
		t.Fatalf("FindPackage error: %v", err)
	}

	deps, err := pkg.Dependencies(ctx)
	if err != nil {
		t.Fatalf("Dependencies error: %v", err)
	}
	if len(deps) != 1 || deps[0].Name != "glue" {
		t.Errorf("Unexpected dependencies: %v", deps)
	}

	// The tarball is copied into the store, not referenced in place
	if pkg.LocalPath() == pkg.URL {
		t.Error("Retrieve should copy the tarball into the store")
	}
}

func TestLocalSourceEmpty(t *testing.T) {
	src := newTestLocal(t, t.TempDir())
	ctx := context.Background()

	// A bare directory is an empty source, not an error
	packages, err := src.FindPackageVersions(ctx, "stringr")
	if err != nil {
		t.Fatalf("FindPackageVersions error: %v", err)
	}
	if len(packages) != 0 {
		t.Errorf("Empty source should have no versions: %v", packages)
	}

	if _, err := src.FindPackage(ctx, "stringr", "1.0"); err == nil {
		t.Error("FindPackage on an empty source should fail")
	}
}

func TestNewPackageFilenames(t *testing.T) {
	src := &fakeSource{name: "s"}

	pkg, err := NewPackage("stringr_1.5.0.tar.gz", true, "u", src)
	if err != nil {
		t.Fatalf("NewPackage error: %v", err)
	}
	if pkg.Name() != "stringr" || pkg.Version() != "1.5.0" {
		t.Errorf("Unexpected parse: %s %s", pkg.Name(), pkg.Version())
	}
	if pkg.VersionedName() != "stringr_1.5.0" {
		t.Errorf("Unexpected versioned name: %s", pkg.VersionedName())
	}

	// Dash versions are common on CRAN
	pkg, err = NewPackage("foo.bar_1.8-3.tar.gz", false, "u", src)
	if err != nil {
		t.Fatalf("NewPackage error: %v", err)
	}
	if pkg.Name() != "foo.bar" || pkg.Version() != "1.8-3" {
		t.Errorf("Unexpected parse: %s %s", pkg.Name(), pkg.Version())
	}

	// Filenames without a separator are rejected
	if _, err := NewPackage("PACKAGES.gz", true, "u", src); err == nil {
		t.Error("Unsplittable filename should fail")
	}
}
