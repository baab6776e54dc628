package cache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()

	// Get always returns miss
	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit {
		t.Error("NullCache.Get should always return miss")
	}
	if data != nil {
		t.Error("NullCache.Get should return nil data")
	}

	// Set does nothing (no error)
	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Errorf("Set error: %v", err)
	}

	// Still a miss after Set
	_, hit, _ = c.Get(ctx, "key")
	if hit {
		t.Error("NullCache should not store data")
	}

	// Delete does nothing (no error)
	if err := c.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
}

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache error: %v", err)
	}
	defer c.Close()

	// Miss before Set
	_, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit {
		t.Error("Get before Set should miss")
	}

	// Hit after Set
	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !hit {
		t.Fatal("Get after Set should hit")
	}
	if string(data) != "value" {
		t.Errorf("Unexpected data: %s", data)
	}

	// Expired entries are misses
	if err := c.Set(ctx, "short", []byte("gone"), -time.Second); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	_, hit, _ = c.Get(ctx, "short")
	if hit {
		t.Error("Expired entry should miss")
	}

	// A zero ttl never expires
	if err := c.Set(ctx, "forever", []byte("keep"), 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	_, hit, _ = c.Get(ctx, "forever")
	if !hit {
		t.Error("Zero-ttl entry should hit")
	}

	// Miss after Delete
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	_, hit, _ = c.Get(ctx, "key")
	if hit {
		t.Error("Get after Delete should miss")
	}
}

func TestHash(t *testing.T) {
	// Test determinism
	h1 := Hash([]byte("hello"))
	h2 := Hash([]byte("hello"))
	if h1 != h2 {
		t.Error("Hash should be deterministic")
	}

	// Test different inputs produce different hashes
	h3 := Hash([]byte("world"))
	if h1 == h3 {
		t.Error("Different inputs should produce different hashes")
	}

	// Test hash length (SHA-256 produces 64 hex chars)
	if len(h1) != 64 {
		t.Errorf("Hash length should be 64, got %d", len(h1))
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile error: %v", err)
	}

	// Prefixed with the algorithm name, matching the lockfile format
	if !strings.HasPrefix(h, "sha256:") {
		t.Errorf("HashFile should prefix the algorithm: %s", h)
	}
	if h != "sha256:"+Hash([]byte("hello")) {
		t.Errorf("HashFile should match Hash of the content: %s", h)
	}
}

// writeTestTarball creates a tar.gz at path with the given member
// name/content pairs.
func writeTestTarball(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range members {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceCache(t *testing.T) {
	root := t.TempDir()
	c, err := NewSourceCache("https://cloud.r-project.org", root)
	if err != nil {
		t.Fatalf("NewSourceCache error: %v", err)
	}

	// Not cached yet
	if c.HasPackageFile("stringr", "1.5.0") {
		t.Error("Fresh cache should not have the package")
	}

	// Build a tarball with a nested DESCRIPTION that must not win over
	// the top-level one.
	src := filepath.Join(t.TempDir(), "stringr_1.5.0.tar.gz")
	writeTestTarball(t, src, map[string]string{
		"stringr/DESCRIPTION":       "Package: stringr\nVersion: 1.5.0\n",
		"stringr/tests/DESCRIPTION": "Package: bogus\nVersion: 0.0.1\n",
	})

	cached, err := c.AddPackageFile("stringr", "1.5.0", src)
	if err != nil {
		t.Fatalf("AddPackageFile error: %v", err)
	}
	if !c.HasPackageFile("stringr", "1.5.0") {
		t.Error("Package should be cached after add")
	}

	// Adding again is a no-op returning the same path
	again, err := c.AddPackageFile("stringr", "1.5.0", src)
	if err != nil {
		t.Fatalf("AddPackageFile error: %v", err)
	}
	if again != cached {
		t.Errorf("Repeated add should return the cached path: %s vs %s", again, cached)
	}

	// DESCRIPTION extraction picks the top-level file
	descPath, err := c.DescriptionFile("stringr", "1.5.0")
	if err != nil {
		t.Fatalf("DescriptionFile error: %v", err)
	}
	content, err := os.ReadFile(descPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "Package: stringr") {
		t.Errorf("Extracted the wrong DESCRIPTION: %s", content)
	}

	// A second extraction hits the cached file
	descPath2, err := c.DescriptionFile("stringr", "1.5.0")
	if err != nil {
		t.Fatalf("DescriptionFile error: %v", err)
	}
	if descPath2 != descPath {
		t.Errorf("Repeated extraction should return the same path: %s vs %s", descPath2, descPath)
	}

	// Uncached packages fail
	if _, err := c.DescriptionFile("dplyr", "1.0.0"); err == nil {
		t.Error("DescriptionFile for an uncached package should fail")
	}
}

func TestSourceCacheSeparatesSources(t *testing.T) {
	root := t.TempDir()
	c1, err := NewSourceCache("https://cloud.r-project.org", root)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := NewSourceCache("https://internal.example.com/cran", root)
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "pkg_1.0.tar.gz")
	writeTestTarball(t, src, map[string]string{"pkg/DESCRIPTION": "Package: pkg\nVersion: 1.0\n"})
	if _, err := c1.AddPackageFile("pkg", "1.0", src); err != nil {
		t.Fatal(err)
	}

	// The second source has its own section
	if c2.HasPackageFile("pkg", "1.0") {
		t.Error("Sources should not share cached packages")
	}
}

func TestBuildCache(t *testing.T) {
	root := t.TempDir()
	c, err := NewBuildCache("4.3.1", "x86_64-pc-linux-gnu", root)
	if err != nil {
		t.Fatalf("NewBuildCache error: %v", err)
	}

	if c.HasBuild("stringr", "1.5.0") {
		t.Error("Fresh cache should not have the build")
	}

	// Archive a fake built library
	libDir := filepath.Join(t.TempDir(), "stringr")
	if err := os.MkdirAll(filepath.Join(libDir, "R"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "DESCRIPTION"), []byte("Package: stringr\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "R", "stringr.rdb"), []byte("binary"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.AddBuild("stringr", "1.5.0", libDir); err != nil {
		t.Fatalf("AddBuild error: %v", err)
	}
	if !c.HasBuild("stringr", "1.5.0") {
		t.Error("Build should be cached after add")
	}

	// Restore recreates the library layout
	library := t.TempDir()
	if err := c.RestoreBuild("stringr", "1.5.0", library); err != nil {
		t.Fatalf("RestoreBuild error: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(library, "stringr", "R", "stringr.rdb"))
	if err != nil {
		t.Fatalf("Restored file missing: %v", err)
	}
	if string(content) != "binary" {
		t.Errorf("Restored content unexpected: %s", content)
	}

	// ClearBuild removes one entry
	if err := c.ClearBuild("stringr", "1.5.0"); err != nil {
		t.Fatalf("ClearBuild error: %v", err)
	}
	if c.HasBuild("stringr", "1.5.0") {
		t.Error("Build should be gone after ClearBuild")
	}

	// Restoring a missing build fails
	if err := c.RestoreBuild("stringr", "1.5.0", library); err == nil {
		t.Error("RestoreBuild for a missing build should fail")
	}

	// ClearBuild is idempotent
	if err := c.ClearBuild("stringr", "1.5.0"); err != nil {
		t.Errorf("ClearBuild on a missing build should not fail: %v", err)
	}

	// Clear wipes the section
	if err := c.AddBuild("stringr", "1.5.0", libDir); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if c.HasBuild("stringr", "1.5.0") {
		t.Error("Build should be gone after Clear")
	}
}

func TestBuildCacheKeyedByEnvironment(t *testing.T) {
	root := t.TempDir()
	c1, err := NewBuildCache("4.3.1", "x86_64-pc-linux-gnu", root)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := NewBuildCache("4.2.0", "x86_64-pc-linux-gnu", root)
	if err != nil {
		t.Fatal(err)
	}

	libDir := filepath.Join(t.TempDir(), "pkg")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "DESCRIPTION"), []byte("Package: pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c1.AddBuild("pkg", "1.0", libDir); err != nil {
		t.Fatal(err)
	}

	// A different interpreter version has its own section
	if c2.HasBuild("pkg", "1.0") {
		t.Error("Builds should be keyed by interpreter version")
	}
}
