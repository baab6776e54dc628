package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/lariat/pkg/rversion"
)

func mustConstraint(t *testing.T, s string) rversion.Constraint {
	t.Helper()
	c, err := rversion.ParseConstraint(s)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

const sampleManifest = `
[metadata]
name = "analysis"
version = "0.1.0"
env-id = "default"

[[source]]
name = "cran"
url = "https://cloud.r-project.org"

[[source]]
name = "internal"
url = "https://repo.example.com/cran"
priority = 1

[dependencies]
stringr = ">= 1.4.0"
jsonlite = "*"

[dependencies.mypkg]
git = "https://github.com/org/mypkg"
branch = "devel"

[dev-dependencies]
testthat = "*"
`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	// Metadata
	if p.Metadata.Name != "analysis" || p.Metadata.EnvID != "default" {
		t.Errorf("Unexpected metadata: %+v", p.Metadata)
	}

	// Sources keep declaration order and priority
	if len(p.Sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(p.Sources))
	}
	if p.Sources[0].Name != "cran" || p.Sources[0].Priority != 0 {
		t.Errorf("Unexpected first source: %+v", p.Sources[0])
	}
	if p.Sources[1].Priority != 1 {
		t.Errorf("Unexpected second source: %+v", p.Sources[1])
	}

	// Dependencies by category
	main := p.DependenciesForCategory("main")
	if len(main) != 3 {
		t.Fatalf("Expected 3 main dependencies, got %d", len(main))
	}
	dev := p.DependenciesForCategory("dev")
	if len(dev) != 1 || dev[0].Name != "testthat" {
		t.Errorf("Unexpected dev dependencies: %v", dev)
	}

	byName := map[string]Dependency{}
	for _, d := range p.Dependencies {
		byName[d.Name] = d
	}

	// Constraint dependency
	if byName["stringr"].Constraint.String() != ">= 1.4.0" {
		t.Errorf("Unexpected constraint: %s", byName["stringr"].Constraint)
	}

	// VCS dependency
	my := byName["mypkg"]
	if my.VCS == nil || my.VCS.Git != "https://github.com/org/mypkg" || my.VCS.Branch != "devel" {
		t.Errorf("Unexpected VCS spec: %+v", my.VCS)
	}
}

func TestParseErrors(t *testing.T) {
	// VCS table without the git key
	_, err := Parse(strings.NewReader(`
[dependencies.mypkg]
branch = "devel"
`))
	if err == nil {
		t.Error("Missing git key should fail")
	}

	// Garbage constraint
	_, err = Parse(strings.NewReader(`
[dependencies]
stringr = "not a constraint"
`))
	if err == nil {
		t.Error("Invalid constraint should fail")
	}
}

func TestContentHash(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	h1 := p.ContentHash()

	// Deterministic
	if h1 != p.ContentHash() {
		t.Error("ContentHash should be deterministic")
	}

	// Cosmetic metadata does not change it
	p.Metadata.Description = "a description"
	if p.ContentHash() != h1 {
		t.Error("Cosmetic metadata should not change the hash")
	}

	// Dependency changes do
	p.SetDependency(Dependency{
		Name:       "stringr",
		Constraint: mustConstraint(t, ">= 1.5.0"),
		Category:   "main",
	})
	if p.ContentHash() == h1 {
		t.Error("Changing a constraint should change the hash")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := p.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	// The reloaded manifest describes the same project
	if loaded.ContentHash() != p.ContentHash() {
		t.Error("Save/Load should preserve the content hash")
	}
	if loaded.Metadata.Name != "analysis" {
		t.Errorf("Unexpected metadata after reload: %+v", loaded.Metadata)
	}
	if len(loaded.Dependencies) != len(p.Dependencies) {
		t.Errorf("Dependency count changed: %d vs %d",
			len(loaded.Dependencies), len(p.Dependencies))
	}
}

func TestSavePreservesUnknownContent(t *testing.T) {
	content := `custom-flag = true

[metadata]
name = "analysis"

[[source]]
name = "cran"
url = "https://cloud.r-project.org/"

[dependencies]
rlang = "*"

[tool.linter]
strict = true
`
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	p.SetDependency(Dependency{Name: "glue", Category: "main", Constraint: mustConstraint(t, ">= 1.2")})
	if err := p.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// The rewrite keeps tables and keys lariat does not manage.
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		t.Fatalf("reparse error: %v", err)
	}
	if doc["custom-flag"] != true {
		t.Errorf("custom-flag not preserved: %v", doc["custom-flag"])
	}
	tool, ok := doc["tool"].(map[string]any)
	if !ok {
		t.Fatalf("tool table not preserved: %v", doc["tool"])
	}
	linter, ok := tool["linter"].(map[string]any)
	if !ok || linter["strict"] != true {
		t.Errorf("tool.linter not preserved: %v", doc["tool"])
	}

	// And the managed sections reflect the change.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	main := loaded.DependenciesForCategory("main")
	if len(main) != 2 {
		t.Fatalf("got %d main dependencies: %v", len(main), main)
	}
}

func TestSetAndRemoveDependency(t *testing.T) {
	p := &Project{}
	p.SetDependency(Dependency{Name: "a", Category: "main"})
	p.SetDependency(Dependency{Name: "a", Category: "dev"})

	// Same name in another category is a separate declaration
	if len(p.Dependencies) != 2 {
		t.Fatalf("Expected 2 dependencies, got %d", len(p.Dependencies))
	}

	// Replacing in place
	p.SetDependency(Dependency{Name: "a", Category: "main", Constraint: mustConstraint(t, ">= 1.0")})
	if len(p.Dependencies) != 2 {
		t.Errorf("SetDependency should replace, not append: %v", p.Dependencies)
	}

	// Removal drops every category
	if !p.RemoveDependency("a") {
		t.Error("RemoveDependency should report a removal")
	}
	if len(p.Dependencies) != 0 {
		t.Errorf("Dependencies should be empty: %v", p.Dependencies)
	}
	if p.RemoveDependency("a") {
		t.Error("Removing a missing dependency should report false")
	}
}
