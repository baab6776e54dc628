package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/project"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.0.0", "abc123", "2024-01-01")

	if version != "1.0.0" {
		t.Errorf("version = %q, want %q", version, "1.0.0")
	}
	if commit != "abc123" {
		t.Errorf("commit = %q, want %q", commit, "abc123")
	}
	if date != "2024-01-01" {
		t.Errorf("date = %q, want %q", date, "2024-01-01")
	}
}

func TestRootCommandWiring(t *testing.T) {
	c := New(os.Stderr, log.InfoLevel)
	root := c.RootCommand()

	if root.Use != "lariat" {
		t.Errorf("root.Use = %q, want %q", root.Use, "lariat")
	}

	want := []string{"init", "add", "lock", "install", "export", "graph", "cache", "serve", "env"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root command is missing subcommand %q", name)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, log.InfoLevel)

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Error("debug message should be suppressed at info level")
	}

	logger.Info("visible")
	if buf.Len() == 0 {
		t.Error("info message should be written at info level")
	}
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, log.InfoLevel)

	ctx := withLogger(context.Background(), logger)
	if loggerFromContext(ctx) != logger {
		t.Error("loggerFromContext should return the stored logger")
	}

	// Without a stored logger the default is returned.
	if loggerFromContext(context.Background()) == nil {
		t.Error("loggerFromContext should fall back to a default logger")
	}
}

func runCommand(t *testing.T, args ...string) error {
	t.Helper()
	c := New(os.Stderr, log.InfoLevel)
	root := c.RootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runCommand(t, "init", "--name", "demo"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	p, err := project.Load(project.DefaultFilename)
	if err != nil {
		t.Fatalf("loading created manifest: %v", err)
	}

	// The manifest carries the project name and a CRAN source.
	if p.Metadata.Name != "demo" {
		t.Errorf("name = %q, want %q", p.Metadata.Name, "demo")
	}
	if len(p.Sources) != 1 || p.Sources[0].Name != "CRAN" {
		t.Errorf("sources = %v, want a single CRAN source", p.Sources)
	}

	// A second init must not clobber the existing manifest.
	if err := runCommand(t, "init"); err == nil {
		t.Error("expected error when manifest already exists")
	}
}

func TestAddCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runCommand(t, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := runCommand(t, "add", "rlang", "--constraint", ">= 1.0"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := runCommand(t, "add", "testthat", "--category", "dev"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	p, err := project.Load(project.DefaultFilename)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}

	if len(p.Dependencies) != 2 {
		t.Fatalf("got %d dependencies, want 2", len(p.Dependencies))
	}
	main := p.DependenciesForCategory("main")
	if len(main) != 1 || main[0].Name != "rlang" || main[0].Constraint.String() != ">= 1.0" {
		t.Errorf("unexpected main dependencies: %v", main)
	}
	dev := p.DependenciesForCategory("dev")
	if len(dev) != 1 || dev[0].Name != "testthat" {
		t.Errorf("unexpected dev dependencies: %v", dev)
	}
}

func TestAddCommandVCS(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runCommand(t, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := runCommand(t, "add", "mypkg", "--git", "https://example.com/mypkg.git", "--branch", "devel"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	p, err := project.Load(project.DefaultFilename)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}

	if len(p.Dependencies) != 1 {
		t.Fatalf("got %d dependencies, want 1", len(p.Dependencies))
	}
	dep := p.Dependencies[0]
	if dep.VCS == nil || dep.VCS.Git != "https://example.com/mypkg.git" || dep.VCS.Branch != "devel" {
		t.Errorf("unexpected VCS spec: %+v", dep.VCS)
	}
}

func TestAddCommandRejectsUnknownCategory(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runCommand(t, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	err := runCommand(t, "add", "rlang", "--category", "nope")
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should name the bad category, got %v", err)
	}
}
