package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/matzehuels/lariat/pkg/deptree"
	"github.com/matzehuels/lariat/pkg/description"
	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/lockfile"
	"github.com/matzehuels/lariat/pkg/rversion"
	"github.com/matzehuels/lariat/pkg/source"
)

// memPkg describes one package version served by memSource.
type memPkg struct {
	version string
	deps    []description.Dependency
	rc      []string
}

// memSource serves packages from memory. Retrieve writes a small
// deterministic artifact to disk so hashing works without a network.
type memSource struct {
	name     string
	priority int
	dir      string
	pkgs     map[string][]memPkg
}

func newMemSource(t *testing.T, name string, priority int, pkgs map[string][]memPkg) *memSource {
	t.Helper()
	return &memSource{name: name, priority: priority, dir: t.TempDir(), pkgs: pkgs}
}

func (s *memSource) Name() string     { return s.name }
func (s *memSource) Location() string { return "mem://" + s.name }
func (s *memSource) Priority() int    { return s.priority }

func (s *memSource) FindPackageVersions(ctx context.Context, name string) ([]*source.Package, error) {
	var out []*source.Package
	for _, mp := range s.pkgs[name] {
		filename := fmt.Sprintf("%s_%s.tar.gz", name, mp.version)
		pkg, err := source.NewPackage(filename, true, "mem://"+s.name+"/"+filename, s)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, nil
}

func (s *memSource) FindPackage(ctx context.Context, name, version string) (*source.Package, error) {
	packages, _ := s.FindPackageVersions(ctx, name)
	for _, pkg := range packages {
		if pkg.Version() == version {
			return pkg, nil
		}
	}
	return nil, errors.New(errors.ErrCodePackageNotFound, "%s %s", name, version)
}

func (s *memSource) Retrieve(ctx context.Context, pkg *source.Package) error {
	for _, mp := range s.pkgs[pkg.Name()] {
		if mp.version != pkg.Version() {
			continue
		}
		path := filepath.Join(s.dir, pkg.Filename)
		if err := os.WriteFile(path, []byte(pkg.VersionedName()), 0o644); err != nil {
			return err
		}
		pkg.SetLocal(path, &description.Description{
			Package:      pkg.Name(),
			Version:      pkg.Version(),
			RConstraint:  mp.rc,
			Dependencies: mp.deps,
		})
		return nil
	}
	return errors.New(errors.ErrCodePackageNotFound, "%s %s", pkg.Name(), pkg.Version())
}

func dep(name string, constraint ...string) description.Dependency {
	return description.Dependency{Name: name, Constraint: constraint}
}

func groupOf(t *testing.T, sources ...source.Source) *source.Group {
	t.Helper()
	g := source.NewGroup()
	for _, s := range sources {
		if err := g.AddSource(s); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func newResolver(t *testing.T, g *source.Group, n Notifier) *Resolver {
	t.Helper()
	r, err := New(Config{Group: g, Notifier: n})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return r
}

// recordingNotifier captures progress for assertions.
type recordingNotifier struct {
	messages []string
	warnings []string
	errs     []string
}

func (n *recordingNotifier) Message(msg string, indent int) { n.messages = append(n.messages, msg) }
func (n *recordingNotifier) Warning(msg string)             { n.warnings = append(n.warnings, msg) }
func (n *recordingNotifier) Error(msg string)               { n.errs = append(n.errs, msg) }

func unresolvedAny(name string, categories ...string) *deptree.Node {
	return deptree.NewUnresolvedConstrained(name, rversion.Any(), categories...)
}

func findNode(root *deptree.Node, name string) *deptree.Node {
	for _, n := range deptree.DepthFirst(root) {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func TestResolveFullTree(t *testing.T) {
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB", ">= 1.0"), dep("stats")}, rc: []string{">= 3.5"}}},
		"pkgB": {{version: "1.5"}},
	}))
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(unresolvedAny("pkgA", "main"))
	if err := r.ResolveFullTree(context.Background(), root, nil); err != nil {
		t.Fatalf("ResolveFullTree error: %v", err)
	}

	// No unresolved leftovers anywhere
	for _, n := range deptree.DepthFirst(root) {
		if n.Unresolved() {
			t.Fatalf("Unresolved node left in tree: %s", n)
		}
	}

	a := findNode(root, "pkgA")
	if a.Kind != deptree.KindSource || a.Package.Version() != "1.0" {
		t.Errorf("Unexpected pkgA resolution: %s", a)
	}
	if a.RConstraint.String() != ">= 3.5" {
		t.Errorf("Unexpected R constraint: %s", a.RConstraint)
	}

	b := findNode(root, "pkgB")
	if b.Kind != deptree.KindSource || b.Package.Version() != "1.5" {
		t.Errorf("Unexpected pkgB resolution: %s", b)
	}

	// Core names resolve without a source lookup
	stats := findNode(root, "stats")
	if stats.Kind != deptree.KindCore {
		t.Errorf("stats should be a core dependency: %s", stats)
	}

	// Categories flow down from the declaring requirement
	if !b.HasCategory("main") || !stats.HasCategory("main") {
		t.Error("Categories should propagate to transitive dependencies")
	}
}

func TestResolveSharedInstanceAndCategoryUnion(t *testing.T) {
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB")}}},
		"pkgC": {{version: "1.0", deps: []description.Dependency{dep("pkgB")}}},
		"pkgB": {{version: "2.0"}},
	}))
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(
		unresolvedAny("pkgA", "main"),
		unresolvedAny("pkgC", "dev"),
	)
	if err := r.ResolveFullTree(context.Background(), root, nil); err != nil {
		t.Fatalf("ResolveFullTree error: %v", err)
	}

	// Both parents reference the same instance
	underA := root.Dependencies[0].Dependencies[0]
	underC := root.Dependencies[1].Dependencies[0]
	if underA != underC {
		t.Error("A name must resolve to one shared instance")
	}

	// Its categories are the union of every requesting category
	if got := underA.Categories(); !reflect.DeepEqual(got, []string{"dev", "main"}) {
		t.Errorf("Unexpected categories: %v", got)
	}
}

func TestResolveIdempotent(t *testing.T) {
	pkgs := map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB", ">= 1.0")}}},
		"pkgB": {{version: "1.5"}, {version: "1.0"}},
	}
	ctx := context.Background()

	flatten := func() []lockfile.Entry {
		g := groupOf(t, newMemSource(t, "cran", 0, pkgs))
		r := newResolver(t, g, nil)
		root := deptree.NewRoot(unresolvedAny("pkgA", "main"))
		if err := r.ResolveFullTree(ctx, root, nil); err != nil {
			t.Fatalf("ResolveFullTree error: %v", err)
		}
		entries, err := deptree.ToLockEntries(ctx, root)
		if err != nil {
			t.Fatalf("ToLockEntries error: %v", err)
		}
		for i := range entries {
			sort.Strings(entries[i].Categories)
			sort.Strings(entries[i].Dependencies)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		return entries
	}

	if first, second := flatten(), flatten(); !reflect.DeepEqual(first, second) {
		t.Errorf("Resolution should be idempotent:\n%v\nvs\n%v", first, second)
	}
}

func TestResolveConflict(t *testing.T) {
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB", "== 1.0")}}},
		"pkgD": {{version: "1.0", deps: []description.Dependency{dep("pkgB", ">= 2.0")}}},
		"pkgB": {{version: "2.0"}, {version: "1.0"}},
	}))
	notifier := &recordingNotifier{}
	r := newResolver(t, g, notifier)

	root := deptree.NewRoot(unresolvedAny("pkgA", "main"), unresolvedAny("pkgD", "main"))
	err := r.ResolveFullTree(context.Background(), root, nil)
	if !errors.Is(err, errors.ErrCodeResolutionConflict) {
		t.Fatalf("Expected RESOLUTION_CONFLICT, got %v", err)
	}

	// The failure names the cached resolution and the requesting parent
	if len(notifier.errs) == 0 {
		t.Fatal("Conflict should be surfaced to the notifier")
	}
	msg := notifier.errs[0]
	for _, want := range []string{"pkgB", "1.0", ">= 2.0", "pkgD"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Conflict message should mention %q: %s", want, msg)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	g := groupOf(t, newMemSource(t, "cran", 0, nil))
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(unresolvedAny("ghost", "main"))
	err := r.ResolveFullTree(context.Background(), root, nil)
	if !errors.Is(err, errors.ErrCodePackageNotFound) {
		t.Errorf("Expected PACKAGE_NOT_FOUND, got %v", err)
	}
}

func TestResolvePriorityBands(t *testing.T) {
	g := groupOf(t,
		newMemSource(t, "private", 1, map[string][]memPkg{"pkgX": {{version: "2.0"}}}),
		newMemSource(t, "public", 0, map[string][]memPkg{"pkgX": {{version: "3.0"}}}),
	)
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(unresolvedAny("pkgX", "main"))
	if err := r.ResolveFullTree(context.Background(), root, nil); err != nil {
		t.Fatalf("ResolveFullTree error: %v", err)
	}

	x := findNode(root, "pkgX")
	if x.Package.Version() != "2.0" || x.Package.Source().Name() != "private" {
		t.Errorf("Higher band should shadow the newer public version: %s", x.Package)
	}
}

// resolveOldTree produces the previous resolution for the conservative
// tests: pkgA 1.0 depending on pkgB 1.0.
func resolveOldTree(t *testing.T) *deptree.Node {
	t.Helper()
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB")}}},
		"pkgB": {{version: "1.0"}},
	}))
	r := newResolver(t, g, nil)
	old := deptree.NewRoot(unresolvedAny("pkgA", "main"))
	if err := r.ResolveFullTree(context.Background(), old, nil); err != nil {
		t.Fatalf("ResolveFullTree error: %v", err)
	}
	return old
}

func TestConservativeResolution(t *testing.T) {
	old := resolveOldTree(t)

	// The sources have moved on: pkgA 1.1 and pkgB 2.0 are available.
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.1", deps: []description.Dependency{dep("pkgB")}}, {version: "1.0", deps: []description.Dependency{dep("pkgB")}}},
		"pkgB": {{version: "2.0"}, {version: "1.0"}},
	}))
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(unresolvedAny("pkgA", "main"))
	if err := r.ResolveFullTree(context.Background(), root, old); err != nil {
		t.Fatalf("ResolveFullTree error: %v", err)
	}

	// The direct requirement is re-evaluated and picks up 1.1
	if a := findNode(root, "pkgA"); a.Package.Version() != "1.1" {
		t.Errorf("Direct requirement should be re-resolved: %s", a.Package)
	}

	// The transitive dependency stays pinned at its old resolution
	if b := findNode(root, "pkgB"); b.Package.Version() != "1.0" {
		t.Errorf("Transitive dependency should stay pinned: %s", b.Package)
	}
}

func TestConservativeResolutionConflictFailsLoudly(t *testing.T) {
	old := resolveOldTree(t)

	// pkgA 1.1 now demands a pkgB the pin cannot satisfy. The run must
	// fail, not silently upgrade pkgB.
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.1", deps: []description.Dependency{dep("pkgB", ">= 2.0")}}},
		"pkgB": {{version: "2.0"}, {version: "1.0"}},
	}))
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(unresolvedAny("pkgA", "main"))
	err := r.ResolveFullTree(context.Background(), root, old)
	if !errors.Is(err, errors.ErrCodeResolutionConflict) {
		t.Errorf("Expected RESOLUTION_CONFLICT, got %v", err)
	}
}

func TestConstraintAgainstVCSResolutionWarns(t *testing.T) {
	// The old tree pinned pkgB to a git checkout. A constrained
	// requirement on pkgB cannot be checked against it; resolution
	// continues with a warning.
	vcsNode := deptree.NewVCSNode("pkgB", "git", "https://github.com/org/pkgB", "", "main")
	old := deptree.NewRoot(vcsNode)

	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB", ">= 1.0")}}},
	}))
	notifier := &recordingNotifier{}
	r := newResolver(t, g, notifier)

	root := deptree.NewRoot(unresolvedAny("pkgA", "main"))
	if err := r.ResolveFullTree(context.Background(), root, old); err != nil {
		t.Fatalf("ResolveFullTree error: %v", err)
	}

	b := findNode(root, "pkgB")
	if b.Kind != deptree.KindVCS {
		t.Errorf("pkgB should keep its VCS resolution: %s", b)
	}
	if len(notifier.warnings) == 0 {
		t.Error("Accepting an uncheckable constraint should warn")
	}
}

func TestCycleDetection(t *testing.T) {
	g := groupOf(t, newMemSource(t, "cran", 0, map[string][]memPkg{
		"pkgA": {{version: "1.0", deps: []description.Dependency{dep("pkgB")}}},
		"pkgB": {{version: "1.0", deps: []description.Dependency{dep("pkgA")}}},
	}))
	r := newResolver(t, g, nil)

	root := deptree.NewRoot(unresolvedAny("pkgA", "main"))
	err := r.ResolveFullTree(context.Background(), root, nil)
	if !errors.Is(err, errors.ErrCodeResolutionCycle) {
		t.Errorf("A requirement cycle should fail loudly, got %v", err)
	}
}

func TestIsCoreDependency(t *testing.T) {
	for _, name := range []string{"R", "stats", "utils", "tcltk"} {
		if !IsCoreDependency(name) {
			t.Errorf("%s should be core", name)
		}
	}
	if IsCoreDependency("stringr") {
		t.Error("stringr should not be core")
	}
}
