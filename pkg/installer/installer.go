// Package installer installs the contents of a lock file into an R
// environment, bottom of the dependency tree first.
package installer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/cache"
	"github.com/matzehuels/lariat/pkg/deptree"
	"github.com/matzehuels/lariat/pkg/environment"
	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/resolve"
	"github.com/matzehuels/lariat/pkg/rversion"
	"github.com/matzehuels/lariat/pkg/vcs"
)

// Installer installs resolved dependency trees into environments.
type Installer struct {
	// VerboseBuild shows the R build output instead of silencing it.
	VerboseBuild bool

	// Vanilla passes --use-vanilla to R CMD INSTALL.
	Vanilla bool

	// CacheRoot overrides the root of the build cache. Empty means the
	// per-user default.
	CacheRoot string

	// Notifier receives install progress. Defaults to NullNotifier.
	Notifier resolve.Notifier

	Logger *log.Logger

	store *vcs.Store
}

// InstallTree installs every dependency of the resolved tree whose
// categories intersect the given ones into the environment. The work
// runs in three passes over the plan: an R version precheck, a prefetch
// with hash verification, and finally the builds.
func (i *Installer) InstallTree(ctx context.Context, root *deptree.Node, env *environment.Environment, categories []string) error {
	logger := i.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := i.Notifier
	if notifier == nil {
		notifier = resolve.NullNotifier{}
	}

	store, err := vcs.NewStore("")
	if err != nil {
		return err
	}
	i.store = store
	// Leftovers of a previously failed run must not survive.
	if err := store.Clear(); err != nil {
		return err
	}
	defer store.Clear()

	plan, err := Plan(root, categories)
	if err != nil {
		return err
	}

	executor, err := env.Executor()
	if err != nil {
		return err
	}
	executor.Quiet = !i.VerboseBuild
	executor.Vanilla = i.Vanilla

	envVersion, platform, err := env.VersionInfo()
	if err != nil {
		return err
	}
	rVersion, err := rversion.Parse(envVersion)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidVersion, err,
			"environment %s has an unparseable R version", env.Name())
	}

	// Pass 1: a doomed build attempt should fail before any download.
	for _, node := range plan {
		if node.Kind != deptree.KindSource || node.RConstraint.IsZero() {
			continue
		}
		if !node.RConstraint.Allows(rVersion) {
			msg := fmt.Sprintf(
				"cannot install %s in environment %s: it requires R %s but the environment runs R %s",
				node.Name, env.Name(), node.RConstraint, envVersion)
			notifier.Error(msg)
			return errors.New(errors.ErrCodeInstallFailed, "%s", msg)
		}
	}

	// Pass 2: fetch everything and verify hashes.
	for _, node := range plan {
		switch node.Kind {
		case deptree.KindSource:
			if err := i.prefetchSource(ctx, node, notifier); err != nil {
				return err
			}
		case deptree.KindVCS:
			notifier.Message(fmt.Sprintf("Cloning %s from %s@%s", node.Name, node.URL, refLabel(node.Ref)), 0)
			if err := store.ClearClone(node.URL, node.Ref); err != nil {
				return err
			}
			if err := vcs.CloneShallow(ctx, node.VCSType, node.URL, node.Ref, store.CloneDir(node.URL, node.Ref)); err != nil {
				return err
			}
		case deptree.KindCore:
		default:
			return errors.New(errors.ErrCodeInternal, "cannot install dependency %s", node)
		}
	}

	buildCache, err := cache.NewBuildCache(envVersion, platform, i.CacheRoot)
	if err != nil {
		return err
	}

	// Pass 3: build and install.
	for _, node := range plan {
		switch node.Kind {
		case deptree.KindSource:
			err = i.installSource(ctx, node, env, executor, buildCache, notifier)
		case deptree.KindVCS:
			err = i.installVCS(ctx, node, env, executor, notifier)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// prefetchSource makes sure the tarball is in the local store and
// matches the locked hash. A present but corrupt file is downloaded
// again before failing.
func (i *Installer) prefetchSource(ctx context.Context, node *deptree.Node, notifier resolve.Notifier) error {
	pkg := node.Package

	if pkg.HasLocalFile() {
		if ok, err := pkg.HashMatch(ctx); err == nil && ok {
			return nil
		}
	}

	notifier.Message(fmt.Sprintf("Downloading %s (%s) from %s",
		pkg.Name(), pkg.Version(), pkg.Source().Name()), 0)
	if err := pkg.Source().Retrieve(ctx, pkg); err != nil {
		return err
	}

	ok, err := pkg.HashMatch(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrCodeHashMismatch,
			"hash for package %s %s, file %s is different from the expected",
			pkg.Name(), pkg.Version(), pkg.Filename)
	}
	return nil
}

func (i *Installer) installSource(ctx context.Context, node *deptree.Node, env *environment.Environment, executor *environment.Executor, buildCache *cache.BuildCache, notifier resolve.Notifier) error {
	pkg := node.Package

	if env.HasPackage(pkg.Name(), pkg.Version()) {
		return nil
	}

	installed, hasOld := env.PackageVersion(pkg.Name())
	if hasOld {
		notifier.Message(fmt.Sprintf("Replacing %s (%s -> %s)",
			pkg.Name(), installed, pkg.Version()), 0)
		if err := executor.Remove(ctx, pkg.Name()); err != nil {
			return err
		}
	}

	if buildCache.HasBuild(pkg.Name(), pkg.Version()) {
		notifier.Message(fmt.Sprintf("Installing %s (%s) (from cache)",
			pkg.Name(), pkg.Version()), 0)
		return buildCache.RestoreBuild(pkg.Name(), pkg.Version(), env.LibDir())
	}

	notifier.Message(fmt.Sprintf("Building %s (%s)", pkg.Name(), pkg.Version()), 0)
	if err := executor.Install(ctx, pkg.LocalPath()); err != nil {
		return err
	}
	return buildCache.AddBuild(pkg.Name(), pkg.Version(), filepath.Join(env.LibDir(), pkg.Name()))
}

func (i *Installer) installVCS(ctx context.Context, node *deptree.Node, env *environment.Environment, executor *environment.Executor, notifier resolve.Notifier) error {
	// A previously installed version has an unknowable relation to the
	// checkout, so it is always replaced.
	if installed, ok := env.PackageVersion(node.Name); ok {
		notifier.Message(fmt.Sprintf("Removing currently installed %s (%s)", node.Name, installed), 0)
		if err := executor.Remove(ctx, node.Name); err != nil {
			return err
		}
	}

	notifier.Message(fmt.Sprintf("Building %s from %s@%s", node.Name, node.URL, refLabel(node.Ref)), 0)
	if err := executor.Install(ctx, i.store.CloneDir(node.URL, node.Ref)); err != nil {
		return err
	}
	// The clone is kept on failure to make the breakage inspectable.
	return i.store.ClearClone(node.URL, node.Ref)
}

// Plan flattens a resolved tree into install order: reversed
// breadth-first layers so leaves come first, de-duplicated by name
// keeping the earliest occurrence, filtered to the wanted categories.
// An empty category list means everything.
func Plan(root *deptree.Node, categories []string) ([]*deptree.Node, error) {
	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	layers := deptree.BreadthFirstLayers(root)

	var plan []*deptree.Node
	seen := make(map[string]bool)
	for idx := len(layers) - 1; idx >= 0; idx-- {
		for _, node := range layers[idx] {
			if node.Kind == deptree.KindRoot || seen[node.Name] {
				continue
			}
			if node.Unresolved() {
				return nil, errors.New(errors.ErrCodeInternal,
					"install plan contains unresolved dependency %s", node)
			}
			if len(wanted) > 0 && !hasAnyCategory(node, wanted) {
				continue
			}
			seen[node.Name] = true
			plan = append(plan, node)
		}
	}
	return plan, nil
}

func hasAnyCategory(node *deptree.Node, wanted map[string]bool) bool {
	for _, c := range node.Categories() {
		if wanted[c] {
			return true
		}
	}
	return false
}

func refLabel(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}
