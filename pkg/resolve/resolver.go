// Package resolve turns a tree of unresolved requirements into a fully
// resolved dependency tree by consulting the project's source group and,
// for VCS requirements, performing shallow clones.
package resolve

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/deptree"
	"github.com/matzehuels/lariat/pkg/description"
	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/rversion"
	"github.com/matzehuels/lariat/pkg/source"
	"github.com/matzehuels/lariat/pkg/vcs"
)

// Config configures a Resolver.
type Config struct {
	Group *source.Group

	// Notifier receives progress. Defaults to NullNotifier.
	Notifier Notifier

	// VCSStore holds scratch clones. Defaults to a per-resolver store
	// under the system temp dir.
	VCSStore *vcs.Store

	Logger *log.Logger
}

// Resolver resolves dependency trees. A Resolver is not safe for
// concurrent use: the resolution cache belongs to one run at a time.
type Resolver struct {
	group    *source.Group
	notifier Notifier
	store    *vcs.Store
	logger   *log.Logger

	// cache maps name to its single resolution for the current run.
	cache map[string]*deptree.Node

	// visiting tracks the names on the current depth-first path so a
	// genuine requirement cycle fails loudly instead of producing an
	// inconsistent tree.
	visiting map[string]bool
	finished map[string]bool
}

// New returns a Resolver over the given sources.
func New(cfg Config) (*Resolver, error) {
	if cfg.Group == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "resolver needs a source group")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NullNotifier{}
	}
	store := cfg.VCSStore
	if store == nil {
		var err error
		store, err = vcs.NewStore("")
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		group:    cfg.Group,
		notifier: notifier,
		store:    store,
		logger:   logger,
	}, nil
}

// ResolveFullTree resolves every requirement under root, in place. When
// oldTree is non-nil the resolver runs in conservative mode: transitive
// dependencies keep their previous resolution and only the direct
// requirements of root are looked up fresh, so an explicit version bump
// in the project takes effect with minimal disruption.
//
// On any failure the tree is left partially modified and must be
// discarded; there is no partial-success mode.
func (r *Resolver) ResolveFullTree(ctx context.Context, root, oldTree *deptree.Node) error {
	// A fresh cache per run: resolutions must never leak between runs.
	r.cache = make(map[string]*deptree.Node)
	r.visiting = make(map[string]bool)
	r.finished = make(map[string]bool)

	if oldTree != nil {
		r.prePopulateCache(root, oldTree)
	}

	r.notifier.Message("Resolving dependencies:", 0)

	if err := r.firstLevelResolve(ctx, root); err != nil {
		return err
	}

	// The first level is pinned before anything else is looked up, so
	// the project's own declarations always win over constraints coming
	// from transitive manifests.
	for _, dep := range root.Dependencies {
		r.reportResolve(dep, 0, false)
		if err := r.depthFirstResolve(ctx, dep, 1); err != nil {
			return err
		}
	}
	return nil
}

// prePopulateCache seeds the cache with every resolution from the old
// tree, then evicts the names declared directly in the project so they
// are re-evaluated.
func (r *Resolver) prePopulateCache(root, oldTree *deptree.Node) {
	for _, dep := range deptree.DepthFirstUnique(oldTree) {
		if dep.Kind == deptree.KindRoot {
			continue
		}
		r.cache[dep.Name] = dep
	}
	for _, dep := range root.Dependencies {
		delete(r.cache, dep.Name)
	}
}

// firstLevelResolve resolves the direct children of root, one level
// deep.
func (r *Resolver) firstLevelResolve(ctx context.Context, root *deptree.Node) error {
	resolved := make([]*deptree.Node, 0, len(root.Dependencies))
	for _, dep := range root.Dependencies {
		node, err := r.resolveSingleDep(ctx, root, dep, 0, false)
		if err != nil {
			return err
		}
		resolved = append(resolved, node)
	}
	root.Dependencies = resolved
	return nil
}

// depthFirstResolve resolves the subtree of an already-resolved node, in
// place. When it returns without error, no unresolved node remains
// anywhere beneath the argument.
func (r *Resolver) depthFirstResolve(ctx context.Context, node *deptree.Node, level int) error {
	if r.finished[node.Name] {
		return nil
	}
	if r.visiting[node.Name] {
		return errors.New(errors.ErrCodeResolutionCycle,
			"dependency cycle detected through package %s", node.Name)
	}
	r.visiting[node.Name] = true
	defer delete(r.visiting, node.Name)

	r.logger.Debug("depth first resolve", "package", node.Name)

	resolved := make([]*deptree.Node, 0, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		child, err := r.resolveSingleDep(ctx, node, dep, level, true)
		if err != nil {
			return err
		}
		if err := r.depthFirstResolve(ctx, child, level+1); err != nil {
			return err
		}
		resolved = append(resolved, child)
	}
	node.Dependencies = resolved
	r.finished[node.Name] = true
	return nil
}

// resolveSingleDep resolves one requirement: an already-resolved node
// passes through, a cached name is checked for constraint compatibility
// and reused as the shared instance, and anything else is looked up and
// inserted into the cache before returning.
func (r *Resolver) resolveSingleDep(ctx context.Context, parent, dep *deptree.Node, level int, report bool) (*deptree.Node, error) {
	if dep.Resolved() {
		return dep, nil
	}

	if cached, ok := r.cache[dep.Name]; ok {
		r.logger.Debug("dependency already resolved", "package", dep.Name)
		if err := r.checkConstraints(cached, dep, parent); err != nil {
			return nil, err
		}
		cached.AddCategoriesRecursive(dep.Categories()...)
		if report {
			r.reportResolve(cached, level, true)
		}
		return cached, nil
	}

	var node *deptree.Node
	var err error
	switch {
	case IsCoreDependency(dep.Name):
		r.logger.Debug("core dependency", "package", dep.Name)
		node = deptree.NewCoreNode(dep.Name, dep.Categories()...)
	case dep.Kind == deptree.KindUnresolvedConstrained:
		node, err = r.resolveByConstraint(ctx, dep)
	case dep.Kind == deptree.KindUnresolvedVCS:
		node, err = r.resolveByVCS(ctx, dep)
	default:
		err = errors.New(errors.ErrCodeInternal,
			"undefined type of unresolved dependency %s", dep)
	}
	if err != nil {
		return nil, err
	}

	// The cache entry goes in before the node's own children are
	// resolved; later references to the same name must reuse it.
	r.cache[dep.Name] = node
	if report {
		r.reportResolve(node, level, false)
	}
	return node, nil
}

// resolveByConstraint looks the requirement up on the source group. The
// returned node has its own requirements attached still unresolved.
func (r *Resolver) resolveByConstraint(ctx context.Context, unres *deptree.Node) (*deptree.Node, error) {
	pkg, err := r.group.FindMostRecentPackage(ctx, unres.Name, unres.Constraint)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("found package",
		"package", pkg.Name(), "version", pkg.Version(),
		"requirement", unres.Name, "constraint", unres.Constraint.String())

	if err := pkg.EnsureLocal(ctx); err != nil {
		return nil, err
	}
	deps, err := pkg.Dependencies(ctx)
	if err != nil {
		return nil, err
	}
	rcParts, err := pkg.RConstraint(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := rversion.ParseParts(rcParts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConstraint, err,
			"package %s declares a bad R constraint", pkg.Name())
	}

	children, err := unresolvedChildren(deps, unres.Categories())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConstraint, err,
			"package %s declares a bad dependency constraint", pkg.Name())
	}

	node := deptree.NewSourceNode(pkg, rc, unres.Categories()...)
	node.Dependencies = children
	return node, nil
}

// resolveByVCS shallow-clones the requirement's repository into the
// scratch store, reads the DESCRIPTION from the clone and discards it.
// The clone directory is cleared before use as a safety net against
// leftovers of prior failed runs.
func (r *Resolver) resolveByVCS(ctx context.Context, unres *deptree.Node) (*deptree.Node, error) {
	r.logger.Debug("cloning", "package", unres.Name, "url", unres.URL)

	cloneDir := r.store.CloneDir(unres.URL, unres.Ref)
	if err := r.store.ClearClone(unres.URL, unres.Ref); err != nil {
		return nil, err
	}
	defer r.store.ClearClone(unres.URL, unres.Ref)

	if err := vcs.CloneShallow(ctx, unres.VCSType, unres.URL, unres.Ref, cloneDir); err != nil {
		return nil, err
	}

	desc, err := description.ParseFile(filepath.Join(cloneDir, "DESCRIPTION"))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeVCSClone, err,
			"clone of %s has no readable DESCRIPTION", unres.URL)
	}

	children, err := unresolvedChildren(desc.Dependencies, unres.Categories())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConstraint, err,
			"clone of %s declares a bad dependency constraint", unres.URL)
	}

	node := deptree.NewVCSNode(unres.Name, "git", unres.URL, unres.Ref, unres.Categories()...)
	node.Dependencies = children
	return node, nil
}

// checkConstraints verifies that a cached resolution can stand in for a
// new requirement on the same name.
func (r *Resolver) checkConstraints(resolved, unresolved, parent *deptree.Node) error {
	switch unresolved.Kind {
	case deptree.KindUnresolvedConstrained:
		switch resolved.Kind {
		case deptree.KindSource:
			// A source resolution has a concrete version, so the check
			// is real.
			if unresolved.Constraint.IsZero() || unresolved.Constraint.IsAny() {
				return nil
			}
			version, err := rversion.Parse(resolved.Package.Version())
			if err != nil {
				return errors.Wrap(errors.ErrCodeInvalidVersion, err,
					"resolved package %s has an unparseable version", resolved.Name)
			}
			if !unresolved.Constraint.Allows(version) {
				msg := fmt.Sprintf(
					"already resolved dependency %s %s cannot satisfy constraint %s",
					resolved.Name, resolved.Package.Version(), unresolved.Constraint)
				if parent != nil && parent.Kind != deptree.KindRoot {
					msg += fmt.Sprintf(" required by %s", parent.Name)
				}
				r.notifier.Error(msg)
				return errors.New(errors.ErrCodeResolutionConflict, "%s", msg)
			}
			return nil
		case deptree.KindVCS:
			// The version of a VCS resolution is unknowable until
			// install time, so the constraint cannot be checked.
			r.notifier.Warning(fmt.Sprintf(
				"constrained dependency %s has been resolved by VCS dependency %s. "+
					"No assumptions can be made on the actual version that will be "+
					"downloaded at install.", unresolved.Name, resolved.URL))
			return nil
		case deptree.KindCore:
			return nil
		}
		return errors.New(errors.ErrCodeInternal,
			"unable to check constraints against %s", resolved)

	case deptree.KindUnresolvedVCS:
		if resolved.Kind != deptree.KindVCS {
			r.notifier.Warning(fmt.Sprintf(
				"VCS dependency %s has been resolved by a previously found "+
					"non-VCS dependency. The resolution will continue regardless.",
				unresolved.Name))
		}
		return nil
	}
	return errors.New(errors.ErrCodeInternal,
		"unable to check constraints for %s", unresolved)
}

func (r *Resolver) reportResolve(node *deptree.Node, level int, alreadyFound bool) {
	indent := 2 + 2*level
	switch node.Kind {
	case deptree.KindSource:
		version := node.Package.Version()
		if alreadyFound {
			version = "..."
		}
		r.notifier.Message(fmt.Sprintf("- %s (%s)", node.Package.Name(), version), indent)
	case deptree.KindVCS:
		ref := node.Ref
		if ref == "" {
			ref = "HEAD"
		}
		r.notifier.Message(fmt.Sprintf("- %s (%s@%s)", node.Name, node.VCSType, ref), indent)
	}
}

// unresolvedChildren wraps manifest requirements as unresolved
// constrained nodes inheriting the parent's categories.
func unresolvedChildren(deps []description.Dependency, categories []string) ([]*deptree.Node, error) {
	children := make([]*deptree.Node, 0, len(deps))
	for _, d := range deps {
		c, err := rversion.ParseParts(d.Constraint)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.Name, err)
		}
		children = append(children, deptree.NewUnresolvedConstrained(d.Name, c, categories...))
	}
	return children, nil
}
