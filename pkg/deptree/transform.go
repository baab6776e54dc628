package deptree

import (
	"context"

	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/lockfile"
	"github.com/matzehuels/lariat/pkg/rversion"
	"github.com/matzehuels/lariat/pkg/source"
)

// ToLockEntries flattens a fully resolved tree into lock entries. Nodes
// are emitted in depth-first-unique order with their direct dependencies
// referenced by name. Source entries carry the tarball hash, which may
// trigger a retrieval for packages not yet in the store.
func ToLockEntries(ctx context.Context, root *Node) ([]lockfile.Entry, error) {
	var entries []lockfile.Entry
	for _, node := range DepthFirstUnique(root) {
		depNames := make([]string, 0, len(node.Dependencies))
		for _, dep := range node.Dependencies {
			depNames = append(depNames, dep.Name)
		}

		switch node.Kind {
		case KindRoot:
			entries = append(entries, lockfile.Entry{
				Type:         lockfile.KindRoot,
				Categories:   []string{},
				Dependencies: depNames,
			})
		case KindSource:
			hash, err := node.Package.Hash(ctx)
			if err != nil {
				return nil, err
			}
			rc := node.RConstraint.String()
			if node.RConstraint.IsZero() {
				rc = "*"
			}
			entries = append(entries, lockfile.Entry{
				Type:       lockfile.KindSource,
				Name:       node.Package.Name(),
				Version:    node.Package.Version(),
				Source:     node.Package.Source().Name(),
				Categories: node.Categories(),
				Files: []lockfile.PackageFile{
					{Name: node.Package.Filename, Hash: hash},
				},
				RConstraint:  rc,
				Dependencies: depNames,
			})
		case KindVCS:
			entries = append(entries, lockfile.Entry{
				Type:         lockfile.KindVCS,
				Name:         node.Name,
				VCSType:      node.VCSType,
				URL:          node.URL,
				Ref:          node.Ref,
				Categories:   node.Categories(),
				Dependencies: depNames,
			})
		case KindCore:
			entries = append(entries, lockfile.Entry{
				Type:         lockfile.KindCore,
				Name:         node.Name,
				Categories:   node.Categories(),
				Dependencies: []string{},
			})
		default:
			return nil, errors.New(errors.ErrCodeInternal,
				"cannot serialize node %s of kind %s", node.Name, node.Kind)
		}
	}
	return entries, nil
}

// FromLockEntries rebuilds the resolved tree from lock entries. The
// reconstruction runs in two passes: first every entry becomes a node
// whose dependencies are name placeholders, then the placeholders are
// bound to the shared node instances. Source entries are re-located on
// the source group and carry the stored hash as expected hash for later
// verification.
func FromLockEntries(ctx context.Context, group *source.Group, entries []lockfile.Entry) (*Node, error) {
	root := NewRoot()
	if len(entries) == 0 {
		return root, nil
	}

	nodes := make(map[string]*Node)

	for _, entry := range entries {
		switch entry.Type {
		case lockfile.KindRoot:
			root.Dependencies = placeholders(entry.Dependencies, entry.Categories)

		case lockfile.KindSource:
			src, err := group.SourceByName(entry.Source)
			if err != nil {
				return nil, err
			}
			pkg, err := src.FindPackage(ctx, entry.Name, entry.Version)
			if err != nil {
				return nil, err
			}
			if len(entry.Files) > 0 {
				pkg.ExpectedHash = entry.Files[0].Hash
			}
			rc, err := rversion.ParseConstraint(entry.RConstraint)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidLockfile, err,
					"entry %s has a bad R constraint", entry.Name)
			}
			node := NewSourceNode(pkg, rc, entry.Categories...)
			node.Dependencies = placeholders(entry.Dependencies, entry.Categories)
			nodes[entry.Name] = node

		case lockfile.KindVCS:
			node := NewVCSNode(entry.Name, entry.VCSType, entry.URL, entry.Ref, entry.Categories...)
			node.Dependencies = placeholders(entry.Dependencies, entry.Categories)
			nodes[entry.Name] = node

		case lockfile.KindCore:
			nodes[entry.Name] = NewCoreNode(entry.Name, entry.Categories...)

		default:
			return nil, errors.New(errors.ErrCodeInvalidLockfile,
				"unrecognised entry type %q for %s", entry.Type, entry.Name)
		}
	}

	// Binding pass: replace every placeholder with the shared instance.
	bind := func(deps []*Node) error {
		for i, dep := range deps {
			bound, ok := nodes[dep.Name]
			if !ok {
				return errors.New(errors.ErrCodeInvalidLockfile,
					"entry %s is referenced but not present", dep.Name)
			}
			deps[i] = bound
		}
		return nil
	}
	for _, node := range nodes {
		if err := bind(node.Dependencies); err != nil {
			return nil, err
		}
	}
	if err := bind(root.Dependencies); err != nil {
		return nil, err
	}
	return root, nil
}

func placeholders(names, categories []string) []*Node {
	deps := make([]*Node, 0, len(names))
	for _, name := range names {
		deps = append(deps, NewUnresolvedConstrained(name, rversion.Constraint{}, categories...))
	}
	return deps
}
