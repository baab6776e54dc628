package render

import (
	"fmt"

	"github.com/matzehuels/lariat/pkg/deptree"
	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/lockfile"
	"github.com/matzehuels/lariat/pkg/rversion"
	"github.com/matzehuels/lariat/pkg/source"
)

// TreeFromLock rebuilds a tree from lock entries for display purposes
// only: packages are not re-located on their sources, so the tree works
// offline but cannot be installed from.
func TreeFromLock(lock *lockfile.Lock) (*deptree.Node, error) {
	root := deptree.NewRoot()
	nodes := make(map[string]*deptree.Node)

	for _, entry := range lock.Entries {
		switch entry.Type {
		case lockfile.KindRoot:
			root.Dependencies = displayPlaceholders(entry.Dependencies)

		case lockfile.KindSource:
			filename := fmt.Sprintf("%s_%s.tar.gz", entry.Name, entry.Version)
			if len(entry.Files) > 0 {
				filename = entry.Files[0].Name
			}
			pkg, err := source.NewPackage(filename, true, "", nil)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInvalidLockfile, err,
					"entry %s has an unusable file name", entry.Name)
			}
			node := deptree.NewSourceNode(pkg, rversion.Constraint{}, entry.Categories...)
			node.Dependencies = displayPlaceholders(entry.Dependencies)
			nodes[entry.Name] = node

		case lockfile.KindVCS:
			node := deptree.NewVCSNode(entry.Name, entry.VCSType, entry.URL, entry.Ref, entry.Categories...)
			node.Dependencies = displayPlaceholders(entry.Dependencies)
			nodes[entry.Name] = node

		case lockfile.KindCore:
			nodes[entry.Name] = deptree.NewCoreNode(entry.Name, entry.Categories...)

		default:
			return nil, errors.New(errors.ErrCodeInvalidLockfile,
				"unrecognised entry type %q for %s", entry.Type, entry.Name)
		}
	}

	bind := func(deps []*deptree.Node) error {
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

func displayPlaceholders(names []string) []*deptree.Node {
	deps := make([]*deptree.Node, 0, len(names))
	for _, name := range names {
		deps = append(deps, deptree.NewUnresolvedConstrained(name, rversion.Constraint{}))
	}
	return deps
}
