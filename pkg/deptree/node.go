// Package deptree models the dependency resolution tree.
//
// The tree starts as a skeleton of unresolved nodes built from a project's
// declarations and is mutated in place during resolution until no
// unresolved node remains. A package required by several parents appears
// as one shared *Node instance reachable from each of them, so category
// updates propagate to every occurrence. The fully resolved tree is
// flattened into lock entries for persistence and rebuilt from them for
// installation or conservative re-resolution.
package deptree

import (
	"fmt"
	"sort"

	"github.com/matzehuels/lariat/pkg/rversion"
	"github.com/matzehuels/lariat/pkg/source"
)

// Kind tags a node variant. The set is closed: resolver and transform
// code switch over it exhaustively.
type Kind int

const (
	// KindRoot is the synthetic top of the tree; no name, no categories.
	KindRoot Kind = iota
	// KindSource is resolved against a package repository.
	KindSource
	// KindVCS is resolved by a version control checkout.
	KindVCS
	// KindCore is satisfied by the R installation itself; terminal leaf.
	KindCore
	// KindUnresolvedConstrained is a not-yet-looked-up requirement with a
	// version constraint.
	KindUnresolvedConstrained
	// KindUnresolvedVCS is a not-yet-cloned VCS requirement.
	KindUnresolvedVCS
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindSource:
		return "source"
	case KindVCS:
		return "vcs"
	case KindCore:
		return "core"
	case KindUnresolvedConstrained:
		return "unresolved"
	case KindUnresolvedVCS:
		return "unresolved-vcs"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is one dependency in the tree. Which fields are meaningful
// depends on Kind.
type Node struct {
	Kind Kind
	Name string

	// Dependencies are the direct children. Unresolved nodes have none;
	// during resolution the list is replaced in place with resolved
	// nodes.
	Dependencies []*Node

	// Package and RConstraint are set on KindSource nodes.
	Package     *source.Package
	RConstraint rversion.Constraint

	// Constraint is set on KindUnresolvedConstrained nodes.
	Constraint rversion.Constraint

	// VCSType, URL and Ref are set on KindVCS and KindUnresolvedVCS
	// nodes. An empty Ref means the default branch.
	VCSType string
	URL     string
	Ref     string

	categories map[string]struct{}
}

// NewRoot returns the synthetic tree top with the given children.
func NewRoot(deps ...*Node) *Node {
	return &Node{Kind: KindRoot, Dependencies: deps}
}

// NewUnresolvedConstrained returns a requirement still to be looked up on
// the sources.
func NewUnresolvedConstrained(name string, constraint rversion.Constraint, categories ...string) *Node {
	n := &Node{Kind: KindUnresolvedConstrained, Name: name, Constraint: constraint}
	n.AddCategories(categories...)
	return n
}

// NewUnresolvedVCS returns a requirement still to be cloned.
func NewUnresolvedVCS(name, vcsType, url, ref string, categories ...string) *Node {
	n := &Node{Kind: KindUnresolvedVCS, Name: name, VCSType: vcsType, URL: url, Ref: ref}
	n.AddCategories(categories...)
	return n
}

// NewSourceNode returns a dependency resolved to a repository package.
func NewSourceNode(pkg *source.Package, rConstraint rversion.Constraint, categories ...string) *Node {
	n := &Node{Kind: KindSource, Name: pkg.Name(), Package: pkg, RConstraint: rConstraint}
	n.AddCategories(categories...)
	return n
}

// NewVCSNode returns a dependency resolved by a version control checkout.
func NewVCSNode(name, vcsType, url, ref string, categories ...string) *Node {
	n := &Node{Kind: KindVCS, Name: name, VCSType: vcsType, URL: url, Ref: ref}
	n.AddCategories(categories...)
	return n
}

// NewCoreNode returns a dependency satisfied by the R installation.
func NewCoreNode(name string, categories ...string) *Node {
	n := &Node{Kind: KindCore, Name: name}
	n.AddCategories(categories...)
	return n
}

// Resolved reports whether the node needs no further resolution work.
func (n *Node) Resolved() bool {
	return !n.Unresolved()
}

// Unresolved reports whether the node is a not-yet-resolved requirement.
func (n *Node) Unresolved() bool {
	return n.Kind == KindUnresolvedConstrained || n.Kind == KindUnresolvedVCS
}

// Categories returns the node's categories, sorted.
func (n *Node) Categories() []string {
	out := make([]string, 0, len(n.categories))
	for c := range n.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasCategory reports whether the node carries the category.
func (n *Node) HasCategory(category string) bool {
	_, ok := n.categories[category]
	return ok
}

// AddCategories unions categories into the node.
func (n *Node) AddCategories(categories ...string) {
	if len(categories) == 0 {
		return
	}
	if n.categories == nil {
		n.categories = make(map[string]struct{}, len(categories))
	}
	for _, c := range categories {
		n.categories[c] = struct{}{}
	}
}

// AddCategoriesRecursive unions categories into the node and its whole
// subtree. Shared nodes are visited once.
func (n *Node) AddCategoriesRecursive(categories ...string) {
	if len(categories) == 0 {
		return
	}
	seen := make(map[*Node]bool)
	var walk func(*Node)
	walk = func(node *Node) {
		if seen[node] {
			return
		}
		seen[node] = true
		node.AddCategories(categories...)
		if node.Unresolved() {
			return
		}
		for _, dep := range node.Dependencies {
			walk(dep)
		}
	}
	walk(n)
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Kind, n.Name)
}
