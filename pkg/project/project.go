// Package project reads and writes lariat.toml, the project manifest.
//
// The manifest declares the project metadata, the package sources to
// resolve against and the required packages, split into the main, dev and
// doc categories. A dependency value is either a constraint string
// ("*", ">= 1.4.0") or a git table ({ git = "...", branch = "..." }).
package project

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/lariat/pkg/cache"
	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/rversion"
)

// DefaultFilename is the manifest filename at the project root.
const DefaultFilename = "lariat.toml"

// Categories are the dependency categories, in declaration order. "main"
// is stored under [dependencies]; the others under
// [<category>-dependencies].
var Categories = []string{"main", "dev", "doc"}

// Metadata is the [metadata] section.
type Metadata struct {
	Name        string   `toml:"name,omitempty"`
	Version     string   `toml:"version,omitempty"`
	Authors     []string `toml:"authors,omitempty"`
	Maintainers []string `toml:"maintainers,omitempty"`
	EnvID       string   `toml:"env-id,omitempty"`
	Title       string   `toml:"title,omitempty"`
	Description string   `toml:"description,omitempty"`
	License     string   `toml:"license,omitempty"`
}

// Source is one [[source]] repository declaration.
type Source struct {
	Name  string `toml:"name"`
	URL   string `toml:"url"`
	Proxy string `toml:"proxy,omitempty"`

	// Priority places the source in a resolution band; higher bands
	// shadow lower ones for the packages they carry.
	Priority int `toml:"priority,omitzero"`
}

// VCSSpec points a dependency at a git repository instead of a source.
type VCSSpec struct {
	Git    string `toml:"git"`
	Branch string `toml:"branch,omitempty"`
}

// Dependency is one declared requirement. Exactly one of Constraint and
// VCS is meaningful.
type Dependency struct {
	Name       string
	Constraint rversion.Constraint
	Category   string
	VCS        *VCSSpec
}

// Project is a parsed manifest.
type Project struct {
	Path         string
	Metadata     Metadata
	Sources      []Source
	Dependencies []Dependency
}

type projectDoc struct {
	Metadata        Metadata                  `toml:"metadata"`
	Source          []Source                  `toml:"source"`
	Dependencies    map[string]toml.Primitive `toml:"dependencies"`
	DevDependencies map[string]toml.Primitive `toml:"dev-dependencies"`
	DocDependencies map[string]toml.Primitive `toml:"doc-dependencies"`
}

// Load parses the manifest at path.
func Load(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "unable to parse %s", path)
	}
	p.Path = path
	return p, nil
}

// Parse parses manifest content from r.
func Parse(r io.Reader) (*Project, error) {
	var doc projectDoc
	md, err := toml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, err
	}

	p := &Project{Metadata: doc.Metadata, Sources: doc.Source}

	sections := map[string]map[string]toml.Primitive{
		"main": doc.Dependencies,
		"dev":  doc.DevDependencies,
		"doc":  doc.DocDependencies,
	}
	for _, category := range Categories {
		prims := sections[category]
		names := make([]string, 0, len(prims))
		for name := range prims {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dep, err := parseDependency(md, name, category, prims[name])
			if err != nil {
				return nil, err
			}
			p.Dependencies = append(p.Dependencies, dep)
		}
	}
	return p, nil
}

func parseDependency(md toml.MetaData, name, category string, prim toml.Primitive) (Dependency, error) {
	var constraint string
	if err := md.PrimitiveDecode(prim, &constraint); err == nil {
		c, err := rversion.ParseConstraint(constraint)
		if err != nil {
			return Dependency{}, fmt.Errorf("dependency %s: %w", name, err)
		}
		return Dependency{Name: name, Constraint: c, Category: category}, nil
	}

	var spec VCSSpec
	if err := md.PrimitiveDecode(prim, &spec); err != nil {
		return Dependency{}, fmt.Errorf("dependency %s has an unrecognised value: %w", name, err)
	}
	if spec.Git == "" {
		return Dependency{}, fmt.Errorf(
			"the VCS specification of %s is missing the git key with the repository URL", name)
	}
	return Dependency{Name: name, Category: category, VCS: &spec}, nil
}

// DependenciesForCategory returns the declared dependencies of one
// category, in manifest order.
func (p *Project) DependenciesForCategory(category string) []Dependency {
	var out []Dependency
	for _, d := range p.Dependencies {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// SetDependency adds the dependency, replacing an existing declaration
// with the same name and category.
func (p *Project) SetDependency(dep Dependency) {
	for i, d := range p.Dependencies {
		if d.Name == dep.Name && d.Category == dep.Category {
			p.Dependencies[i] = dep
			return
		}
	}
	p.Dependencies = append(p.Dependencies, dep)
}

// RemoveDependency drops the named dependency from every category and
// reports whether anything was removed.
func (p *Project) RemoveDependency(name string) bool {
	kept := p.Dependencies[:0]
	removed := false
	for _, d := range p.Dependencies {
		if d.Name == name {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	p.Dependencies = kept
	return removed
}

// ContentHash digests the parts of the manifest that affect resolution:
// the environment id, the sources and the dependency declarations.
// Cosmetic metadata changes do not alter it, so the lockfile stays valid
// across them. The digest is a sha256 over a canonical JSON rendering.
func (p *Project) ContentHash() string {
	relevant := map[string]any{}
	if p.Metadata.EnvID != "" {
		relevant["env-id"] = p.Metadata.EnvID
	}

	if len(p.Sources) > 0 {
		sources := make([]map[string]string, 0, len(p.Sources))
		for _, s := range p.Sources {
			entry := map[string]string{"name": s.Name, "url": s.URL}
			if s.Proxy != "" {
				entry["proxy"] = s.Proxy
			}
			sources = append(sources, entry)
		}
		relevant["source"] = sources
	}

	for _, category := range Categories {
		deps := p.DependenciesForCategory(category)
		if len(deps) == 0 {
			continue
		}
		entries := make(map[string]string, len(deps))
		for _, d := range deps {
			if d.VCS != nil {
				repr := "git:" + d.VCS.Git
				if d.VCS.Branch != "" {
					repr += "@" + d.VCS.Branch
				}
				entries[d.Name] = repr
			} else {
				entries[d.Name] = d.Constraint.String()
			}
		}
		key := "dependencies"
		if category != "main" {
			key = category + "-dependencies"
		}
		relevant[key] = entries
	}

	// json.Marshal emits map keys sorted, which makes the rendering
	// canonical.
	data, _ := json.Marshal(relevant)
	return cache.Hash(data)
}

// Save writes the manifest to path, or to its stored Path when path is
// empty. Only the sections lariat manages are rewritten: unknown tables
// and keys already in the file are decoded and carried over, so user
// content next to the manifest data survives an add or remove. The write
// is atomic.
func (p *Project) Save(path string) error {
	if path == "" {
		path = p.Path
	}
	if path == "" {
		return errors.New(errors.ErrCodeInvalidPath, "unable to save to unspecified path")
	}

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if _, derr := toml.Decode(string(data), &doc); derr != nil {
			return errors.Wrap(errors.ErrCodeInvalidManifest, derr,
				"unable to parse %s before rewriting", path)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	doc["metadata"] = p.Metadata
	delete(doc, "source")
	if len(p.Sources) > 0 {
		doc["source"] = p.Sources
	}

	managed := map[string]map[string]any{
		"dependencies":     nil,
		"dev-dependencies": nil,
		"doc-dependencies": nil,
	}
	for _, d := range p.Dependencies {
		var value any
		if d.VCS != nil {
			value = *d.VCS
		} else {
			value = d.Constraint.String()
		}
		key := "dependencies"
		if d.Category != "main" {
			key = d.Category + "-dependencies"
		}
		if _, ok := managed[key]; !ok {
			return errors.New(errors.ErrCodeInvalidManifest, "unknown dependency category %q", d.Category)
		}
		if managed[key] == nil {
			managed[key] = map[string]any{}
		}
		managed[key][d.Name] = value
	}
	for key, deps := range managed {
		delete(doc, key)
		if len(deps) > 0 {
			doc[key] = deps
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+DefaultFilename+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", DefaultFilename, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	p.Path = path
	return nil
}
