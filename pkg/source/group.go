package source

import (
	"context"
	"sort"

	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/rversion"
)

// Group holds the configured sources of a project in addition order and
// arbitrates between them when a package version has to be picked.
type Group struct {
	sources []Source
	byName  map[string]Source
}

// NewGroup returns an empty source group.
func NewGroup() *Group {
	return &Group{byName: make(map[string]Source)}
}

// AddSource appends a source to the group. Source names must be unique.
func (g *Group) AddSource(s Source) error {
	if _, ok := g.byName[s.Name()]; ok {
		return errors.New(errors.ErrCodeInvalidInput, "source %q already present", s.Name())
	}
	g.sources = append(g.sources, s)
	g.byName[s.Name()] = s
	return nil
}

// SourceByName returns the source with the given name.
func (g *Group) SourceByName(name string) (Source, error) {
	s, ok := g.byName[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "no source named %q", name)
	}
	return s, nil
}

// Sources returns the sources in addition order.
func (g *Group) Sources() []Source {
	out := make([]Source, len(g.sources))
	copy(out, g.sources)
	return out
}

// FindMostRecentPackage returns the most recent version of a package
// satisfying the constraint.
//
// Sources are grouped into priority bands and the bands are consulted from
// highest priority down. The first band with any matching candidate
// decides: the maximum version within that band wins, and when several
// sources in the band offer that same version, the source added first is
// used. Lower bands are only reached when every higher band had no match
// at all, so a private source can shadow a public one for the packages it
// carries without the public source's newer versions leaking through.
func (g *Group) FindMostRecentPackage(ctx context.Context, name string, constraint rversion.Constraint) (*Package, error) {
	for _, band := range g.priorityBands() {
		var candidates []*Package
		var versions []rversion.Version

		for _, src := range band {
			packages, err := src.FindPackageVersions(ctx, name)
			if err != nil {
				return nil, err
			}
			for _, pkg := range packages {
				v, err := rversion.Parse(pkg.Version())
				if err != nil {
					// Repositories occasionally carry garbage filenames;
					// a version we cannot order can never be picked.
					continue
				}
				if constraint.Allows(v) {
					candidates = append(candidates, pkg)
					versions = append(versions, v)
				}
			}
		}
		if len(candidates) == 0 {
			continue
		}

		best := 0
		for i := 1; i < len(candidates); i++ {
			if versions[best].LessThan(versions[i]) {
				best = i
			}
		}
		return candidates[best], nil
	}

	return nil, notFound(name, constraint.String())
}

// priorityBands partitions the sources by priority, highest first,
// keeping addition order within each band.
func (g *Group) priorityBands() [][]Source {
	byPriority := make(map[int][]Source)
	var priorities []int
	for _, s := range g.sources {
		if _, ok := byPriority[s.Priority()]; !ok {
			priorities = append(priorities, s.Priority())
		}
		byPriority[s.Priority()] = append(byPriority[s.Priority()], s)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	bands := make([][]Source, 0, len(priorities))
	for _, p := range priorities {
		bands = append(bands, byPriority[p])
	}
	return bands
}
