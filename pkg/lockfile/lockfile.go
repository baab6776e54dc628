// Package lockfile reads and writes lariat.lock files.
//
// A lockfile pins the fully resolved dependency tree of a project: every
// package name maps to exactly one resolved entry, and entries reference
// their dependencies by name rather than by nesting. The file is TOML with
// three sections: [metadata], repeated [[source]] tables and repeated
// [[entry]] tables tagged by a "type" field. Entries are sorted by name on
// write, and category and dependency lists are sorted, so locking the same
// resolution twice produces byte-identical files.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// FormatVersion is the lock format written by this package. Files with a
// different version are rejected at parse time.
const FormatVersion = 2

// Kind tags a lock entry variant.
type Kind string

const (
	KindRoot   Kind = "root"   // synthetic top of the tree
	KindSource Kind = "source" // package pinned to a repository version
	KindVCS    Kind = "vcs"    // package fetched from version control
	KindCore   Kind = "core"   // satisfied by the R installation itself
)

// Metadata is the lockfile header.
type Metadata struct {
	Version      int    `toml:"version"`
	ContentHash  string `toml:"content_hash,omitempty"`
	Conservative bool   `toml:"conservative"`
	EnvID        string `toml:"env_id,omitempty"`
}

// Source records a package repository the lock was resolved against.
type Source struct {
	Name  string `toml:"name"`
	URL   string `toml:"url"`
	Proxy string `toml:"proxy,omitempty"`
}

// PackageFile describes one artifact of a source entry.
type PackageFile struct {
	Name string `toml:"name"`
	Hash string `toml:"hash"`
}

// Entry is one pinned dependency. The Type field selects which of the
// optional fields are meaningful; see the Kind constants.
type Entry struct {
	Type         Kind     `toml:"type"`
	Name         string   `toml:"name,omitempty"`
	Categories   []string `toml:"categories"`
	Dependencies []string `toml:"dependencies"`

	// Source entries.
	Version     string        `toml:"version,omitempty"`
	Source      string        `toml:"source,omitempty"`
	Files       []PackageFile `toml:"files,omitempty"`
	RConstraint string        `toml:"r_constraint,omitempty"`

	// VCS entries.
	VCSType string `toml:"vcs_type,omitempty"`
	URL     string `toml:"url,omitempty"`
	Ref     string `toml:"ref,omitempty"`
}

// Lock is a parsed lockfile.
type Lock struct {
	Metadata Metadata
	Sources  []Source
	Entries  []Entry

	// Path the lock was read from or last saved to.
	Path string
}

// New returns an empty lock with current-format metadata.
func New() *Lock {
	return &Lock{Metadata: Metadata{Version: FormatVersion}}
}

// HasVCSPackages reports whether any entry is VCS-pinned. Installing such
// a lock needs network access regardless of the source cache.
func (l *Lock) HasVCSPackages() bool {
	for _, e := range l.Entries {
		if e.Type == KindVCS {
			return true
		}
	}
	return false
}

type lockDoc struct {
	Metadata Metadata `toml:"metadata"`
	Source   []Source `toml:"source"`
	Entry    []Entry  `toml:"entry"`
}

// Load parses the lockfile at path.
func Load(path string) (*Lock, error) {
	var doc lockDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parse lockfile %s: %w", path, err)
	}

	if doc.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf(
			"lockfile %s has format version %d; this version of lariat handles only %d",
			path, doc.Metadata.Version, FormatVersion)
	}

	for i := range doc.Entry {
		e := &doc.Entry[i]
		switch e.Type {
		case KindRoot, KindSource, KindVCS, KindCore:
		default:
			return nil, fmt.Errorf("unknown entry type %q in lockfile %s", e.Type, path)
		}
		// Writers omit the field when unconstrained.
		if e.Type == KindSource && e.RConstraint == "" {
			e.RConstraint = "*"
		}
	}

	return &Lock{
		Metadata: doc.Metadata,
		Sources:  doc.Source,
		Entries:  doc.Entry,
		Path:     path,
	}, nil
}

// Save writes the lock to path, or to its stored Path when path is empty,
// or to "lariat.lock" when neither is set. The write is atomic: content
// goes to a temporary file that is renamed over the target.
func (l *Lock) Save(path string) error {
	if path == "" {
		path = l.Path
	}
	if path == "" {
		path = "lariat.lock"
	}

	doc := lockDoc{
		Metadata: l.Metadata,
		Source:   l.Sources,
		Entry:    normalizeEntries(l.Entries),
	}
	doc.Metadata.Version = FormatVersion

	tmp, err := os.CreateTemp(filepath.Dir(path), ".lariat.lock.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	l.Path = path
	return nil
}

// normalizeEntries returns a sorted deep-enough copy of entries: entries by
// name (root's empty name sorts first), category and dependency lists
// ascending.
func normalizeEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)

	for i := range out {
		out[i].Categories = sortedCopy(out[i].Categories)
		out[i].Dependencies = sortedCopy(out[i].Dependencies)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedCopy(s []string) []string {
	if s == nil {
		return []string{}
	}
	c := make([]string, len(s))
	copy(c, s)
	sort.Strings(c)
	return c
}
