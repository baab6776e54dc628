// Package description parses R DESCRIPTION files. A DESCRIPTION file is a
// sequence of "Keyword: value" lines where indented lines continue the
// previous value. Dependencies are declared in the Depends, Imports and
// LinkingTo fields as comma-separated names with optional parenthesized
// constraints, e.g. "foo (>= 1.2.3), bar".
package description

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

// dependencyFields are the DESCRIPTION fields that declare package
// requirements. Suggests is deliberately excluded: suggested packages are
// not needed to install or load a package.
var dependencyFields = [...]string{"Depends", "Imports", "LinkingTo"}

// Dependency is a single requirement from a DESCRIPTION file. Constraint
// holds the individual operands (e.g. ">=1.2.3"); an empty list means any
// version.
type Dependency struct {
	Name       string
	Constraint []string
}

// Description holds the fields of a parsed DESCRIPTION file that the
// dependency machinery needs.
type Description struct {
	Package      string
	Version      string
	RConstraint  []string
	Dependencies []Dependency
}

// ParseFile reads and parses the DESCRIPTION file at path.
func ParseFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse parses DESCRIPTION content from r.
func Parse(r io.Reader) (*Description, error) {
	fields, err := parseFields(r)
	if err != nil {
		return nil, err
	}

	pkg, ok := fields["Package"]
	if !ok {
		return nil, fmt.Errorf("Package unspecified in DESCRIPTION file")
	}
	version, ok := fields["Version"]
	if !ok {
		return nil, fmt.Errorf("Version unspecified in DESCRIPTION file")
	}

	d := &Description{Package: pkg, Version: version}

	deps := make(map[string]*Dependency)
	var order []string
	for _, key := range dependencyFields {
		value, ok := fields[key]
		if !ok {
			continue
		}
		entries, err := SplitDepsString(value)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			// An "R" requirement is a constraint on the interpreter,
			// not a package dependency.
			if entry.Name == "R" {
				d.RConstraint = entry.Constraint
				continue
			}
			existing, ok := deps[entry.Name]
			if !ok {
				deps[entry.Name] = &Dependency{Name: entry.Name, Constraint: entry.Constraint}
				order = append(order, entry.Name)
				continue
			}
			// The same package may appear in both Imports and
			// LinkingTo with different constraints. Merge the operand
			// sets; constraint satisfaction is checked later anyway.
			existing.Constraint = mergeConstraints(existing.Constraint, entry.Constraint)
		}
	}

	for _, name := range order {
		d.Dependencies = append(d.Dependencies, *deps[name])
	}
	return d, nil
}

var keywordRe = regexp.MustCompile(`^(.+?):\s(.*)`)

func parseFields(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	current := ""

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if m := keywordRe.FindStringSubmatch(line); m != nil {
			current = m[1]
			if _, dup := fields[current]; dup {
				return nil, fmt.Errorf("keyword %s has been found twice in the DESCRIPTION file", current)
			}
			fields[current] = strings.TrimSpace(m[2])
		} else if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if current == "" {
				return nil, fmt.Errorf("indented line found without preceding keyword")
			}
			fields[current] += " " + strings.TrimSpace(line)
		} else {
			return nil, fmt.Errorf("found line with unknown format: %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

func mergeConstraints(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var merged []string
	for _, op := range append(append([]string{}, a...), b...) {
		if !seen[op] {
			seen[op] = true
			merged = append(merged, op)
		}
	}
	sort.Strings(merged)
	return merged
}

var depEntryRe = regexp.MustCompile(`([a-zA-Z0-9_.]+)\s*(\(.*?\))?`)

// SplitDepsString splits a dependency declaration such as
// "foo (>=1.2.3, <4.0.0), bar (3.5.0)" into named entries with their
// constraint operand lists. Bare versions are rewritten as "==version".
func SplitDepsString(s string) ([]Dependency, error) {
	var result []Dependency
	for _, m := range depEntryRe.FindAllStringSubmatch(s, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		constraint := strings.TrimSpace(m[2])
		constraint = strings.TrimSuffix(strings.TrimPrefix(constraint, "("), ")")
		ops, err := SplitConstraintString(constraint)
		if err != nil {
			return nil, fmt.Errorf("unable to parse dependency string %q: %w", s, err)
		}
		result = append(result, Dependency{Name: name, Constraint: ops})
	}
	return result, nil
}

// SplitConstraintString splits a constraint expression such as
// ">= 1.2.3, <4.0.0, 3.5.0" into its operands. Exact-match notation
// ("3.5.0") is converted to "==3.5.0". Operands are canonicalized to
// operator directly followed by version, so ">= 1.2" and ">=1.2" from
// different DESCRIPTION fields merge into one operand.
func SplitConstraintString(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var ops []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty constraint operand in %q", s)
		}
		op := operatorPrefix(part)
		version := strings.TrimSpace(part[len(op):])
		if version == "" {
			return nil, fmt.Errorf("constraint operand %q has no version", part)
		}
		if op == "" {
			op = "=="
		}
		ops = append(ops, op+version)
	}
	return ops, nil
}

func operatorPrefix(s string) string {
	for _, p := range []string{">=", "<=", "==", ">", "<"} {
		if strings.HasPrefix(s, p) {
			return p
		}
	}
	return ""
}
