// Package rversion parses and compares R package version strings and
// version constraints.
//
// R version strings are not semver: components may be separated by dots or
// dashes ("1.8-4") and may have four or more numeric components
// ("0.999375.43.1"). This package normalizes them onto
// [github.com/Masterminds/semver/v3] versions so that constraint checking
// and ordering reuse a well-tested engine. Extra components beyond the
// third are folded into the patch number with a monotone embedding, so the
// relative order of any two R versions is preserved.
//
// The original text of a version or constraint is retained and returned by
// String, so lockfiles round-trip the exact spelling the user wrote.
package rversion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// foldBase is the multiplier used when folding a fourth (or later) numeric
// component into the patch number. R revision components are small in
// practice; anything below foldBase embeds without collisions.
const foldBase = 1000

// maxComponents is the deepest version form handled. Every version is
// padded to this depth with zeros before folding, so versions of
// different lengths land in the same scale and their relative order is
// preserved.
const maxComponents = 5

// Version is a parsed R version. The zero value is not valid; use Parse.
type Version struct {
	original string
	sv       *semver.Version
}

// Parse parses an R version string such as "1.2.3", "1.8-4" or "3.0.1.1".
func Parse(s string) (Version, error) {
	norm, err := normalize(s)
	if err != nil {
		return Version{}, err
	}
	sv, err := semver.NewVersion(norm)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{original: strings.TrimSpace(s), sv: sv}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compile-time constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the original version text.
func (v Version) String() string { return v.original }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.sv == nil }

// Compare returns -1, 0 or 1 if v is less than, equal to or greater than o.
func (v Version) Compare(o Version) int { return v.sv.Compare(o.sv) }

// LessThan reports whether v orders before o.
func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o denote the same version after
// normalization ("1.2-3" equals "1.2.3").
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Constraint is a version range expression such as ">=1.2.3, <2.0.0".
// The zero value is not valid; use ParseConstraint or Any.
type Constraint struct {
	original string
	set      *semver.Constraints
}

// Any returns the constraint that allows every version.
func Any() Constraint {
	c, _ := ParseConstraint("*")
	return c
}

// ParseConstraint parses a constraint expression. Operands are separated
// by commas and combined with AND. Supported operators are >=, >, <=, <,
// == and bare versions (exact match). Empty input and "*" allow
// everything.
func ParseConstraint(s string) (Constraint, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "*" {
		set, _ := semver.NewConstraint("*")
		return Constraint{original: "*", set: set}, nil
	}

	ops := strings.Split(trimmed, ",")
	normOps := make([]string, 0, len(ops))
	for _, op := range ops {
		n, err := normalizeOperand(op)
		if err != nil {
			return Constraint{}, err
		}
		normOps = append(normOps, n)
	}

	set, err := semver.NewConstraint(strings.Join(normOps, ", "))
	if err != nil {
		return Constraint{}, fmt.Errorf("invalid constraint %q: %w", s, err)
	}
	return Constraint{original: trimmed, set: set}, nil
}

// ParseParts builds a constraint from a list of individual operands, as
// read from a DESCRIPTION file. An empty list allows every version.
func ParseParts(parts []string) (Constraint, error) {
	if len(parts) == 0 {
		return Any(), nil
	}
	return ParseConstraint(strings.Join(parts, ", "))
}

// MustParseConstraint is like ParseConstraint but panics on error.
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the original constraint text, or "*" for Any.
func (c Constraint) String() string { return c.original }

// IsZero reports whether c is the zero Constraint.
func (c Constraint) IsZero() bool { return c.set == nil }

// IsAny reports whether c allows every version.
func (c Constraint) IsAny() bool { return c.original == "*" }

// Allows reports whether the given version satisfies the constraint.
func (c Constraint) Allows(v Version) bool { return c.set.Check(v.sv) }

// normalizeOperand rewrites a single constraint operand into semver
// syntax: the version part is normalized and a bare version or "==" become
// "=".
func normalizeOperand(op string) (string, error) {
	op = strings.TrimSpace(op)
	prefix := ""
	switch {
	case strings.HasPrefix(op, ">="), strings.HasPrefix(op, "<="):
		prefix = op[:2]
		op = op[2:]
	case strings.HasPrefix(op, "=="):
		prefix = "="
		op = op[2:]
	case strings.HasPrefix(op, ">"), strings.HasPrefix(op, "<"), strings.HasPrefix(op, "="):
		prefix = op[:1]
		op = op[1:]
	default:
		prefix = "="
	}

	norm, err := normalize(op)
	if err != nil {
		return "", err
	}
	return prefix + norm, nil
}

// normalize converts an R version string to a three-component dotted form
// understood by the semver library.
func normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty version string")
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '-' })
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid version %q: component %q is not numeric", s, p)
		}
		nums = append(nums, n)
	}

	if len(nums) > maxComponents {
		return "", fmt.Errorf("invalid version %q: more than %d components", s, maxComponents)
	}
	for _, extra := range nums[3:] {
		if extra >= foldBase {
			return "", fmt.Errorf("invalid version %q: component %d does not fit the fold", s, extra)
		}
	}
	for len(nums) < maxComponents {
		nums = append(nums, 0)
	}
	patch := nums[2]
	for _, extra := range nums[3:] {
		patch = patch*foldBase + extra
	}

	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], patch), nil
}
