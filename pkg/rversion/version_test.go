package rversion

import "testing"

func TestParseOrdering(t *testing.T) {
	cases := []struct {
		lo, hi string
	}{
		{"1.0.0", "1.0.1"},
		{"1.2", "1.10"},
		{"1.8-3", "1.8-4"},
		{"1.2.3", "1.2.3.1"},
		{"1.2.3.4", "1.2.4"},
		{"0.999375-42", "0.999375-43"},
	}
	for _, c := range cases {
		lo := MustParse(c.lo)
		hi := MustParse(c.hi)
		if !lo.LessThan(hi) {
			t.Errorf("%s should order before %s", c.lo, c.hi)
		}
		if hi.LessThan(lo) {
			t.Errorf("%s should not order before %s", c.hi, c.lo)
		}
	}
}

func TestParseKeepsOriginal(t *testing.T) {
	v := MustParse("1.8-4")
	if v.String() != "1.8-4" {
		t.Errorf("String should round-trip the original text, got %s", v)
	}
}

func TestDashAndDotEquivalent(t *testing.T) {
	a := MustParse("1.8-4")
	b := MustParse("1.8.4")
	if !a.Equal(b) {
		t.Error("dash and dot separators should compare equal")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "1.x.3"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestConstraintAllows(t *testing.T) {
	c := MustParseConstraint(">=1.2.0, <2.0.0")

	if !c.Allows(MustParse("1.5.0")) {
		t.Error("1.5.0 should satisfy >=1.2.0, <2.0.0")
	}
	if c.Allows(MustParse("2.0.0")) {
		t.Error("2.0.0 should not satisfy <2.0.0")
	}
	if c.Allows(MustParse("1.1.9")) {
		t.Error("1.1.9 should not satisfy >=1.2.0")
	}
}

func TestConstraintExactMatch(t *testing.T) {
	// Bare versions and == both mean exact match.
	for _, s := range []string{"1.2.3", "==1.2.3"} {
		c := MustParseConstraint(s)
		if !c.Allows(MustParse("1.2.3")) {
			t.Errorf("%q should allow 1.2.3", s)
		}
		if c.Allows(MustParse("1.2.4")) {
			t.Errorf("%q should not allow 1.2.4", s)
		}
	}
}

func TestConstraintAny(t *testing.T) {
	for _, s := range []string{"", "*"} {
		c := MustParseConstraint(s)
		if !c.IsAny() {
			t.Errorf("%q should be the any-constraint", s)
		}
		if !c.Allows(MustParse("0.0.1")) {
			t.Errorf("%q should allow everything", s)
		}
		if c.String() != "*" {
			t.Errorf("any-constraint should print as *, got %q", c.String())
		}
	}
}

func TestParseParts(t *testing.T) {
	c, err := ParseParts([]string{">=1.0", "<3.0"})
	if err != nil {
		t.Fatalf("ParseParts error: %v", err)
	}
	if !c.Allows(MustParse("2.0")) || c.Allows(MustParse("3.0")) {
		t.Error("joined parts should behave as AND")
	}

	empty, err := ParseParts(nil)
	if err != nil {
		t.Fatalf("ParseParts(nil) error: %v", err)
	}
	if !empty.IsAny() {
		t.Error("empty part list should allow everything")
	}
}

func TestConstraintAgainstDashVersions(t *testing.T) {
	c := MustParseConstraint(">=1.8-3")
	if !c.Allows(MustParse("1.8-4")) {
		t.Error("1.8-4 should satisfy >=1.8-3")
	}
	if c.Allows(MustParse("1.8-2")) {
		t.Error("1.8-2 should not satisfy >=1.8-3")
	}
}

func TestOrderingAcrossComponentDepths(t *testing.T) {
	// Versions of different lengths must order component-wise: a fourth
	// component never outweighs a larger third one.
	if !MustParse("1.2.3.9").LessThan(MustParse("1.2.4")) {
		t.Error("1.2.3.9 should order before 1.2.4")
	}
	if MustParse("1.2.4").LessThan(MustParse("1.2.3.9")) {
		t.Error("1.2.4 should not order before 1.2.3.9")
	}
	if !MustParse("0.999375.43.1").LessThan(MustParse("0.999375.44")) {
		t.Error("0.999375.43.1 should order before 0.999375.44")
	}
	if !MustParse("1.2.3.4.5").LessThan(MustParse("1.2.3.5")) {
		t.Error("1.2.3.4.5 should order before 1.2.3.5")
	}
}

func TestConstraintAcrossComponentDepths(t *testing.T) {
	lower := MustParseConstraint(">=1.2.4")
	if lower.Allows(MustParse("1.2.3.9")) {
		t.Error("1.2.3.9 should not satisfy >=1.2.4")
	}
	if !lower.Allows(MustParse("1.2.4.1")) {
		t.Error("1.2.4.1 should satisfy >=1.2.4")
	}

	upper := MustParseConstraint("<1.2.4")
	if !upper.Allows(MustParse("1.2.3.9")) {
		t.Error("1.2.3.9 should satisfy <1.2.4")
	}
	if upper.Allows(MustParse("1.2.4.1")) {
		t.Error("1.2.4.1 should not satisfy <1.2.4")
	}
}

func TestParseRejectsUnfoldableVersions(t *testing.T) {
	// Deeper than five components, or a folded component at or above the
	// fold base, would break the ordering embedding.
	for _, s := range []string{"1.2.3.4.5.6", "1.2.3.1000"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}
