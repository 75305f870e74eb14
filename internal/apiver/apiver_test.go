package apiver

import "testing"

func TestCompareSemverBeatsInvalid(t *testing.T) {
	if Compare("1.0.0", "not-a-version") <= 0 {
		t.Fatalf("expected semver-valid to sort after invalid")
	}
	if Compare("not-a-version", "1.0.0") >= 0 {
		t.Fatalf("expected invalid to sort before semver-valid")
	}
}

func TestCompareLexicographicFallback(t *testing.T) {
	if Compare("banana", "apple") <= 0 {
		t.Fatalf("expected lexicographic ordering for two invalid versions")
	}
}

func TestComparePrereleaseOrdering(t *testing.T) {
	cases := []struct{ a, b string }{
		{"1.0.0", "1.0.0-rc.1"},
		{"1.0.0-beta", "1.0.0-alpha"},
		{"1.0.0-rc", "1.0.0-beta"},
	}
	for _, c := range cases {
		if Compare(c.a, c.b) <= 0 {
			t.Errorf("expected %s > %s", c.a, c.b)
		}
	}
}

func TestSortDescending(t *testing.T) {
	got := SortDescending([]string{"1.0.0", "2.0.0", "1.5.0"})
	want := []string{"2.0.0", "1.5.0", "1.0.0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestFindBestMatchLatest(t *testing.T) {
	releases := []string{"2.0.0", "1.5.0", "1.0.0"}
	m, ok := FindBestMatch(releases, "latest")
	if !ok || m.Version != "2.0.0" || m.Reason != MatchLatest {
		t.Fatalf("got %+v", m)
	}
}

func TestFindBestMatchExact(t *testing.T) {
	releases := []string{"2.0.0", "1.5.0", "1.0.0"}
	m, ok := FindBestMatch(releases, "1.5.0")
	if !ok || m.Reason != MatchExact {
		t.Fatalf("got %+v", m)
	}
}

func TestFindBestMatchSemverRange(t *testing.T) {
	releases := []string{"2.0.0", "1.8.0", "1.5.0", "1.0.0"}
	m, ok := FindBestMatch(releases, "^1.0.0")
	if !ok || m.Version != "1.8.0" || m.Reason != MatchSemver {
		t.Fatalf("got %+v", m)
	}
}

func TestFindBestMatchPrefix(t *testing.T) {
	// Four-segment versions do not parse as semver, so the semver step
	// finds no candidate and matching falls through to the prefix step.
	releases := []string{"0.20.0.1", "0.2.7.1", "0.2.1.0"}
	m, ok := FindBestMatch(releases, "0.2")
	if !ok || m.Version != "0.2.7.1" || m.Reason != MatchPrefix {
		t.Fatalf("expected 0.2.7.1 via prefix, got %+v", m)
	}
}

func TestPrefixDoesNotMatchDifferentSegment(t *testing.T) {
	if prefixMatches("0.20.0", "0.2") {
		t.Fatalf("0.2 must not match 0.20.0")
	}
}

func TestVersionSatisfiesRequirementAgreesWithFindBestMatch(t *testing.T) {
	if !VersionSatisfiesRequirement("1.8.0", "^1.0.0") {
		t.Fatalf("expected 1.8.0 to satisfy ^1.0.0")
	}
	if VersionSatisfiesRequirement("2.0.0", "^1.0.0") {
		t.Fatalf("expected 2.0.0 to not satisfy ^1.0.0")
	}
}

func TestNormalizeTag(t *testing.T) {
	cases := map[string]string{
		"v1.2.3":             "1.2.3",
		"go1.21.5":           "1.21.5",
		"Release_1_15_0":     "1.15.0",
		"kustomize/v5.7.1":   "5.7.1",
		"1.0.0":              "1.0.0",
	}
	for in, want := range cases {
		if got := NormalizeTag(in); got != want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", in, got, want)
		}
	}
}
