// Package apiver implements apl's Version ordering and requirement
// matching. Ordering is semver when parseable (via
// Masterminds/semver/v3), lexicographic otherwise; semver-valid versions
// always sort after invalid ones so a release channel doesn't get
// confused by a stray "latest-nightly" tag sitting among real tags.
package apiver

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal: semver when
// parseable, else lexicographic; semver-valid always sorts after invalid.
func Compare(v1, v2 string) int {
	sv1, err1 := semver.NewVersion(v1)
	sv2, err2 := semver.NewVersion(v2)

	switch {
	case err1 == nil && err2 == nil:
		return sv1.Compare(sv2)
	case err1 == nil && err2 != nil:
		return 1
	case err1 != nil && err2 == nil:
		return -1
	default:
		return strings.Compare(v1, v2)
	}
}

// SortDescending returns a new slice of versions ordered newest-first,
// matching the IndexEntry.releases ordering invariant.
func SortDescending(versions []string) []string {
	out := make([]string, len(versions))
	copy(out, versions)
	sort.SliceStable(out, func(i, j int) bool {
		return Compare(out[i], out[j]) > 0
	})
	return out
}

// IsSortedDescending reports whether versions are already newest-first.
func IsSortedDescending(versions []string) bool {
	for i := 1; i < len(versions); i++ {
		if Compare(versions[i-1], versions[i]) < 0 {
			return false
		}
	}
	return true
}

// MatchReason explains why FindBestMatch chose a particular release,
// surfaced by `apl info`.
type MatchReason int

const (
	MatchLatest MatchReason = iota
	MatchExact
	MatchSemver
	MatchPrefix
)

func (r MatchReason) String() string {
	switch r {
	case MatchLatest:
		return "latest"
	case MatchExact:
		return "exact"
	case MatchSemver:
		return "semver"
	case MatchPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}

// Match is the result of FindBestMatch: the chosen version and why.
type Match struct {
	Version string
	Reason  MatchReason
}

// FindBestMatch implements a four-step matching algorithm over a
// release list. releases must already be sorted newest-first (index
// invariant); the newest-first assumption lets step 1 take releases[0]
// directly and lets step 3/4 just scan in order for the first satisfying
// candidate instead of re-sorting.
func FindBestMatch(releases []string, req string) (*Match, bool) {
	if len(releases) == 0 {
		return nil, false
	}

	// Step 1: latest/* sentinel.
	if req == "latest" || req == "*" || req == "" {
		return &Match{Version: releases[0], Reason: MatchLatest}, true
	}

	// Step 2: exact equality.
	for _, v := range releases {
		if v == req {
			return &Match{Version: v, Reason: MatchExact}, true
		}
	}

	// Step 3: semver requirement, filtered to semver-parseable releases,
	// newest-first means the first match is the max.
	if constraint, err := semver.NewConstraint(req); err == nil {
		for _, v := range releases {
			sv, err := semver.NewVersion(v)
			if err != nil {
				continue
			}
			if constraint.Check(sv) {
				return &Match{Version: v, Reason: MatchSemver}, true
			}
		}
	}

	// Step 4: dot-segment prefix fallback.
	if v, ok := prefixMatch(releases, req); ok {
		return &Match{Version: v, Reason: MatchPrefix}, true
	}

	return nil, false
}

// VersionSatisfiesRequirement applies the same four-step rule as
// FindBestMatch to a single (version, requirement) pair, used by lockfile
// sync checks.
func VersionSatisfiesRequirement(v, req string) bool {
	if req == "latest" || req == "*" || req == "" {
		return true
	}
	if v == req {
		return true
	}
	if constraint, err := semver.NewConstraint(req); err == nil {
		if sv, err := semver.NewVersion(v); err == nil {
			return constraint.Check(sv)
		}
	}
	return prefixMatches(v, req)
}

// prefixMatch scans releases (newest-first) for the first whose dot
// segments are prefixed by req's segments: "0.2" matches "0.2.7" but not
// "0.20.0".
func prefixMatch(releases []string, req string) (string, bool) {
	for _, v := range releases {
		if prefixMatches(v, req) {
			return v, true
		}
	}
	return "", false
}

func prefixMatches(v, req string) bool {
	vSegs := strings.Split(v, ".")
	reqSegs := strings.Split(req, ".")
	if len(reqSegs) > len(vSegs) {
		return false
	}
	for i, seg := range reqSegs {
		if vSegs[i] != seg {
			return false
		}
	}
	return true
}

// normalizeTag strips common upstream tag decorations ("v1.2.3",
// "go1.21.5", "Release_1_15_0", "tool/v5.7.1") before comparison, matching
// the variety of tag formats forge adapters observe in the wild.
func normalizeTag(tag string) string {
	s := strings.TrimPrefix(tag, "v")
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		s = strings.TrimPrefix(s[idx+1:], "v")
	}
	if strings.HasPrefix(s, "Release_") {
		s = strings.ReplaceAll(strings.TrimPrefix(s, "Release_"), "_", ".")
	}
	s = strings.TrimPrefix(s, "go")
	return s
}

// NormalizeTag is the exported form of normalizeTag for forge adapters
// translating upstream release tags into comparable version strings.
func NormalizeTag(tag string) string { return normalizeTag(tag) }
