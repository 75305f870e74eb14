// Package model defines apl's core data types:
// PackageName, Arch, ContentHash, Artifact, IndexEntry, VersionInfo,
// PackageIndex, and the install-time/state-db records layered on top of
// them. Types here carry validation but no I/O; encoding lives in
// internal/indexcodec, persistence in internal/statedb.
package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
)

// PackageName is a lowercase-normalized identifier. Equality is
// case-insensitive by construction: constructing one always lowercases.
type PackageName string

// NewPackageName normalizes name to lowercase.
func NewPackageName(name string) PackageName {
	return PackageName(strings.ToLower(name))
}

func (n PackageName) String() string { return string(n) }

// Arch is a normalized target architecture.
type Arch string

const (
	ArchARM64Darwin   Arch = "arm64-darwin"
	ArchX86_64Darwin  Arch = "x86_64-darwin"
	ArchUniversal     Arch = "universal-darwin"
	ArchSource        Arch = "source"
)

// Matches reports whether a the Arch on an Artifact satisfies a concrete
// host arch request. "universal-darwin" matches either concrete Darwin
// arch, mirroring a fat Mach-O binary covering both slices.
func (a Arch) Matches(host Arch) bool {
	if a == host {
		return true
	}
	if a == ArchUniversal && (host == ArchARM64Darwin || host == ArchX86_64Darwin) {
		return true
	}
	return false
}

// ContentHash is a lowercase hex digest keyed into the object store.
// sha-256 is used for externally-published
// artifacts; blake3 is permitted for internal CAS bookkeeping, hence the
// algorithm is carried alongside the raw digest string rather than
// assumed.
type ContentHash struct {
	Algorithm string // "sha256" or "blake3"
	Hex       string
}

// digestAlgorithmLengths gives the expected hex length per algorithm,
// used to validate Artifact.Hash.
var digestAlgorithmLengths = map[string]int{
	"sha256": 64,
	"blake3": 64,
}

// Validate checks the hash's algorithm is recognized and its hex length
// matches that algorithm's digest length.
func (h ContentHash) Validate() error {
	want, ok := digestAlgorithmLengths[h.Algorithm]
	if !ok {
		return fmt.Errorf("unknown hash algorithm %q", h.Algorithm)
	}
	if len(h.Hex) != want {
		return fmt.Errorf("hash length %d does not match algorithm %s (want %d)", len(h.Hex), h.Algorithm, want)
	}
	if h.Hex != strings.ToLower(h.Hex) {
		return fmt.Errorf("hash must be lowercase hex")
	}
	return nil
}

func (h ContentHash) String() string { return h.Hex }

// ParseSHA256ContentHash validates hex as a 64-character lowercase sha256
// digest and returns a ContentHash, using go-digest's algorithm
// validation for the canonical "sha256:<hex>" form used by the CAS layer.
func ParseSHA256ContentHash(hex string) (ContentHash, error) {
	d := digest.NewDigestFromEncoded(digest.SHA256, hex)
	if err := d.Validate(); err != nil {
		return ContentHash{}, fmt.Errorf("invalid content hash: %w", err)
	}
	return ContentHash{Algorithm: "sha256", Hex: hex}, nil
}

// Artifact is a single downloadable release asset.
type Artifact struct {
	Name    PackageName
	Version string
	Arch    Arch
	URL     string
	Hash    ContentHash
}

// Validate enforces the Artifact invariants: all fields non-empty, URL
// scheme http(s), hash length matches its algorithm.
func (a Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact name must not be empty")
	}
	if a.Version == "" {
		return fmt.Errorf("artifact version must not be empty")
	}
	if a.Arch == "" {
		return fmt.Errorf("artifact arch must not be empty")
	}
	if a.URL == "" {
		return fmt.Errorf("artifact url must not be empty")
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("artifact url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("artifact url scheme must be http(s), got %q", u.Scheme)
	}
	if err := a.Hash.Validate(); err != nil {
		return fmt.Errorf("artifact hash: %w", err)
	}
	return nil
}

// EntryKind is IndexEntry.Kind.
type EntryKind string

const (
	KindCLI EntryKind = "cli"
	KindApp EntryKind = "app"
)

// VersionInfo is the per-version metadata inside an IndexEntry.
type VersionInfo struct {
	Version          string
	Binaries         map[Arch]Artifact // at most one per arch
	Source           *Artifact         // optional source artifact
	RuntimeDeps      []PackageName
	BuildDeps        []PackageName
	BuildScript      string
	BinList          []string
	PostInstallHints string
	AppBundleName    string
}

// IndexEntry is one package's full release history. Releases is
// kept newest-first so FindVersion can binary-search.
type IndexEntry struct {
	Name        PackageName
	Description string
	Kind        EntryKind
	Tags        []string
	Releases    []VersionInfo // newest-first
}

// FindVersion performs an O(log n) binary search over the descending
// Releases slice using a reversed comparator rather than a linear scan.
func (e *IndexEntry) FindVersion(version string) (*VersionInfo, bool) {
	lo, hi := 0, len(e.Releases)
	for lo < hi {
		mid := (lo + hi) / 2
		// Releases is descending (newest first). cmp follows apiver.Compare's
		// convention: positive means the midpoint is newer than the target,
		// so the target (being older) lies further right.
		cmp := compareVersions(e.Releases[mid].Version, version)
		switch {
		case cmp == 0:
			return &e.Releases[mid], true
		case cmp > 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return nil, false
}

// LatestVersion returns releases[0], the newest version, or false if the
// entry has no releases.
func (e *IndexEntry) LatestVersion() (*VersionInfo, bool) {
	if len(e.Releases) == 0 {
		return nil, false
	}
	return &e.Releases[0], true
}

// PackageIndex is the full signed index.
type PackageIndex struct {
	SchemaVersion  int
	UpdatedAt      time.Time
	MirrorBaseURL  string
	Packages       []IndexEntry // sorted by name
}

// FindPackage binary-searches Packages by name, which must be kept sorted
// ascending by the producer. Equality follows PackageName's
// case-insensitive normalization.
func (idx *PackageIndex) FindPackage(name PackageName) (*IndexEntry, bool) {
	target := NewPackageName(string(name))
	lo, hi := 0, len(idx.Packages)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := strings.Compare(string(idx.Packages[mid].Name), string(target))
		switch {
		case cmp == 0:
			return &idx.Packages[mid], true
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return nil, false
}

// MirrorURL returns the CAS form of hash if a mirror is configured, so
// every index URL resolves against the mirror when mirror_base_url is set.
func (idx *PackageIndex) MirrorURL(hash ContentHash) (string, bool) {
	if idx.MirrorBaseURL == "" {
		return "", false
	}
	return fmt.Sprintf("%s/cas/%s", strings.TrimSuffix(idx.MirrorBaseURL, "/"), hash.Hex), true
}

// compareVersions orders (a, b) the way apiver.Compare does: positive if
// a > b, negative if a < b, zero if equal. Declared as an overridable
// package variable (rather than model importing apiver directly) to avoid
// an import cycle, since apiver may eventually want model's types; main
// installs apiver.Compare here at startup via SetVersionComparator.
var compareVersions = func(a, b string) int { return strings.Compare(a, b) }

// SetVersionComparator installs the ordering function FindVersion relies
// on. Call once during program initialization with apiver.Compare.
func SetVersionComparator(cmp func(a, b string) int) {
	compareVersions = cmp
}
