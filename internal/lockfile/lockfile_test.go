package lockfile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/model"
)

func init() {
	model.SetVersionComparator(apiver.Compare)
}

func TestLockfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apl.lock")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lock := New(now)
	lock.Packages = append(lock.Packages, LockedPackage{
		Name:      "jq",
		Version:   "1.7.1",
		URL:       "https://example.com/jq",
		Hash:      "abc123",
		Timestamp: now,
	})

	if err := lock.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadLockfile(path)
	if err != nil {
		t.Fatalf("LoadLockfile: %v", err)
	}
	if len(loaded.Packages) != 1 || loaded.Packages[0].Name != "jq" {
		t.Fatalf("loaded lockfile = %+v", loaded)
	}
}

func TestFindPackage(t *testing.T) {
	lock := New(time.Now())
	lock.Packages = append(lock.Packages, LockedPackage{Name: "ripgrep", Version: "14.0.0"})

	if _, ok := lock.Find("ripgrep"); !ok {
		t.Fatalf("expected to find ripgrep")
	}
	if _, ok := lock.Find("nonexistent"); ok {
		t.Fatalf("expected nonexistent to be absent")
	}
}

func testIndex() *model.PackageIndex {
	return &model.PackageIndex{
		Packages: []model.IndexEntry{
			{
				Name: "jq",
				Releases: []model.VersionInfo{
					{
						Version: "1.7.1",
						Source: &model.Artifact{
							Name: "jq", Version: "1.7.1", Arch: model.ArchSource,
							URL:  "https://example.com/jq-1.7.1.tar.gz",
							Hash: model.ContentHash{Algorithm: "sha256", Hex: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"[:64]},
						},
						RuntimeDeps: []model.PackageName{"oniguruma"},
					},
				},
			},
			{
				Name: "oniguruma",
				Releases: []model.VersionInfo{
					{
						Version: "6.9.9",
						Source: &model.Artifact{
							Name: "oniguruma", Version: "6.9.9", Arch: model.ArchSource,
							URL:  "https://example.com/oniguruma-6.9.9.tar.gz",
							Hash: model.ContentHash{Algorithm: "sha256", Hex: "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"},
						},
					},
				},
			},
		},
	}
}

func TestResolveProjectIncludesTransitiveDeps(t *testing.T) {
	manifest := &Manifest{Name: "myproj", Dependencies: map[string]string{"jq": "latest"}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	lock, err := ResolveProject(manifest, testIndex(), nil, now)
	if err != nil {
		t.Fatalf("ResolveProject: %v", err)
	}
	if len(lock.Packages) != 2 {
		t.Fatalf("expected jq + its transitive dep oniguruma, got %+v", lock.Packages)
	}
	if lock.Packages[0].Name != "jq" || lock.Packages[1].Name != "oniguruma" {
		t.Fatalf("expected alphabetical order, got %+v", lock.Packages)
	}
}

func TestResolveProjectPreservesTimestampForUnchangedVersion(t *testing.T) {
	manifest := &Manifest{Name: "myproj", Dependencies: map[string]string{"jq": "latest"}}
	original := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reResolve := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	existing, err := ResolveProject(manifest, testIndex(), nil, original)
	if err != nil {
		t.Fatalf("initial ResolveProject: %v", err)
	}

	reResolved, err := ResolveProject(manifest, testIndex(), existing, reResolve)
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}

	entry, ok := reResolved.Find("jq")
	if !ok {
		t.Fatalf("expected jq in re-resolved lockfile")
	}
	if !entry.Timestamp.Equal(original) {
		t.Fatalf("expected timestamp preserved at %v, got %v", original, entry.Timestamp)
	}
}

func TestIsSyncedDetectsMissingAndStaleEntries(t *testing.T) {
	manifest := &Manifest{Dependencies: map[string]string{"jq": "^1.7.0"}}

	synced := New(time.Now())
	synced.Packages = []LockedPackage{{Name: "jq", Version: "1.7.1"}}
	if !IsSynced(manifest, synced) {
		t.Fatalf("expected synced lockfile to report synced")
	}

	missing := New(time.Now())
	if IsSynced(manifest, missing) {
		t.Fatalf("expected missing entry to report not synced")
	}

	stale := New(time.Now())
	stale.Packages = []LockedPackage{{Name: "jq", Version: "0.9.0"}}
	if IsSynced(manifest, stale) {
		t.Fatalf("expected out-of-range version to report not synced")
	}
}
