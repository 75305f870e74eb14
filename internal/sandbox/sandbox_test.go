package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/lockfile"
	"github.com/jpmacdonald/apl/internal/model"
)

func init() {
	model.SetVersionComparator(apiver.Compare)
}

func TestFindManifestWalksUpDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, manifestFilename), []byte(""), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	path, rootDir, found := FindManifest(nested)
	if !found {
		t.Fatalf("expected to find manifest walking up from %s", nested)
	}
	if rootDir != root {
		t.Fatalf("rootDir = %q, want %q", rootDir, root)
	}
	if path != filepath.Join(root, manifestFilename) {
		t.Fatalf("path = %q", path)
	}
}

func TestFindManifestNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, _, found := FindManifest(dir); found {
		t.Fatalf("expected no manifest to be found in an empty temp dir tree")
	}
}

func TestBinDirForPrefersMeta(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, metaFilename), []byte(`{"bin": ["libexec/tool"]}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := binDirFor(dir)
	want := filepath.Join(dir, "libexec")
	if got != want {
		t.Fatalf("binDirFor = %q, want %q", got, want)
	}
}

func TestBinDirForFallsBackToBinHeuristic(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	got := binDirFor(dir)
	want := filepath.Join(dir, "bin")
	if got != want {
		t.Fatalf("binDirFor = %q, want %q", got, want)
	}
}

func TestBinDirForFallsBackToPackageRoot(t *testing.T) {
	dir := t.TempDir()
	if got := binDirFor(dir); got != dir {
		t.Fatalf("binDirFor = %q, want package root %q", got, dir)
	}
}

func TestResolveFrozenFailsWhenOutOfSync(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, map[string]string{"jq": "latest"})

	_, _, err := Resolve(root, emptyIndex(), Options{Frozen: true}, time.Now())
	if err == nil {
		t.Fatalf("expected frozen resolve to fail when no lockfile exists")
	}
}

func TestResolveFrozenAndUpdateIsRejected(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, map[string]string{"jq": "latest"})

	_, _, err := Resolve(root, emptyIndex(), Options{Frozen: true, Update: true}, time.Now())
	if err == nil {
		t.Fatalf("expected --frozen and --update together to be rejected")
	}
}

func TestResolveSkipsReResolveWhenAlreadySynced(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, map[string]string{"jq": "latest"})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lock := lockfile.New(now)
	lock.Packages = []lockfile.LockedPackage{{Name: "jq", Version: "1.7.1", Timestamp: now}}
	if err := lock.Save(filepath.Join(root, lockfileFilename)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, got, err := Resolve(root, emptyIndex(), Options{}, time.Now())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got.GeneratedAt.Equal(now) {
		t.Fatalf("expected the existing lockfile to be reused unchanged, got generated_at %v", got.GeneratedAt)
	}
}

func writeManifest(t *testing.T, dir string, deps map[string]string) {
	t.Helper()
	m := &lockfile.Manifest{Name: filepath.Base(dir), Dependencies: deps}
	path := filepath.Join(dir, manifestFilename)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create manifest: %v", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		t.Fatalf("encoding manifest: %v", err)
	}
}

func emptyIndex() *model.PackageIndex {
	return &model.PackageIndex{}
}
