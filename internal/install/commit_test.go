package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpmacdonald/apl/internal/aplhome"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/statedb"
	"github.com/jpmacdonald/apl/internal/template"
)

func testHome(t *testing.T) *aplhome.Home {
	t.Helper()
	root := t.TempDir()
	t.Setenv(config.EnvAPLHome, root)
	home, err := aplhome.New()
	if err != nil {
		t.Fatalf("aplhome.New: %v", err)
	}
	if err := home.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return home
}

func testDB(t *testing.T) *statedb.DB {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("statedb.Open: %v", err)
	}
	t.Cleanup(db.Shutdown)
	return db
}

func TestCommitPlacesBinaryArtifactAndActivatesBin(t *testing.T) {
	home := testHome(t)
	db := testDB(t)

	tempDir := t.TempDir()
	extracted := filepath.Join(tempDir, "extracted")
	if err := os.MkdirAll(filepath.Join(extracted, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(extracted, "bin", "tool"), []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// A second top-level entry keeps this from looking like a single
	// wrapper directory, matching a typical multi-directory release tree.
	if err := os.WriteFile(filepath.Join(extracted, "README"), []byte("readme"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	prepared := &Prepared{
		Resolved: &Resolved{
			Name:     "tool",
			Version:  "1.0.0",
			Kind:     KindBinary,
			Strategy: template.StrategyLink,
			Hash:     model.ContentHash{Algorithm: "sha256", Hex: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"},
		},
		ExtractedPath: extracted,
		TempDir:       tempDir,
		BinList:       []string{"bin/tool"},
	}

	committed, err := prepared.Commit(context.Background(), home, db)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := os.Stat(committed.StorePath); err != nil {
		t.Fatalf("expected store path to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(committed.StorePath, ".apl-meta.json")); err != nil {
		t.Fatalf("expected .apl-meta.json: %v", err)
	}

	binLink := filepath.Join(home.Bin(), "tool")
	target, err := os.Readlink(binLink)
	if err != nil {
		t.Fatalf("expected symlink at %s: %v", binLink, err)
	}
	if target != filepath.Join(committed.StorePath, "bin", "tool") {
		t.Fatalf("symlink target = %q", target)
	}

	row, err := db.GetPackage(context.Background(), "tool")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if row.Version != "1.0.0" || !row.Active {
		t.Fatalf("unexpected package row %+v", row)
	}
}

func TestCommitStripsSingleWrapperDirectory(t *testing.T) {
	home := testHome(t)
	db := testDB(t)

	tempDir := t.TempDir()
	extracted := filepath.Join(tempDir, "extracted")
	wrapped := filepath.Join(extracted, "tool-1.0.0")
	if err := os.MkdirAll(filepath.Join(wrapped, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wrapped, "bin", "tool"), []byte("bin"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	prepared := &Prepared{
		Resolved: &Resolved{
			Name:     "tool",
			Version:  "2.0.0",
			Kind:     KindBinary,
			Strategy: template.StrategyLink,
			Hash:     model.ContentHash{Algorithm: "sha256", Hex: strings.Repeat("c", 64)},
		},
		ExtractedPath: extracted,
		TempDir:       tempDir,
		BinList:       []string{"bin/tool"},
	}

	committed, err := prepared.Commit(context.Background(), home, db)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := os.Stat(filepath.Join(committed.StorePath, "bin", "tool")); err != nil {
		t.Fatalf("expected wrapper directory to be stripped: %v", err)
	}
}
