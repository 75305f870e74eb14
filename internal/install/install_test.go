package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/statedb"
)

func buildIndex(t *testing.T, archiveURL string, hash model.ContentHash) *model.PackageIndex {
	t.Helper()
	arch := HostArch()
	return &model.PackageIndex{
		SchemaVersion: 1,
		Packages: []model.IndexEntry{
			{
				Name: "tool",
				Kind: model.KindCLI,
				Releases: []model.VersionInfo{
					{
						Version: "1.0.0",
						Binaries: map[model.Arch]model.Artifact{
							arch: {Name: "tool", Version: "1.0.0", Arch: arch, URL: archiveURL, Hash: hash},
						},
						BinList: []string{"bin/tool"},
					},
				},
			},
		},
	}
}

func TestInstallAllDownloadsNewPackage(t *testing.T) {
	archiveData := buildTarGz(t, map[string]string{"bin/tool": "fake binary", "README": "x"})
	sum := sha256.Sum256(archiveData)
	hash := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveData)
	}))
	defer srv.Close()

	home := testHome(t)
	db := testDB(t)
	idx := buildIndex(t, srv.URL+"/tool.tar.gz", model.ContentHash{Algorithm: "sha256", Hex: hash})

	summary, err := InstallAll(context.Background(), home, db, idx, srv.Client(), []Unresolved{{Name: "tool"}})
	if err != nil {
		t.Fatalf("InstallAll: %v", err)
	}
	if summary.Installed != 1 {
		t.Fatalf("expected 1 installed, got %d", summary.Installed)
	}
	if summary.Outcomes[0].Action != ActionDownloaded {
		t.Fatalf("unexpected outcome %+v", summary.Outcomes[0])
	}

	if _, err := os.Readlink(filepath.Join(home.Bin(), "tool")); err != nil {
		t.Fatalf("expected bin symlink: %v", err)
	}
}

func TestInstallAllSkipsAlreadyInstalled(t *testing.T) {
	home := testHome(t)
	db := testDB(t)
	idx := buildIndex(t, "http://example.invalid/tool.tar.gz", model.ContentHash{Algorithm: "sha256", Hex: repeatHex("a")})

	if err := db.InstallCompletePackage(context.Background(), statedb.PackageRow{
		Name: "tool", Version: "1.0.0", Hash: repeatHex("a"), Active: true, InstalledAt: time.Now(),
	}, nil); err != nil {
		t.Fatalf("seeding package row: %v", err)
	}

	summary, err := InstallAll(context.Background(), home, db, idx, http.DefaultClient, []Unresolved{{Name: "tool"}})
	if err != nil {
		t.Fatalf("InstallAll: %v", err)
	}
	if summary.Outcomes[0].Action != ActionAlreadyInstalled {
		t.Fatalf("expected already-installed outcome, got %+v", summary.Outcomes[0])
	}
	if summary.Installed != 1 {
		t.Fatalf("expected already-installed to count toward summary, got %d", summary.Installed)
	}
}

func TestInstallAllSwitchesExistingStoreVersion(t *testing.T) {
	home := testHome(t)
	db := testDB(t)
	idx := buildIndex(t, "http://example.invalid/tool.tar.gz", model.ContentHash{Algorithm: "sha256", Hex: repeatHex("b")})

	storePath := home.StorePath("tool", "1.0.0")
	if err := os.MkdirAll(filepath.Join(storePath, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(storePath, "bin", "tool"), []byte("bin"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	meta := packageMeta{Name: "tool", Version: "1.0.0", Bin: []string{"bin/tool"}}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(storePath, ".apl-meta.json"), data, 0o644); err != nil {
		t.Fatalf("WriteFile meta: %v", err)
	}

	// Seed the DB with a different active version so classify() takes the
	// switch path rather than already-installed.
	if err := db.InstallCompletePackage(context.Background(), statedb.PackageRow{
		Name: "tool", Version: "0.9.0", Hash: repeatHex("b"), Active: true, InstalledAt: time.Now(),
	}, nil); err != nil {
		t.Fatalf("seeding package row: %v", err)
	}

	summary, err := InstallAll(context.Background(), home, db, idx, http.DefaultClient, []Unresolved{{Name: "tool"}})
	if err != nil {
		t.Fatalf("InstallAll: %v", err)
	}
	if summary.Outcomes[0].Action != ActionSwitched {
		t.Fatalf("expected switch outcome, got %+v", summary.Outcomes[0])
	}

	target, err := os.Readlink(filepath.Join(home.Bin(), "tool"))
	if err != nil {
		t.Fatalf("expected bin symlink: %v", err)
	}
	if target != filepath.Join(storePath, "bin", "tool") {
		t.Fatalf("symlink target = %q", target)
	}

	row, err := db.GetPackage(context.Background(), "tool")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if row.Version != "1.0.0" {
		t.Fatalf("expected switched version 1.0.0, got %s", row.Version)
	}
}

func repeatHex(ch string) string {
	return strings.Repeat(ch, 64)
}
