package install

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/template"
)

func init() {
	model.SetVersionComparator(apiver.Compare)
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("writing header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing content: %v", err)
		}
	}
	tw.Close()
	gzw.Close()
	return buf.Bytes()
}

func TestPrepareExtractsTarGzPipelined(t *testing.T) {
	archiveData := buildTarGz(t, map[string]string{"bin/tool": "fake binary"})
	sum := sha256.Sum256(archiveData)
	hash := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveData)
	}))
	defer srv.Close()

	storeRoot := t.TempDir()
	cacheDir := filepath.Join(t.TempDir(), "cache")

	r := &Resolved{
		Name:        "tool",
		Version:     "1.0.0",
		Strategy:    template.StrategyLink,
		UpstreamURL: srv.URL + "/tool-1.0.0.tar.gz",
		Hash:        model.ContentHash{Algorithm: "sha256", Hex: hash},
		BinList:     []string{"bin/tool"},
	}

	prepared, err := r.Prepare(context.Background(), srv.Client(), cacheDir, storeRoot)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer prepared.Cleanup()

	content, err := os.ReadFile(filepath.Join(prepared.ExtractedPath, "bin/tool"))
	if err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if string(content) != "fake binary" {
		t.Fatalf("unexpected content %q", content)
	}

	if _, err := os.Stat(filepath.Join(cacheDir, hash)); err != nil {
		t.Fatalf("expected cache file to be written: %v", err)
	}
}

func TestPrepareDetectsHashMismatch(t *testing.T) {
	archiveData := buildTarGz(t, map[string]string{"bin/tool": "fake binary"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveData)
	}))
	defer srv.Close()

	r := &Resolved{
		Name:        "tool",
		Version:     "1.0.0",
		UpstreamURL: srv.URL + "/tool-1.0.0.tar.gz",
		Hash:        model.ContentHash{Algorithm: "sha256", Hex: strings.Repeat("0", 64)},
	}

	_, err := r.Prepare(context.Background(), srv.Client(), filepath.Join(t.TempDir(), "cache"), t.TempDir())
	if err == nil {
		t.Fatalf("expected hash mismatch error")
	}
}

func TestPrepareFallsBackToUpstreamOn404(t *testing.T) {
	archiveData := buildTarGz(t, map[string]string{"bin/tool": "upstream binary"})
	sum := sha256.Sum256(archiveData)
	hash := hex.EncodeToString(sum[:])

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer mirror.Close()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archiveData)
	}))
	defer upstream.Close()

	r := &Resolved{
		Name:        "tool",
		Version:     "1.0.0",
		UpstreamURL: upstream.URL + "/tool-1.0.0.tar.gz",
		MirrorURL:   mirror.URL + "/tool-1.0.0.tar.gz",
		Hash:        model.ContentHash{Algorithm: "sha256", Hex: hash},
		BinList:     []string{"bin/tool"},
	}

	prepared, err := r.Prepare(context.Background(), http.DefaultClient, filepath.Join(t.TempDir(), "cache"), t.TempDir())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer prepared.Cleanup()

	content, err := os.ReadFile(filepath.Join(prepared.ExtractedPath, "bin/tool"))
	if err != nil {
		t.Fatalf("expected extracted file from upstream fallback: %v", err)
	}
	if string(content) != "upstream binary" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestDownloadWholeReusesCachedArtifact(t *testing.T) {
	calls := 0
	data := []byte("plain binary contents")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(data)
	}))
	defer srv.Close()

	cacheDir := filepath.Join(t.TempDir(), "cache")
	r := &Resolved{
		Name:        "plain",
		Version:     "1.0.0",
		UpstreamURL: srv.URL + "/plain-binary",
		Hash:        model.ContentHash{Algorithm: "sha256", Hex: hash},
	}

	for i := 0; i < 2; i++ {
		prepared, err := r.Prepare(context.Background(), srv.Client(), cacheDir, t.TempDir())
		if err != nil {
			t.Fatalf("Prepare iteration %d: %v", i, err)
		}
		prepared.Cleanup()
	}
	if calls != 1 {
		t.Fatalf("expected exactly one network fetch across two prepares, got %d", calls)
	}
}
