package hashcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jpmacdonald/apl/internal/config"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "hashcache.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get("https://example.com/a.tar.gz"); ok {
		t.Fatalf("expected empty cache to miss")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := Load(filepath.Join(t.TempDir(), "hashcache.json"))
	c.Set("https://example.com/a.tar.gz", Entry{Hash: "deadbeef", Algorithm: "sha256"})
	e, ok := c.Get("https://example.com/a.tar.gz")
	if !ok || e.Hash != "deadbeef" || e.Algorithm != "sha256" {
		t.Fatalf("unexpected entry %+v ok=%v", e, ok)
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hashcache.json")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Set("https://example.com/a.tar.gz", Entry{Hash: "deadbeef", Algorithm: "sha256"})
	if err := c.Persist(); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	e, ok := reloaded.Get("https://example.com/a.tar.gz")
	if !ok || e.Hash != "deadbeef" {
		t.Fatalf("expected reloaded entry, got %+v ok=%v", e, ok)
	}
}

func TestMaybePersistFlushesAtInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashcache.json")
	c, _ := Load(path)
	c.Set("https://example.com/a.tar.gz", Entry{Hash: "aaaa", Algorithm: "sha256"})

	interval := config.GetHashCacheFlushInterval()
	for i := 0; i < interval-1; i++ {
		if err := c.MaybePersist(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no flush before the interval, stat err = %v", err)
	}

	if err := c.MaybePersist(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if e, ok := reloaded.Get("https://example.com/a.tar.gz"); !ok || e.Hash != "aaaa" {
		t.Fatalf("expected flush at the interval, got %+v ok=%v", e, ok)
	}
}
