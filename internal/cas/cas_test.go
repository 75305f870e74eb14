package cas

import (
	"context"
	"strings"
	"testing"

	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/model"
)

func testHash() model.ContentHash {
	return model.ContentHash{Algorithm: "sha256", Hex: strings.Repeat("a", 64)}
}

func TestDisabledStoreQueriesReturnEmpty(t *testing.T) {
	store, err := New(config.StoreConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exists, err := store.Exists(context.Background(), testHash())
	if err != nil || exists {
		t.Fatalf("expected disabled store to report not-exists, got exists=%v err=%v", exists, err)
	}

	manifest, err := store.GetManifest(context.Background(), testHash())
	if err != nil || manifest != nil {
		t.Fatalf("expected disabled store to return nil manifest, got %+v err=%v", manifest, err)
	}
}

func TestDisabledStoreMutationsFail(t *testing.T) {
	store, _ := New(config.StoreConfig{Enabled: false})

	if _, err := store.Upload(context.Background(), testHash(), []byte("data")); err != ErrStoreDisabled {
		t.Fatalf("expected ErrStoreDisabled, got %v", err)
	}
	if _, err := store.UploadChunked(context.Background(), testHash(), []byte("data")); err != ErrStoreDisabled {
		t.Fatalf("expected ErrStoreDisabled, got %v", err)
	}
}

func TestPublicURLConstruction(t *testing.T) {
	store, _ := New(config.StoreConfig{Enabled: false})
	store.publicURL = "https://apl.pub"

	hash := testHash()
	if got, want := store.PublicURL(hash), "https://apl.pub/cas/"+hash.Hex; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got, want := store.ManifestURL(hash), "https://apl.pub/manifests/"+hash.Hex; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPublicURLEmptyWhenUnconfigured(t *testing.T) {
	store, _ := New(config.StoreConfig{Enabled: false})
	if got := store.PublicURL(testHash()); got != "" {
		t.Fatalf("expected empty public url, got %q", got)
	}
}
