package forge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNpmAdapterListReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"versions": {
				"1.0.0": {"dist": {"tarball": "https://registry.npmjs.org/turbo/-/turbo-1.0.0.tgz", "shasum": "abc"}},
				"1.1.0": {"dist": {"tarball": "https://registry.npmjs.org/turbo/-/turbo-1.1.0.tgz", "shasum": "def"}}
			}
		}`))
	}))
	defer server.Close()

	adapter := &NpmAdapter{client: server.Client(), baseURL: server.URL}
	releases, err := adapter.ListReleases(context.Background(), "turbo")
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}
	if len(releases) != 2 || releases[0].Version != "1.1.0" {
		t.Fatalf("expected newest-first, got %+v", releases)
	}
	if releases[0].Assets[0].Digest != "def" {
		t.Fatalf("expected shasum round-trip, got %+v", releases[0].Assets)
	}
}
