package forge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGoToolchainAdapterParsesVersionAndDarwinAssets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"version": "go1.23.4",
				"stable": true,
				"files": [
					{"filename": "go1.23.4.darwin-arm64.tar.gz", "os": "darwin", "arch": "arm64", "kind": "archive", "sha256": "deadbeef", "size": 100},
					{"filename": "go1.23.4.linux-amd64.tar.gz", "os": "linux", "arch": "amd64", "kind": "archive", "sha256": "beefdead", "size": 120}
				]
			},
			{
				"version": "go1.24rc1",
				"stable": false,
				"files": [
					{"filename": "go1.24rc1.darwin-arm64.tar.gz", "os": "darwin", "arch": "arm64", "kind": "archive", "sha256": "cafef00d", "size": 90}
				]
			}
		]`))
	}))
	defer server.Close()

	adapter := &GoToolchainAdapter{client: server.Client(), baseURL: server.URL}
	releases, err := adapter.ListReleases(context.Background(), "")
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(releases))
	}
	if releases[0].Version != "1.23.4" {
		t.Fatalf("expected 'go' prefix stripped, got %q", releases[0].Version)
	}
	if len(releases[0].Assets) != 1 || releases[0].Assets[0].Digest != "deadbeef" {
		t.Fatalf("expected only the darwin archive asset, got %+v", releases[0].Assets)
	}
	if !releases[1].Prerelease {
		t.Fatalf("expected unstable release marked prerelease")
	}
}
