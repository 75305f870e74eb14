package forge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashiCorpAdapterFiltersDarwinBuilds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"versions": {
				"1.9.0": {
					"version": "1.9.0",
					"builds": [
						{"os": "linux", "arch": "amd64", "url": "https://releases.hashicorp.com/terraform/1.9.0/terraform_1.9.0_linux_amd64.zip"},
						{"os": "darwin", "arch": "arm64", "url": "https://releases.hashicorp.com/terraform/1.9.0/terraform_1.9.0_darwin_arm64.zip"}
					]
				},
				"1.9.0-beta1": {
					"version": "1.9.0-beta1",
					"builds": [
						{"os": "darwin", "arch": "arm64", "url": "https://releases.hashicorp.com/terraform/1.9.0-beta1/terraform_1.9.0-beta1_darwin_arm64.zip"}
					]
				}
			}
		}`))
	}))
	defer server.Close()

	adapter := &HashiCorpAdapter{client: server.Client(), baseURL: server.URL}
	releases, err := adapter.ListReleases(context.Background(), "terraform")
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(releases))
	}

	var stable *Release
	for i := range releases {
		if releases[i].Version == "1.9.0" {
			stable = &releases[i]
		}
	}
	if stable == nil {
		t.Fatalf("expected to find 1.9.0 release")
	}
	if len(stable.Assets) != 1 {
		t.Fatalf("expected only the darwin build as an asset, got %+v", stable.Assets)
	}
	if stable.Prerelease {
		t.Fatalf("1.9.0 should not be marked prerelease")
	}

	for _, r := range releases {
		if r.Version == "1.9.0-beta1" && !r.Prerelease {
			t.Fatalf("1.9.0-beta1 should be marked prerelease")
		}
	}
}
