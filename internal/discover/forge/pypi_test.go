package forge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPyPIAdapterListReleasesSortsNewestFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"info": {"version": "2.1.0"},
			"releases": {
				"1.0.0": [{"url": "https://files.pythonhosted.org/jq-1.0.0.tar.gz", "md5_digest": "aaa"}],
				"2.1.0": [{"url": "https://files.pythonhosted.org/jq-2.1.0.tar.gz", "md5_digest": "bbb"}],
				"2.0.0": [{"url": "https://files.pythonhosted.org/jq-2.0.0.tar.gz", "md5_digest": "ccc"}]
			}
		}`))
	}))
	defer server.Close()

	adapter := &PyPIAdapter{client: server.Client(), baseURL: server.URL}
	releases, err := adapter.ListReleases(context.Background(), "jq")
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}
	if len(releases) != 3 {
		t.Fatalf("expected 3 releases, got %d", len(releases))
	}
	if releases[0].Version != "2.1.0" || releases[1].Version != "2.0.0" || releases[2].Version != "1.0.0" {
		t.Fatalf("expected newest-first order, got %+v", releases)
	}
	if releases[0].Assets[0].Digest != "bbb" {
		t.Fatalf("expected digest to round-trip, got %+v", releases[0].Assets)
	}
}

func TestPyPIAdapterNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	adapter := &PyPIAdapter{client: server.Client(), baseURL: server.URL}
	if _, err := adapter.ListReleases(context.Background(), "missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
