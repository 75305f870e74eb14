package forge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// GoToolchainAdapter lists released Go toolchains from go.dev/dl's JSON
// feed, the same request/parse shape as the registry adapters, applied to
// the Go project's own distribution index (ref is ignored: the feed is not
// parameterized by package name).
type GoToolchainAdapter struct {
	client  *http.Client
	baseURL string
}

func NewGoToolchainAdapter() *GoToolchainAdapter {
	return &GoToolchainAdapter{client: newHTTPClient(), baseURL: "https://go.dev/dl/?mode=json"}
}

func (a *GoToolchainAdapter) Name() string { return "go-toolchain" }

type goToolchainFile struct {
	Filename string `json:"filename"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
}

type goToolchainRelease struct {
	Version string            `json:"version"` // e.g. "go1.23.4"
	Stable  bool              `json:"stable"`
	Files   []goToolchainFile `json:"files"`
}

func (a *GoToolchainAdapter) ListReleases(ctx context.Context, _ string) ([]Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, "go", "building go.dev request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, "go", "fetching go.dev release index", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, "go", "unexpected go.dev status code")
	}

	var releases []goToolchainRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&releases); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, "go", "parsing go.dev response", err)
	}

	out := make([]Release, 0, len(releases))
	for _, r := range releases {
		version := strings.TrimPrefix(r.Version, "go")
		var assets []Asset
		for _, f := range r.Files {
			if f.Kind != "archive" || f.OS != "darwin" {
				continue
			}
			assets = append(assets, Asset{Name: f.Filename, URL: "https://go.dev/dl/" + f.Filename, Digest: f.SHA256, SizeBytes: f.Size})
		}
		out = append(out, Release{Tag: r.Version, Version: version, Prerelease: !r.Stable, Assets: assets})
	}
	return out, nil
}
