package forge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// maxJSONResponseBytes bounds every forge adapter's response read as a
// decompression-bomb defense.
const maxJSONResponseBytes = 10 * 1024 * 1024

// PyPIAdapter lists releases from the PyPI JSON API.
type PyPIAdapter struct {
	client  *http.Client
	baseURL string
}

func NewPyPIAdapter() *PyPIAdapter {
	return &PyPIAdapter{client: newHTTPClient(), baseURL: "https://pypi.org"}
}

func (a *PyPIAdapter) Name() string { return "pypi" }

type pypiResponse struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string][]struct {
		URL string `json:"url"`
		MD5 string `json:"md5_digest"`
	} `json:"releases"`
}

func (a *PyPIAdapter) ListReleases(ctx context.Context, packageName string) ([]Release, error) {
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, packageName, "parsing PyPI base URL", err)
	}
	apiURL := base.JoinPath("pypi", packageName, "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, packageName, "building PyPI request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, packageName, "fetching PyPI package info", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerr.NotFound(packageName)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, packageName, "unexpected PyPI status code")
	}

	var parsed pypiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&parsed); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, packageName, "parsing PyPI response", err)
	}

	versions := make([]string, 0, len(parsed.Releases))
	for v := range parsed.Releases {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])
		if erri == nil && errj == nil {
			return vj.LessThan(vi)
		}
		return versions[i] > versions[j]
	})

	out := make([]Release, 0, len(versions))
	for _, v := range versions {
		var assets []Asset
		for _, f := range parsed.Releases[v] {
			assets = append(assets, Asset{Name: f.URL, URL: f.URL, Digest: f.MD5})
		}
		out = append(out, Release{Tag: v, Version: v, Assets: assets})
	}
	return out, nil
}
