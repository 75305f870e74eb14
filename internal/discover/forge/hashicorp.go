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

// HashiCorpAdapter lists releases from releases.hashicorp.com's JSON API
// (terraform, vault, consul, packer, ...), the same request/parse shape as
// the registry-backed adapters above applied to HashiCorp's own release
// index rather than a language package registry.
type HashiCorpAdapter struct {
	client  *http.Client
	baseURL string
}

func NewHashiCorpAdapter() *HashiCorpAdapter {
	return &HashiCorpAdapter{client: newHTTPClient(), baseURL: "https://releases.hashicorp.com"}
}

func (a *HashiCorpAdapter) Name() string { return "hashicorp" }

type hashicorpBuild struct {
	Arch string `json:"arch"`
	OS   string `json:"os"`
	URL  string `json:"url"`
}

type hashicorpRelease struct {
	Version string           `json:"version"`
	Builds  []hashicorpBuild `json:"builds"`
}

func (a *HashiCorpAdapter) ListReleases(ctx context.Context, product string) ([]Release, error) {
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, product, "parsing HashiCorp base URL", err)
	}
	apiURL := base.JoinPath(product, "index.json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, product, "building HashiCorp request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, product, "fetching HashiCorp release index", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerr.NotFound(product)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, product, "unexpected HashiCorp status code")
	}

	var parsed struct {
		Versions map[string]hashicorpRelease `json:"versions"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&parsed); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, product, "parsing HashiCorp response", err)
	}

	versions := make([]string, 0, len(parsed.Versions))
	for v := range parsed.Versions {
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
		rel := parsed.Versions[v]
		// Pre-release/ent builds are kept but marked Prerelease; HashiCorp
		// encodes those in the version string itself (e.g. "1.9.0-beta1", "1.9.0+ent").
		prerelease := false
		if parsedVer, err := semver.NewVersion(v); err == nil {
			prerelease = parsedVer.Prerelease() != "" || parsedVer.Metadata() != ""
		}
		var assets []Asset
		for _, b := range rel.Builds {
			if b.OS != "darwin" {
				continue
			}
			assets = append(assets, Asset{Name: product + "_" + v + "_" + b.OS + "_" + b.Arch + ".zip", URL: b.URL})
		}
		out = append(out, Release{Tag: v, Version: v, Prerelease: prerelease, Assets: assets})
	}
	return out, nil
}
