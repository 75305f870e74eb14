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

// NpmAdapter lists releases from the registry.npmjs.org registry, the npm
// counterpart to PyPIAdapter, following the same request/parse shape.
type NpmAdapter struct {
	client  *http.Client
	baseURL string
}

func NewNpmAdapter() *NpmAdapter {
	return &NpmAdapter{client: newHTTPClient(), baseURL: "https://registry.npmjs.org"}
}

func (a *NpmAdapter) Name() string { return "npm" }

type npmResponse struct {
	Versions map[string]struct {
		Dist struct {
			Tarball string `json:"tarball"`
			Shasum  string `json:"shasum"`
		} `json:"dist"`
	} `json:"versions"`
}

func (a *NpmAdapter) ListReleases(ctx context.Context, packageName string) ([]Release, error) {
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, packageName, "parsing npm base URL", err)
	}
	apiURL := base.JoinPath(packageName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, packageName, "building npm request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, packageName, "fetching npm package info", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerr.NotFound(packageName)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, packageName, "unexpected npm status code")
	}

	var parsed npmResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&parsed); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, packageName, "parsing npm response", err)
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
		dist := parsed.Versions[v].Dist
		out = append(out, Release{
			Tag:     v,
			Version: v,
			Assets:  []Asset{{Name: packageName + "-" + v + ".tgz", URL: dist.Tarball, Digest: dist.Shasum}},
		})
	}
	return out, nil
}
