package forge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// RubyGemsAdapter lists releases from the RubyGems.org versions API, the
// same request/parse shape as PyPIAdapter and NpmAdapter, adapted to a JSON
// array response instead of a version map.
type RubyGemsAdapter struct {
	client  *http.Client
	baseURL string
}

func NewRubyGemsAdapter() *RubyGemsAdapter {
	return &RubyGemsAdapter{client: newHTTPClient(), baseURL: "https://rubygems.org"}
}

func (a *RubyGemsAdapter) Name() string { return "rubygems" }

type rubygemsVersion struct {
	Number     string `json:"number"`
	Prerelease bool   `json:"prerelease"`
	SHA        string `json:"sha"`
}

func (a *RubyGemsAdapter) ListReleases(ctx context.Context, gemName string) ([]Release, error) {
	base, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, gemName, "parsing RubyGems base URL", err)
	}
	apiURL := base.JoinPath("api", "v1", "versions", gemName+".json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL.String(), nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, gemName, "building RubyGems request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, gemName, "fetching RubyGems versions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerr.NotFound(gemName)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, gemName, "unexpected RubyGems status code")
	}

	var versions []rubygemsVersion
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&versions); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, gemName, "parsing RubyGems response", err)
	}

	out := make([]Release, 0, len(versions))
	for _, v := range versions {
		gemURL := base.JoinPath("downloads", gemName+"-"+v.Number+".gem").String()
		out = append(out, Release{
			Tag:        v.Number,
			Version:    v.Number,
			Prerelease: v.Prerelease,
			Assets:     []Asset{{Name: gemName + "-" + v.Number + ".gem", URL: gemURL, Digest: v.SHA}},
		})
	}
	return out, nil
}
