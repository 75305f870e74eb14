package forge

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// GitHubAdapter lists releases via the GitHub REST API. A token from
// GITHUB_TOKEN authenticates the client when present, and a rate-limit
// error is reported distinctly so callers can back off rather than
// treating it as a generic failure.
type GitHubAdapter struct {
	client        *github.Client
	authenticated bool
}

// NewGitHubAdapter builds a GitHubAdapter, authenticating with
// GITHUB_TOKEN when set (raising apl's default unauthenticated rate limit
// of 60 requests/hour to 5000/hour).
func NewGitHubAdapter() *GitHubAdapter {
	var httpClient *http.Client
	authenticated := false
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
		authenticated = true
	}
	return &GitHubAdapter{client: github.NewClient(httpClient), authenticated: authenticated}
}

func (a *GitHubAdapter) Name() string { return "github" }

// ListReleases fetches up to the 30 most recent published releases for
// owner/repo (GitHub's default page size), falling back to tags when the
// repository has none (e.g. golang/go, which tags without publishing
// GitHub Releases).
func (a *GitHubAdapter) ListReleases(ctx context.Context, ref string) ([]Release, error) {
	owner, repo, err := splitOwnerRepo(ref)
	if err != nil {
		return nil, err
	}

	releases, resp, err := a.client.Repositories.ListReleases(ctx, owner, repo, &github.ListOptions{PerPage: 30})
	if err != nil {
		var rateLimitErr *github.RateLimitError
		if errors.As(err, &rateLimitErr) {
			return nil, pkgerr.Wrap(pkgerr.KindNetwork, ref, "GitHub API rate limit exceeded", err)
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return a.listFromTags(ctx, owner, repo, ref)
		}
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, ref, "listing GitHub releases", err)
	}
	if len(releases) == 0 {
		return a.listFromTags(ctx, owner, repo, ref)
	}

	out := make([]Release, 0, len(releases))
	for _, r := range releases {
		out = append(out, Release{
			Tag:         r.GetTagName(),
			Version:     normalizeTag(r.GetTagName()),
			Prerelease:  r.GetPrerelease(),
			PublishedAt: r.GetPublishedAt().Time,
			Assets:      githubAssets(r.Assets),
			Body:        r.GetBody(),
		})
	}
	return out, nil
}

func (a *GitHubAdapter) listFromTags(ctx context.Context, owner, repo, ref string) ([]Release, error) {
	tags, _, err := a.client.Repositories.ListTags(ctx, owner, repo, &github.ListOptions{PerPage: 100})
	if err != nil {
		var rateLimitErr *github.RateLimitError
		if errors.As(err, &rateLimitErr) {
			return nil, pkgerr.Wrap(pkgerr.KindNetwork, ref, "GitHub API rate limit exceeded", err)
		}
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, ref, "listing GitHub tags", err)
	}
	out := make([]Release, 0, len(tags))
	for _, t := range tags {
		out = append(out, Release{Tag: t.GetName(), Version: normalizeTag(t.GetName())})
	}
	return out, nil
}

// githubAssets never populates Asset.Digest: GitHub release assets carry no
// hash in this API version, so hash resolution always falls through to the
// checksum-file / release-body / download-and-hash fallback strategies.
func githubAssets(assets []*github.ReleaseAsset) []Asset {
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, Asset{
			Name:      a.GetName(),
			URL:       a.GetBrowserDownloadURL(),
			SizeBytes: int64(a.GetSize()),
		})
	}
	return out
}

func splitOwnerRepo(ref string) (string, string, error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", pkgerr.New(pkgerr.KindValidation, ref, "expected owner/repo")
	}
	return parts[0], parts[1], nil
}

func normalizeTag(tag string) string {
	return strings.TrimPrefix(tag, "v")
}
