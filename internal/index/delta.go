package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jpmacdonald/apl/internal/apiver"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

const githubGraphQLURL = "https://api.github.com/graphql"

// deltaClient issues batched GraphQL queries for the delta check: one
// query per batch of repos, each asking only for the latest release tag.
// go-github is REST-only, so this speaks the GraphQL wire protocol
// directly over net/http as a plain JSON POST, which needs nothing beyond
// the standard library.
type deltaClient struct {
	client *http.Client
	token  string
}

func newDeltaClient(client *http.Client, token string) *deltaClient {
	return &deltaClient{client: client, token: token}
}

// latestTags fetches the latest release tag for each "owner/repo" ref,
// batching config.GetGraphQLBatchSize() (default 20) repos per query.
func (d *deltaClient) latestTags(ctx context.Context, refs []string) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	batchSize := config.GetGraphQLBatchSize()

	for start := 0; start < len(refs); start += batchSize {
		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		tags, err := d.queryBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for ref, tag := range tags {
			out[ref] = tag
		}
	}
	return out, nil
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLResponse struct {
	Data   map[string]*repoLatestRelease `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type repoLatestRelease struct {
	Releases struct {
		Nodes []struct {
			TagName string `json:"tagName"`
		} `json:"nodes"`
	} `json:"releases"`
}

func (d *deltaClient) queryBatch(ctx context.Context, refs []string) (map[string]string, error) {
	aliasToRef := make(map[string]string, len(refs))
	var b strings.Builder
	b.WriteString("query {")
	for i, ref := range refs {
		owner, repo, ok := splitRef(ref)
		if !ok {
			continue
		}
		alias := fmt.Sprintf("r%d", i)
		aliasToRef[alias] = ref
		fmt.Fprintf(&b, `%s: repository(owner:%q, name:%q) { releases(first:1, orderBy:{field:CREATED_AT,direction:DESC}) { nodes { tagName } } } `,
			alias, owner, repo)
	}
	b.WriteString("}")

	body, err := json.Marshal(graphQLRequest{Query: b.String()})
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindValidation, "", "encoding delta-check query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, githubGraphQLURL, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, githubGraphQLURL, "building delta-check request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, githubGraphQLURL, "delta-check request failed", err)
	}
	defer resp.Body.Close()

	var parsed graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, githubGraphQLURL, "decoding delta-check response", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, pkgerr.New(pkgerr.KindNetwork, githubGraphQLURL, "delta-check GraphQL errors: "+parsed.Errors[0].Message)
	}

	out := make(map[string]string, len(refs))
	for alias, ref := range aliasToRef {
		repoData := parsed.Data[alias]
		if repoData == nil || len(repoData.Releases.Nodes) == 0 {
			continue
		}
		out[ref] = repoData.Releases.Nodes[0].TagName
	}
	return out, nil
}

func splitRef(ref string) (owner, repo string, ok bool) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// isDirty reports whether ref's latest upstream tag differs from the
// version already recorded for name in the previous index. A package
// absent from the previous index is always dirty.
func isDirty(latestTag string, previousVersion string) bool {
	if previousVersion == "" {
		return true
	}
	return apiver.NormalizeTag(latestTag) != previousVersion
}
