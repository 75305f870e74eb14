package forge

import "context"

// AWSCLIAdapter lists releases for the AWS CLI. AWS publishes no JSON
// release feed for the CLI itself (unlike HashiCorp's products or go.dev),
// but the aws/aws-cli GitHub repository's tags track every release
// 1:1 with the published installer versions, so this adapter delegates to
// GitHubAdapter against that repository rather than scraping AWS's S3-hosted
// installer bucket, which has no listable index.
type AWSCLIAdapter struct {
	github *GitHubAdapter
}

func NewAWSCLIAdapter() *AWSCLIAdapter {
	return &AWSCLIAdapter{github: NewGitHubAdapter()}
}

func (a *AWSCLIAdapter) Name() string { return "awscli" }

// ListReleases ignores ref and always queries aws/aws-cli. The GitHub
// release assets are source tarballs, not the installer, so each release's
// assets are replaced with the single macOS installer package at
// https://awscli.amazonaws.com/AWSCLIV2-{version}.pkg.
func (a *AWSCLIAdapter) ListReleases(ctx context.Context, _ string) ([]Release, error) {
	releases, err := a.github.ListReleases(ctx, "aws/aws-cli")
	if err != nil {
		return nil, err
	}
	for i := range releases {
		releases[i].Assets = []Asset{{
			Name: "AWSCLIV2-" + releases[i].Version + ".pkg",
			URL:  "https://awscli.amazonaws.com/AWSCLIV2-" + releases[i].Version + ".pkg",
		}}
	}
	return releases, nil
}
