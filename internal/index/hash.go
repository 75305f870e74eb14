package index

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/jpmacdonald/apl/internal/discover/forge"
	"github.com/jpmacdonald/apl/internal/hashcache"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/template"
)

// hexDigestPattern matches a bare 64-character lowercase or uppercase hex
// string, the shape of a sha256 digest wherever it turns up in checksum
// files or release notes.
var hexDigestPattern = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)

// resolveHash walks the hash resolution chain for a single asset: cache,
// then the asset's own digest when it is a sha256 hex digest, then a checksum file shipped
// alongside the release, then the release notes body, then a
// template-declared checksum_url, then (if explicitly allowed) downloading
// and hashing the asset directly.
func resolveHash(ctx context.Context, client *http.Client, cache *hashcache.Cache, assets template.AssetsSection, rel forge.Release, asset forge.Asset) (string, error) {
	if e, ok := cache.Get(asset.URL); ok {
		return e.Hash, nil
	}

	if len(asset.Digest) == 64 && hexDigestPattern.MatchString(asset.Digest) {
		cache.Set(asset.URL, hashcache.Entry{Hash: asset.Digest, Algorithm: "sha256"})
		return asset.Digest, nil
	}

	if hash, ok := hashFromChecksumAsset(ctx, client, rel, asset); ok {
		cache.Set(asset.URL, hashcache.Entry{Hash: hash, Algorithm: "sha256"})
		return hash, nil
	}

	if hash, ok := hashFromReleaseBody(rel.Body, asset.Name); ok {
		cache.Set(asset.URL, hashcache.Entry{Hash: hash, Algorithm: "sha256"})
		return hash, nil
	}

	if assets.ChecksumURL != "" {
		url := template.ExpandVersion(assets.ChecksumURL, rel.Version)
		if hash, ok := hashFromURL(ctx, client, url, asset.Name); ok {
			cache.Set(asset.URL, hashcache.Entry{Hash: hash, Algorithm: "sha256"})
			return hash, nil
		}
	}

	if assets.SkipChecksums {
		hash, err := downloadAndHash(ctx, client, asset.URL)
		if err != nil {
			return "", err
		}
		cache.Set(asset.URL, hashcache.Entry{Hash: hash, Algorithm: "sha256"})
		return hash, nil
	}

	return "", pkgerr.New(pkgerr.KindIntegrity, asset.URL, "no hash could be resolved for this asset")
}

// checksumFileName recognizes the conventional names release pipelines use
// for a checksum manifest.
var checksumFileName = regexp.MustCompile(`(?i)checksum|sha256|shasums|\.intoto\.jsonl$`)

func hashFromChecksumAsset(ctx context.Context, client *http.Client, rel forge.Release, target forge.Asset) (string, bool) {
	for _, a := range rel.Assets {
		if a.Name == target.Name || !checksumFileName.MatchString(a.Name) {
			continue
		}
		if hash, ok := hashFromURL(ctx, client, a.URL, target.Name); ok {
			return hash, true
		}
	}
	return "", false
}

// hashFromURL fetches url and scans it line by line for a 64-hex digest
// naming filename, or a file that is a single bare digest.
func hashFromURL(ctx context.Context, client *http.Client, url, filename string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false
	}
	return scanForDigest(string(data), filename)
}

// scanForDigest looks for a 64-hex digest naming filename on its own line
// ("<hex>  filename"), or accepts the digest of a file containing nothing
// but a single hex token.
func scanForDigest(text, filename string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) == 1 {
		if hex := hexDigestPattern.FindString(lines[0]); hex != "" {
			return strings.ToLower(hex), true
		}
	}
	for _, line := range lines {
		if filename != "" && !strings.Contains(line, filename) {
			continue
		}
		if hex := hexDigestPattern.FindString(line); hex != "" {
			return strings.ToLower(hex), true
		}
	}
	return "", false
}

// hashFromReleaseBody looks for a digest mentioned near filename in the
// release notes text.
func hashFromReleaseBody(body, filename string) (string, bool) {
	if body == "" {
		return "", false
	}
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if filename != "" && !strings.Contains(line, filename) {
			continue
		}
		if hex := hexDigestPattern.FindString(line); hex != "" {
			return strings.ToLower(hex), true
		}
	}
	return "", false
}

// downloadAndHash fetches url in full and returns its sha256 digest (spec
// the last-resort fallback, only reached when the template opts in via
// skip_checksums).
func downloadAndHash(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.KindNetwork, url, "building request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.KindNetwork, url, "downloading asset to hash", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", pkgerr.New(pkgerr.KindNetwork, url, "unexpected status downloading asset to hash")
	}

	h := sha256.New()
	if _, err := io.Copy(h, resp.Body); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindNetwork, url, "hashing downloaded asset", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
