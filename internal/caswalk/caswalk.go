// Package caswalk implements the client-side half of apl's chunked CAS
// protocol: chunked manifest mode, plus range-request fan-out for large
// single-file downloads. internal/cas owns the S3-authenticated publisher
// path; install clients are never S3-authenticated, so they walk the same
// manifest/chunk layout over plain HTTP instead, reusing internal/cas's
// BlobManifest JSON shape directly rather than inventing a parallel one,
// and fanning out concurrent fetches with golang.org/x/sync.
package caswalk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jpmacdonald/apl/internal/cas"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// ManifestSuffix is the URL path segment that marks chunked manifest mode.
const ManifestSuffix = "/manifests/"

// IsManifestURL reports whether url should be treated as a BlobManifest
// reference rather than a direct blob download.
func IsManifestURL(url string) bool {
	return strings.Contains(url, ManifestSuffix)
}

// FetchManifest downloads and decodes the BlobManifest at url.
func FetchManifest(ctx context.Context, client *http.Client, url string) (*cas.BlobManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, url, "building manifest request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, url, "fetching manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, url, "manifest request returned "+resp.Status)
	}

	var manifest cas.BlobManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, url, "decoding manifest", err)
	}
	return &manifest, nil
}

// chunkURL derives the /cas/{chunk_hash} sibling of a /manifests/{hash} URL.
func chunkURL(manifestURL, chunkHash string) string {
	base := manifestURL[:strings.Index(manifestURL, ManifestSuffix)]
	return base + "/cas/" + chunkHash
}

// FetchChunked downloads every chunk named in manifest, fetched from
// manifestURL's sibling /cas/ path with up to config.DefaultManifestConcurrency
// concurrent requests, reassembles them in listed order into dest, and
// verifies the result hashes to manifest.Hash.
func FetchChunked(ctx context.Context, client *http.Client, manifestURL string, manifest *cas.BlobManifest, dest *os.File) error {
	offsets := make([]int64, len(manifest.Chunks))
	var running int64
	for i, c := range manifest.Chunks {
		offsets[i] = running
		running += int64(c.Size)
	}
	if err := dest.Truncate(running); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, manifest.Hash, "pre-sizing reassembly file", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.DefaultManifestConcurrency)

	for i, c := range manifest.Chunks {
		i, c := i, c
		g.Go(func() error {
			data, err := fetchChunk(gctx, client, chunkURL(manifestURL, c.Hash))
			if err != nil {
				return err
			}
			if len(data) != c.Size {
				return pkgerr.New(pkgerr.KindIntegrity, c.Hash,
					fmt.Sprintf("chunk size mismatch: got %d want %d", len(data), c.Size))
			}
			if _, err := dest.WriteAt(data, offsets[i]); err != nil {
				return pkgerr.Wrap(pkgerr.KindIO, c.Hash, "writing chunk", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := dest.Seek(0, io.SeekStart); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, manifest.Hash, "seeking before hash", err)
	}
	sum := sha256.New()
	if _, err := io.Copy(sum, dest); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, manifest.Hash, "hashing reassembled blob", err)
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != manifest.Hash {
		return pkgerr.New(pkgerr.KindIntegrity, manifest.Hash, "reassembled blob hash mismatch: got "+got)
	}
	return nil
}

func fetchChunk(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, url, "building chunk request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindNetwork, url, "fetching chunk", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerr.New(pkgerr.KindNetwork, url, "chunk request returned "+resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, url, "reading chunk body", err)
	}
	return data, nil
}

// RangeCapable probes whether url supports byte-range requests and returns
// its Content-Length, via a HEAD request.
func RangeCapable(ctx context.Context, client *http.Client, url string) (size int64, ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, pkgerr.Wrap(pkgerr.KindNetwork, url, "building head request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, pkgerr.Wrap(pkgerr.KindNetwork, url, "probing range support", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false, nil
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return resp.ContentLength, false, nil
	}
	return resp.ContentLength, resp.ContentLength > 0, nil
}

// ChunkCountFor returns the concurrency fan-out for a file of the given
// size: 16 above 50 MiB, else 8.
func ChunkCountFor(size int64) int {
	if size > config.DefaultRangeLargeBytes {
		return config.DefaultRangeChunksLarge
	}
	return config.DefaultRangeChunksSmall
}

// FetchRanged downloads url into a pre-sized file at destPath using n
// concurrent byte-range requests, then returns the hex sha256 of the
// reassembled file.
func FetchRanged(ctx context.Context, client *http.Client, url, destPath string, size int64, n int) (string, error) {
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, destPath, "creating destination file", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, destPath, "pre-sizing destination file", err)
	}

	bounds := splitRanges(size, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for _, b := range bounds {
		b := b
		g.Go(func() error {
			return fetchRange(gctx, client, url, f, b.start, b.end)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, destPath, "seeking before hash", err)
	}
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, destPath, "hashing downloaded file", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

type byteRange struct{ start, end int64 } // end inclusive

func splitRanges(size int64, n int) []byteRange {
	if n < 1 {
		n = 1
	}
	chunkSize := size / int64(n)
	if chunkSize == 0 {
		chunkSize = size
		n = 1
	}
	ranges := make([]byteRange, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == n-1 {
			end = size - 1
		}
		ranges = append(ranges, byteRange{start: start, end: end})
	}
	return ranges
}

func fetchRange(ctx context.Context, client *http.Client, url string, w io.WriterAt, start, end int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, url, "building range request", err)
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10))

	resp, err := client.Do(req)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, url, "fetching range", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return pkgerr.New(pkgerr.KindNetwork, url, "range request returned "+resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, url, "reading range body", err)
	}
	if _, err := w.WriteAt(data, start); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, url, "writing range to destination", err)
	}
	return nil
}
