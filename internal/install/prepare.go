package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/jpmacdonald/apl/internal/archive"
	"github.com/jpmacdonald/apl/internal/caswalk"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/log"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// HostArch reports the running process's concrete Darwin architecture.
func HostArch() model.Arch {
	if runtime.GOARCH == "arm64" {
		return model.ArchARM64Darwin
	}
	return model.ArchX86_64Darwin
}

// rangeThreshold is the Content-Length above which a tar/zip/binary
// download is fanned out across concurrent range requests instead of a
// single streamed GET.
const rangeThreshold = config.DefaultRangeThresholdBytes

// Prepared is Resolved plus the on-disk result of downloading and
// extracting its artifact: a temp directory this process owns until
// Commit (or an explicit Cleanup) consumes or removes it.
type Prepared struct {
	Resolved *Resolved

	ExtractedPath string
	TempDir       string
	BinList       []string
}

// Cleanup removes the owned temp directory. Safe to call after Commit has
// already moved ExtractedPath out from under it.
func (p *Prepared) Cleanup() error {
	if p.TempDir == "" {
		return nil
	}
	return os.RemoveAll(p.TempDir)
}

// Prepare downloads and extracts r's artifact into a fresh temp directory
// on the same filesystem as storeRoot (so Commit's later rename is never
// cross-volume), verifying its hash and falling back from mirror to
// upstream on a 404.
func (r *Resolved) Prepare(ctx context.Context, client *http.Client, cacheDir, storeRoot string) (*Prepared, error) {
	logger := log.Default().With("component", "install", "package", string(r.Name))

	tempDir, err := os.MkdirTemp(storeRoot, ".apl-prepare-*")
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating temp directory alongside store", err)
	}

	extractDir := filepath.Join(tempDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		os.RemoveAll(tempDir)
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating extraction directory", err)
	}

	if err := r.download(ctx, client, cacheDir, extractDir, logger); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	return &Prepared{
		Resolved:      r,
		ExtractedPath: extractDir,
		TempDir:       tempDir,
		BinList:       r.BinList,
	}, nil
}

// download fetches r's artifact, verified against r.Hash, into cacheDir
// (keyed by hash so a repeat install skips the network entirely) and
// extracts it into extractDir. Tar formats extract inline, concurrently
// with the download itself; other formats extract from the finished cache
// file once it lands on disk.
func (r *Resolved) download(ctx context.Context, client *http.Client, cacheDir, extractDir string, logger log.Logger) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating cache directory", err)
	}
	cachePath := filepath.Join(cacheDir, r.Hash.Hex)

	url := r.EffectiveURL()
	format := archive.DetectFormat(url)

	if _, err := os.Stat(cachePath); err == nil {
		logger.Debug("using cached artifact", "hash", r.Hash.Hex)
		return extractInto(cachePath, extractDir, format)
	}

	fetchErr := r.fetchOne(ctx, client, url, format, cachePath, extractDir, logger)
	if fetchErr != nil && r.HasFallback() && isNotFoundErr(fetchErr) {
		logger.Warn("mirror returned not found, retrying upstream", "mirror", url, "upstream", r.UpstreamURL)
		os.Remove(cachePath)
		fetchErr = r.fetchOne(ctx, client, r.UpstreamURL, format, cachePath, extractDir, logger)
	}
	if fetchErr != nil {
		os.Remove(cachePath)
		return fetchErr
	}

	if err := verifyHash(cachePath, r.Hash); err != nil {
		os.Remove(cachePath)
		return err
	}
	return nil
}

func (r *Resolved) fetchOne(ctx context.Context, client *http.Client, url string, format archive.Format, cachePath, extractDir string, logger log.Logger) error {
	if format.IsTar() {
		return r.downloadTarPipelined(ctx, client, url, format, cachePath, extractDir, logger)
	}
	if err := r.downloadWhole(ctx, client, url, cachePath, logger); err != nil {
		return err
	}
	return extractInto(cachePath, extractDir, format)
}

// downloadTarPipelined streams a tar.{gz,zst,xz} download through a pipe,
// teeing the raw bytes to a cache file on one side while the tar/
// decompress chain reads from the pipe and extracts concurrently on the
// other. An io.Pipe is itself an unbuffered, single-item-bounded channel
// of bytes, so the HTTP body producer blocks until the extractor drains
// it, and the whole archive is never buffered in memory.
func (r *Resolved) downloadTarPipelined(ctx context.Context, client *http.Client, url string, format archive.Format, cachePath, extractDir string, logger log.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, url, "building download request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, url, "downloading artifact", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &notFoundError{url: url, status: resp.StatusCode}
	}

	cacheFile, err := os.Create(cachePath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, cachePath, "creating cache file", err)
	}
	defer cacheFile.Close()

	pr, pw := io.Pipe()
	tee := io.MultiWriter(cacheFile, pw)

	logger.Debug("streaming tar download", "url", url, "size", humanize.Bytes(uint64(max(resp.ContentLength, 0))))

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, copyErr := io.Copy(tee, resp.Body)
		pw.CloseWithError(copyErr)
		return copyErr
	})
	g.Go(func() error {
		tr, err := archive.NewTarReader(pr, format)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		if err := archive.ExtractTar(tr, extractDir); err != nil {
			pr.CloseWithError(err)
			return err
		}
		return nil
	})
	return g.Wait()
}

// downloadWhole fetches url fully: via fanned-out range requests when the
// server advertises a large, range-capable Content-Length, else a single
// streamed GET to a cache file.
func (r *Resolved) downloadWhole(ctx context.Context, client *http.Client, url, cachePath string, logger log.Logger) error {
	size, rangeOK, err := caswalk.RangeCapable(ctx, client, url)
	if err == nil && rangeOK && size > rangeThreshold {
		n := caswalk.ChunkCountFor(size)
		logger.Debug("fanning out range requests", "url", url, "size", humanize.Bytes(uint64(size)), "concurrency", n)
		if _, err := caswalk.FetchRanged(ctx, client, url, cachePath, size, n); err != nil {
			return err
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, url, "building download request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, url, "downloading artifact", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &notFoundError{url: url, status: resp.StatusCode}
	}

	f, err := os.Create(cachePath)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, cachePath, "creating cache file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, url, "writing download body", err)
	}
	return nil
}

// extractInto dispatches to the tar or zip extractor per format, or copies
// a bare binary straight into destDir. DMG/PKG installers are placed
// as-is for the commit stage's App/Pkg strategies to mount or run.
func extractInto(cachePath, destDir string, format archive.Format) error {
	switch {
	case format.IsTar():
		f, err := os.Open(cachePath)
		if err != nil {
			return pkgerr.Wrap(pkgerr.KindIO, cachePath, "opening cached archive", err)
		}
		defer f.Close()
		tr, err := archive.NewTarReader(f, format)
		if err != nil {
			return err
		}
		return archive.ExtractTar(tr, destDir)
	case format == archive.FormatZip:
		return archive.ExtractZip(cachePath, destDir)
	default:
		// binary, dmg, pkg: placed into destDir verbatim, named after the
		// cached artifact; the commit stage's strategy decides what to do
		// with it.
		dest := filepath.Join(destDir, filepath.Base(cachePath))
		return copyFile(cachePath, dest)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, src, "opening source file", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, dst, "creating destination file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, dst, "copying file", err)
	}
	if info, err := os.Stat(src); err == nil {
		os.Chmod(dst, info.Mode())
	}
	return nil
}

func verifyHash(path string, want model.ContentHash) error {
	f, err := os.Open(path)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "opening downloaded file to verify", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "hashing downloaded file", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want.Hex {
		return pkgerr.New(pkgerr.KindIntegrity, path, "hash mismatch: got "+got+" want "+want.Hex)
	}
	return nil
}

// notFoundError marks a download failure as a 404, the signal Prepare
// uses to decide whether to retry against the fallback URL.
type notFoundError struct {
	url    string
	status int
}

func (e *notFoundError) Error() string {
	return "download " + e.url + " returned status " + http.StatusText(e.status)
}

func isNotFoundErr(err error) bool {
	nfe, ok := err.(*notFoundError)
	return ok && nfe.status == http.StatusNotFound
}

// PrepareChunked handles the /manifests/ chunked download path: the
// effective URL's first response is a BlobManifest, whose chunks are
// fetched concurrently and reassembled.
func (r *Resolved) PrepareChunked(ctx context.Context, client *http.Client, cacheDir, storeRoot string) (*Prepared, error) {
	logger := log.Default().With("component", "install", "package", string(r.Name))

	tempDir, err := os.MkdirTemp(storeRoot, ".apl-prepare-*")
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating temp directory alongside store", err)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		os.RemoveAll(tempDir)
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating cache directory", err)
	}
	cachePath := filepath.Join(cacheDir, r.Hash.Hex)

	if _, err := os.Stat(cachePath); err != nil {
		manifest, err := caswalk.FetchManifest(ctx, client, r.EffectiveURL())
		if err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}
		dest, err := os.Create(cachePath)
		if err != nil {
			os.RemoveAll(tempDir)
			return nil, pkgerr.Wrap(pkgerr.KindIO, cachePath, "creating reassembly file", err)
		}
		logger.Debug("reassembling chunked manifest", "chunks", len(manifest.Chunks))
		err = caswalk.FetchChunked(ctx, client, r.EffectiveURL(), manifest, dest)
		dest.Close()
		if err != nil {
			os.Remove(cachePath)
			os.RemoveAll(tempDir)
			return nil, err
		}
	}

	if err := verifyHash(cachePath, r.Hash); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	extractDir := filepath.Join(tempDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		os.RemoveAll(tempDir)
		return nil, pkgerr.Wrap(pkgerr.KindIO, string(r.Name), "creating extraction directory", err)
	}
	if err := extractInto(cachePath, extractDir, archive.DetectFormat(r.EffectiveURL())); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	return &Prepared{Resolved: r, ExtractedPath: extractDir, TempDir: tempDir, BinList: r.BinList}, nil
}
