package index

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jpmacdonald/apl/internal/indexcodec"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
	"github.com/jpmacdonald/apl/internal/sign"
)

// PersistedPaths names the three files a completed run writes.
type PersistedPaths struct {
	Index     string
	Signature string
	Latest    string
}

// Persist stamps updated_at, sorts, encodes (optionally zstd-compressed),
// signs, and writes the index, its detached signature, and a latest.json
// bootstrap manifest for the apl package itself, all atomically via
// temp-file-then-rename.
func Persist(idx *model.PackageIndex, priv ed25519.PrivateKey, indexPath, latestPath string, compress bool) (PersistedPaths, error) {
	idx.UpdatedAt = stampNow()
	sortPackages(idx.Packages)

	encode := indexcodec.Encode
	if compress {
		encode = indexcodec.EncodeCompressed
	}
	data, err := encode(idx)
	if err != nil {
		return PersistedPaths{}, err
	}

	sigPath := indexPath + ".sig"
	sig := sign.Sign(priv, data)
	sigB64 := []byte(base64.StdEncoding.EncodeToString(sig))

	if err := writeAtomic(indexPath, data); err != nil {
		return PersistedPaths{}, err
	}
	if err := writeAtomic(sigPath, sigB64); err != nil {
		return PersistedPaths{}, err
	}

	result := PersistedPaths{Index: indexPath, Signature: sigPath}
	latestData, ok, err := buildLatestManifest(idx)
	if err != nil {
		return PersistedPaths{}, err
	}
	if ok {
		if err := writeAtomic(latestPath, latestData); err != nil {
			return PersistedPaths{}, err
		}
		result.Latest = latestPath
	}

	return result, nil
}

// stampNow is a seam so tests can produce deterministic bytes;
// Date.now-equivalent calls belong only here.
var stampNow = func() time.Time { return time.Now().UTC() }

func sortPackages(packages []model.IndexEntry) {
	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pkgerr.Wrap(pkgerr.KindIO, path, "writing temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return pkgerr.Wrap(pkgerr.KindIO, path, "renaming into place", err)
	}
	return nil
}

// buildLatestManifest emits latest.json: one URL per recognized arch key
// for the apl package itself, so a bootstrap installer
// (curl | sh) needs no index parser at all. A registry run that doesn't
// carry an apl entry (a --package-filter run, or a test fixture) simply
// skips latest.json rather than failing the whole persist.
func buildLatestManifest(idx *model.PackageIndex) ([]byte, bool, error) {
	entry, ok := idx.FindPackage(model.NewPackageName("apl"))
	if !ok {
		return nil, false, nil
	}
	version, ok := entry.LatestVersion()
	if !ok {
		return nil, false, nil
	}

	manifest := map[string]string{"version": version.Version}
	for arch, artifact := range version.Binaries {
		manifest[string(arch)] = artifact.URL
	}
	if version.Source != nil {
		manifest[strings.ToLower(string(model.ArchSource))] = version.Source.URL
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, false, pkgerr.Wrap(pkgerr.KindIO, "apl", "encoding latest.json", err)
	}
	return data, true, nil
}
