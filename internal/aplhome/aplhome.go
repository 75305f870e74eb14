// Package aplhome resolves the layout of apl's per-user home directory,
// rooted at ~/.apl.
package aplhome

import (
	"os"
	"path/filepath"

	"github.com/jpmacdonald/apl/internal/config"
)

// Home describes the resolved ~/.apl directory layout.
type Home struct {
	Root string
}

// New resolves Home from APL_HOME, falling back to ~/.apl.
func New() (*Home, error) {
	if root := os.Getenv(config.EnvAPLHome); root != "" {
		return &Home{Root: root}, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Home{Root: filepath.Join(dir, ".apl")}, nil
}

// Bin is where symlinks for active binaries live.
func (h *Home) Bin() string { return filepath.Join(h.Root, "bin") }

// Store is the root of versioned package trees: {store}/{name}/{version}.
func (h *Home) Store() string { return filepath.Join(h.Root, "store") }

// StorePath returns the store path for a specific (name, version).
func (h *Home) StorePath(name, version string) string {
	return filepath.Join(h.Store(), name, version)
}

// Cache holds downloaded archives keyed by content hash.
func (h *Home) Cache() string { return filepath.Join(h.Root, "cache") }

// CachePath returns the cache path for a given content hash.
func (h *Home) CachePath(hash string) string { return filepath.Join(h.Cache(), hash) }

// Index is the path to the serialized package index.
func (h *Home) Index() string { return filepath.Join(h.Root, "index") }

// IndexSig is the path to the index's detached ed25519 signature.
func (h *Home) IndexSig() string { return h.Index() + ".sig" }

// Latest is the bootstrap manifest path for apl's own releases.
func (h *Home) Latest() string { return filepath.Join(h.Root, "latest.json") }

// StateDB is the path to the single-file state database.
func (h *Home) StateDB() string { return filepath.Join(h.Root, "state.db") }

// HashCache is the path to the persistent URL->hash cache.
func (h *Home) HashCache() string { return filepath.Join(h.Root, "hashcache.json") }

// EnsureDirs creates the directories Home needs (bin, store, cache), but not
// files (index, state.db) which are created lazily by their owners.
func (h *Home) EnsureDirs() error {
	for _, dir := range []string{h.Root, h.Bin(), h.Store(), h.Cache()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
