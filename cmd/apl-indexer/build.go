package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpmacdonald/apl/internal/cas"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/hashcache"
	"github.com/jpmacdonald/apl/internal/index"
	"github.com/jpmacdonald/apl/internal/indexcodec"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/sign"
)

var (
	buildRegistryDir string
	buildPortsDir    string
	buildPreviousIdx string
	buildIndexOut    string
	buildLatestOut   string
	buildHashCache   string
	buildSigningKey  string
	buildForceFull   bool
	buildCompress    bool
	buildFilter      []string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Discover, hydrate, sign, and persist a package index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registryFS := os.DirFS(buildRegistryDir)
		portsFS := os.DirFS(buildPortsDir)

		var previous *model.PackageIndex
		if buildPreviousIdx != "" {
			data, err := os.ReadFile(buildPreviousIdx)
			if err != nil {
				return fmt.Errorf("reading previous index: %w", err)
			}
			previous, err = indexcodec.Decode(data)
			if err != nil {
				return fmt.Errorf("decoding previous index: %w", err)
			}
		}

		cache, err := hashcache.Load(buildHashCache)
		if err != nil {
			return fmt.Errorf("loading hash cache: %w", err)
		}
		defer cache.Persist()

		store, err := cas.New(config.LoadStoreConfig())
		if err != nil {
			return fmt.Errorf("building artifact store client: %w", err)
		}

		result, err := index.Produce(cmd.Context(), index.Options{
			RegistryFS:    registryFS,
			RegistryRoot:  ".",
			PortsFS:       portsFS,
			PortsRoot:     ".",
			Previous:      previous,
			Client:        &http.Client{Timeout: config.GetAPITimeout()},
			Store:         store,
			Cache:         cache,
			GitHubToken:   os.Getenv(config.EnvGitHubToken),
			HostArch:      model.ArchUniversal,
			ForceFull:     buildForceFull,
			PackageFilter: buildFilter,
		})
		if err != nil {
			return err
		}

		keyB64 := buildSigningKey
		if keyB64 == "" {
			keyB64 = os.Getenv(config.EnvSigningKey)
		}
		if keyB64 == "" {
			return fmt.Errorf("no signing key: pass --signing-key or set %s", config.EnvSigningKey)
		}
		priv, err := sign.DecodePrivateKey(keyB64)
		if err != nil {
			return fmt.Errorf("decoding signing key: %w", err)
		}

		paths, err := index.Persist(result.Index, priv, buildIndexOut, buildLatestOut, buildCompress)
		if err != nil {
			return err
		}

		fmt.Printf("index:     %s\n", paths.Index)
		fmt.Printf("signature: %s\n", paths.Signature)
		if paths.Latest != "" {
			fmt.Printf("latest:    %s\n", paths.Latest)
		}
		if len(result.Dirty) > 0 {
			fmt.Printf("rebuilt:   %s\n", strings.Join(result.Dirty, ", "))
		}
		if len(result.Pruned) > 0 {
			fmt.Printf("pruned:    %s\n", strings.Join(result.Pruned, ", "))
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildRegistryDir, "registry", "registry", "directory of PackageTemplate TOML files")
	buildCmd.Flags().StringVar(&buildPortsDir, "ports", "ports", "directory of PortManifest TOML files")
	buildCmd.Flags().StringVar(&buildPreviousIdx, "previous", "", "path to the previous binary index, for incremental delta-checking")
	buildCmd.Flags().StringVar(&buildIndexOut, "out", "index", "output path for the binary index")
	buildCmd.Flags().StringVar(&buildLatestOut, "latest-out", "latest.json", "output path for apl's own bootstrap manifest")
	buildCmd.Flags().StringVar(&buildHashCache, "hash-cache", "hashcache.json", "path to the persistent URL->hash cache")
	buildCmd.Flags().StringVar(&buildSigningKey, "signing-key", "", "base64 ed25519 private key (defaults to "+config.EnvSigningKey+")")
	buildCmd.Flags().BoolVar(&buildForceFull, "force-full", false, "re-check every template instead of only dirty ones")
	buildCmd.Flags().BoolVar(&buildCompress, "compress", false, "zstd-compress the encoded index")
	buildCmd.Flags().StringSliceVar(&buildFilter, "only", nil, "restrict the run to these package names")
}
