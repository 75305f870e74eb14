// Package config centralizes apl's environment-driven configuration.
// Every knob has a documented default and a clamp range; invalid input is
// logged to stderr and falls back to the default rather than failing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// EnvAPLHome overrides the default apl home directory (~/.apl).
	EnvAPLHome = "APL_HOME"

	// EnvIndexURL overrides the default package index URL.
	EnvIndexURL = "APL_INDEX_URL"

	// EnvSigningKey supplies the base64 ed25519 secret key used when
	// publishing a signed index. Never read outside the indexer binary.
	EnvSigningKey = "APL_SIGNING_KEY"

	// EnvTrustedPublicKey supplies the base64 ed25519 public key `apl
	// update` verifies the downloaded index signature against.
	EnvTrustedPublicKey = "APL_TRUSTED_PUBLIC_KEY"

	// EnvGitHubToken authenticates GitHub GraphQL/REST discovery requests.
	EnvGitHubToken = "GITHUB_TOKEN"

	// EnvShell names the interactive shell used by `apl shell`.
	EnvShell = "SHELL"

	// EnvAPITimeout configures the HTTP client timeout for discovery and
	// registry requests.
	EnvAPITimeout = "APL_API_TIMEOUT"

	// EnvHashCacheFlushInterval configures how many packages are hydrated
	// between hash-cache persists.
	EnvHashCacheFlushInterval = "APL_HASH_CACHE_FLUSH_INTERVAL"

	// EnvGraphQLBatchSize configures repos-per-query for delta checks.
	EnvGraphQLBatchSize = "APL_GRAPHQL_BATCH_SIZE"

	// EnvHydrateConcurrency configures concurrent per-template hydration.
	EnvHydrateConcurrency = "APL_HYDRATE_CONCURRENCY"

	// EnvArtifactStoreEndpoint, EnvArtifactStoreAccessKey,
	// EnvArtifactStoreSecretKey, EnvArtifactStoreBucket,
	// EnvArtifactStorePublicURL, and EnvArtifactStoreEnabled configure the
	// S3-compatible CAS backend.
	EnvArtifactStoreEndpoint  = "APL_ARTIFACT_STORE_ENDPOINT"
	EnvArtifactStoreAccessKey = "APL_ARTIFACT_STORE_ACCESS_KEY"
	EnvArtifactStoreSecretKey = "APL_ARTIFACT_STORE_SECRET_KEY"
	EnvArtifactStoreBucket    = "APL_ARTIFACT_STORE_BUCKET"
	EnvArtifactStorePublicURL = "APL_ARTIFACT_STORE_PUBLIC_URL"
	EnvArtifactStoreRegion    = "APL_ARTIFACT_STORE_REGION"
	EnvArtifactStoreEnabled   = "APL_ARTIFACT_STORE_ENABLED"

	DefaultIndexURL              = "https://apl.pub/index"
	DefaultAPITimeout            = 30 * time.Second
	DefaultHashCacheFlush        = 10
	DefaultGraphQLBatchSize      = 20
	DefaultGraphQLConcurrency    = 12
	DefaultGraphQLReposPerBatch  = 4
	DefaultHydrateTemplates      = 16
	DefaultHydrateVersions       = 8
	DefaultHydrateRecentVersions = 5
	DefaultRangeChunksSmall      = 8
	DefaultRangeChunksLarge      = 16
	DefaultRangeThresholdBytes   = 10 * 1024 * 1024
	DefaultRangeLargeBytes       = 50 * 1024 * 1024
	DefaultManifestConcurrency   = 16
)

// GetAPITimeout returns the configured API timeout, clamped to [1s, 10m].
func GetAPITimeout() time.Duration {
	return durationFromEnv(EnvAPITimeout, DefaultAPITimeout, time.Second, 10*time.Minute)
}

func durationFromEnv(envVar string, def, min, max time.Duration) time.Duration {
	raw := os.Getenv(envVar)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s value %q, using default %v\n", envVar, raw, def)
		return def
	}
	if d < min {
		fmt.Fprintf(os.Stderr, "warning: %s too low (%v), using minimum %v\n", envVar, d, min)
		return min
	}
	if d > max {
		fmt.Fprintf(os.Stderr, "warning: %s too high (%v), using maximum %v\n", envVar, d, max)
		return max
	}
	return d
}

// GetHashCacheFlushInterval returns how many packages to hydrate between
// hash-cache persists (default 10).
func GetHashCacheFlushInterval() int {
	return intFromEnv(EnvHashCacheFlushInterval, DefaultHashCacheFlush, 1, 1000)
}

// GetGraphQLBatchSize returns how many repos are checked per delta-check
// GraphQL query (default 20).
func GetGraphQLBatchSize() int {
	return intFromEnv(EnvGraphQLBatchSize, DefaultGraphQLBatchSize, 1, 100)
}

// GetHydrateConcurrency returns (templates-per-layer, versions-per-template,
// most-recent-versions) concurrency limits for index hydration.
func GetHydrateConcurrency() (templates, versions, recent int) {
	return intFromEnv(EnvHydrateConcurrency, DefaultHydrateTemplates, 1, 128),
		DefaultHydrateVersions, DefaultHydrateRecentVersions
}

func intFromEnv(envVar string, def, min, max int) int {
	raw := os.Getenv(envVar)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s value %q, using default %d\n", envVar, raw, def)
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// GetIndexURL returns the configured package index URL.
func GetIndexURL() string {
	if v := os.Getenv(EnvIndexURL); v != "" {
		return v
	}
	return DefaultIndexURL
}

// StoreConfig holds the S3-compatible CAS backend settings read from the
// APL_ARTIFACT_STORE_* environment variables. Enabled is false unless
// explicitly turned on,
// so a fresh checkout never attempts network calls it can't authenticate.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
	Region    string
	Enabled   bool
}

// LoadStoreConfig reads the artifact store configuration from the
// environment.
func LoadStoreConfig() StoreConfig {
	return StoreConfig{
		Endpoint:  os.Getenv(EnvArtifactStoreEndpoint),
		AccessKey: os.Getenv(EnvArtifactStoreAccessKey),
		SecretKey: os.Getenv(EnvArtifactStoreSecretKey),
		Bucket:    os.Getenv(EnvArtifactStoreBucket),
		PublicURL: os.Getenv(EnvArtifactStorePublicURL),
		Region:    os.Getenv(EnvArtifactStoreRegion),
		Enabled:   os.Getenv(EnvArtifactStoreEnabled) == "true" || os.Getenv(EnvArtifactStoreEnabled) == "1",
	}
}
