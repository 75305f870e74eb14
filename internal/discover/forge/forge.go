// Package forge adapts apl's upstream discovery sources to one shared
// capability: list the releases available for a package, with assets and
// any hash the upstream publishes. Each upstream (GitHub, PyPI, npm, ...)
// gets its own adapter behind a common interface, and non-GitHub adapters
// share one SSRF-hardened HTTP client construction.
package forge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// Asset is one downloadable file attached to a Release.
type Asset struct {
	Name      string
	URL       string
	Digest    string // checksum the upstream publishes directly: sha256 hex for most adapters, sha1 for npm, md5 for PyPI
	SizeBytes int64
}

// Release is one upstream version: a tag plus the assets published for it.
type Release struct {
	Tag         string
	Version     string // normalized, leading "v" stripped
	Prerelease  bool
	PublishedAt time.Time
	Assets      []Asset
	Body        string // release notes text, when the upstream publishes one; used as a last-resort hash source
}

// Adapter lists releases for a single upstream kind. ref is adapter-specific:
// "owner/repo" for GitHub, a product name for HashiCorp, a package name for
// npm/PyPI/RubyGems.
type Adapter interface {
	Name() string
	ListReleases(ctx context.Context, ref string) ([]Release, error)
}

// newHTTPClient builds the hardened client every non-GitHub adapter shares:
// bounded timeouts, no transparent decompression (a decompression-bomb
// defense), and a redirect policy that refuses to follow a redirect off
// HTTPS or into private/link-local address space (blocks SSRF via a
// redirect to the cloud metadata endpoint).
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DisableCompression: true,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "https" {
				return fmt.Errorf("refusing redirect to non-HTTPS URL: %s", req.URL)
			}
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return checkRedirectHost(req.URL.Hostname())
		},
	}
}

func checkRedirectHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		return validateIP(ip, host)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return pkgerr.Wrap(pkgerr.KindNetwork, host, "resolving redirect host", err)
	}
	for _, ip := range ips {
		if err := validateIP(ip, host); err != nil {
			return err
		}
	}
	return nil
}

func validateIP(ip net.IP, host string) error {
	switch {
	case ip.IsPrivate(), ip.IsLoopback(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return pkgerr.New(pkgerr.KindNetwork, host, fmt.Sprintf("refusing redirect to disallowed address %s", ip))
	default:
		return nil
	}
}
