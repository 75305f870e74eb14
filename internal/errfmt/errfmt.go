// Package errfmt formats apl errors for CLI display: the taxonomy error
// plus possible causes and suggestions. Unlike pkgerr, this package is
// allowed to match on error kind and even message text purely for
// presentation — it never feeds a decision back into program logic.
package errfmt

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// Context carries optional hints (the package name in play) used to
// tailor suggestions.
type Context struct {
	PackageName string
}

// Format returns err's message plus possible causes and suggestions for
// display to an end user. Pass nil ctx for generic formatting.
func Format(err error, ctx *Context) string {
	if err == nil {
		return ""
	}

	var taxErr *pkgerr.Error
	if errors.As(err, &taxErr) {
		return formatTaxonomyError(taxErr, ctx)
	}

	msg := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) {
		return formatNetworkError(netErr)
	}
	if isNetworkMessage(msg) {
		return formatGenericNetwork(msg)
	}

	return msg
}

func formatTaxonomyError(err *pkgerr.Error, ctx *Context) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	switch err.Kind {
	case pkgerr.KindNetwork:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Network connectivity issue\n")
		sb.WriteString("  - Upstream or mirror temporarily unavailable\n")
		sb.WriteString("  - GitHub API rate limit exceeded\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check your internet connection\n")
		sb.WriteString("  - Set GITHUB_TOKEN to increase the rate limit\n")
		sb.WriteString("  - Try again in a few minutes\n")

	case pkgerr.KindNotFound:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The package or version does not exist in the index\n")
		sb.WriteString("  - Typo in the package name\n")
		sb.WriteString("\nSuggestions:\n")
		if ctx != nil && ctx.PackageName != "" {
			sb.WriteString(fmt.Sprintf("  - Run 'apl search %s' to see similarly named packages\n", ctx.PackageName))
			sb.WriteString(fmt.Sprintf("  - Run 'apl info %s' to see available versions\n", ctx.PackageName))
		} else {
			sb.WriteString("  - Run 'apl search <name>' to find the package\n")
		}

	case pkgerr.KindIntegrity:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Upstream asset changed after the index was published\n")
		sb.WriteString("  - Corrupted download\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Run 'apl update' to refresh the index\n")
		sb.WriteString("  - Retry the install; transient corruption is rare but possible\n")

	case pkgerr.KindCircularDependency:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Two or more templates declare each other as dependencies\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Report the cycle to the registry maintainer\n")

	case pkgerr.KindVersionMismatch:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The index was published by a newer version of apl\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Upgrade apl to the latest release\n")

	case pkgerr.KindBuild:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The hermetic build script failed\n")
		sb.WriteString("  - A build dependency is missing from the sysroot\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Re-run with a clean store to rule out a stale sysroot\n")
		sb.WriteString("  - Inspect the build log tail printed above\n")

	case pkgerr.KindSigning:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Index signature does not match the configured public key\n")
		sb.WriteString("  - Index was tampered with in transit\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Re-download the index from a trusted mirror\n")

	default:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again in a few minutes\n")
	}

	return sb.String()
}

func formatNetworkError(err net.Error) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n\nPossible causes:\n")
	if err.Timeout() {
		sb.WriteString("  - Request timed out\n")
		sb.WriteString("  - Slow or unstable network connection\n")
	} else {
		sb.WriteString("  - Network connectivity issue\n")
		sb.WriteString("  - DNS resolution failure\n")
	}
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")
	return sb.String()
}

func formatGenericNetwork(msg string) string {
	var sb strings.Builder
	sb.WriteString(msg)
	sb.WriteString("\n\nPossible causes:\n")
	sb.WriteString("  - Network connectivity issue\n")
	sb.WriteString("  - Service temporarily unavailable\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")
	return sb.String()
}

func isNetworkMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "dial tcp") ||
		strings.Contains(lower, "i/o timeout")
}
