package errfmt

import (
	"errors"
	"strings"
	"testing"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

func TestFormatNotFoundIncludesPackageSuggestion(t *testing.T) {
	err := pkgerr.NotFound("jq")
	out := Format(err, &Context{PackageName: "jq"})
	if !strings.Contains(out, "apl search jq") {
		t.Fatalf("expected package-specific suggestion, got %q", out)
	}
}

func TestFormatCircularDependency(t *testing.T) {
	err := pkgerr.CircularDependency("a")
	out := Format(err, nil)
	if !strings.Contains(out, "Report the cycle") {
		t.Fatalf("expected circular dependency guidance, got %q", out)
	}
}

func TestFormatNilReturnsEmpty(t *testing.T) {
	if out := Format(nil, nil); out != "" {
		t.Fatalf("expected empty string for nil error, got %q", out)
	}
}

func TestFormatGenericNetworkMessage(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	out := Format(err, nil)
	if !strings.Contains(out, "Network connectivity issue") {
		t.Fatalf("expected network guidance, got %q", out)
	}
}

func TestFormatUnwrapsWrappedTaxonomyError(t *testing.T) {
	wrapped := pkgerr.Wrap(pkgerr.KindSigning, "index", "signature mismatch", errors.New("bad sig"))
	out := Format(wrapped, nil)
	if !strings.Contains(out, "public key") {
		t.Fatalf("expected signing guidance, got %q", out)
	}
}
