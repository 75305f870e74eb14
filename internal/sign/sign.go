// Package sign detached-signs apl's binary index with ed25519. It wraps
// crypto/ed25519 directly rather than pulling in a signing library, since
// the standard library already implements the primitive apl needs.
package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// GenerateKey creates a new ed25519 keypair for signing published indexes.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, pkgerr.Wrap(pkgerr.KindSigning, "", "generating keypair", err)
	}
	return pub, priv, nil
}

// Sign produces a detached signature over data using priv.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid ed25519 signature over data under
// pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}

// EncodeKey base64-encodes a key for storage in APL_SIGNING_KEY or a
// published public-key file.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodePrivateKey parses a base64-encoded ed25519 private key, as read
// from the APL_SIGNING_KEY environment variable.
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindSigning, "", "decoding signing key", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, pkgerr.New(pkgerr.KindSigning, "", fmt.Sprintf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw)))
	}
	return ed25519.PrivateKey(raw), nil
}

// DecodePublicKey parses a base64-encoded ed25519 public key.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindSigning, "", "decoding public key", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, pkgerr.New(pkgerr.KindSigning, "", fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw)))
	}
	return ed25519.PublicKey(raw), nil
}
