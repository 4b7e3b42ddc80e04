// Package thumbprint computes the hex-encoded SHA-256 JWK thumbprint
// used as an ACME account id, following the same shape as the
// teacher's SSH fingerprint helper (hash the key material, encode it)
// but over a JWK's canonical JSON form per RFC 7638 instead of an SSH
// wire-format key.
package thumbprint

import (
	"crypto"
	"encoding/hex"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Hex returns the hex-encoded SHA-256 thumbprint of jwk.
func Hex(jwk *jose.JSONWebKey) (string, error) {
	if jwk == nil {
		return "", fmt.Errorf("thumbprint: nil JWK")
	}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("thumbprint: %w", err)
	}
	return hex.EncodeToString(sum), nil
}
