// Package transport implements the authenticated-transport layer
// (C3): parse a flattened JWS, verify its signature, enforce
// version-specific ACME header rules, and bind the resolved account
// key and thumbprint onto the request for the protocol engine.
//
// The verification flow is modeled on letsencrypt/boulder's wfe2
// validPOST* helpers, reordered so that every header check runs before
// any key work (parse header -> check url -> consume nonce -> resolve
// key -> verify signature), and adapted to this core's single dialect
// switch instead of boulder's v1/v2 split.
package transport

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-jose/go-jose/v4"

	"github.com/adamscao/acmeserver/internal/nonce"
	"github.com/adamscao/acmeserver/internal/problems"
	"github.com/adamscao/acmeserver/pkg/thumbprint"
)

// Dialect selects the header rules that differ between the legacy and
// IETF-draft ACME variants.
type Dialect int

const (
	IETFDraft Dialect = iota
	Legacy
)

// minRSAModulusBitsLegacy is the legacy-mode minimum account key size
// per spec.md §4.2.
const minRSAModulusBitsLegacy = 2048

var allowedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.ES256, jose.ES384, jose.ES512,
}

// LookupKeyFunc resolves a kid (account URL) to the JWK that signed for
// it. A miss must return ok=false.
type LookupKeyFunc func(kid string) (*jose.JSONWebKey, bool)

// Request is everything a handler needs after successful transport
// validation.
type Request struct {
	Payload    map[string]any
	RawPayload []byte
	AccountKey *jose.JSONWebKey
	Thumbprint string
	KeyID      string // non-empty iff the request used kid auth
}

// Transport validates inbound signed ACME requests.
type Transport struct {
	Dialect   Dialect
	Nonces    *nonce.Pool
	LookupKey LookupKeyFunc
}

func New(dialect Dialect, nonces *nonce.Pool, lookup LookupKeyFunc) *Transport {
	return &Transport{Dialect: dialect, Nonces: nonces, LookupKey: lookup}
}

// flattenedJWS is the wire shape of a flattened JSON Web Signature.
type flattenedJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type protectedHeader struct {
	Alg   string          `json:"alg"`
	JWK   json.RawMessage `json:"jwk,omitempty"`
	Kid   string          `json:"kid,omitempty"`
	Nonce string          `json:"nonce"`
	URL   string          `json:"url,omitempty"`
}

// Verify parses and verifies a flattened JWS body against the request's
// effective URL, returning the authenticated Request or a problem.
func (t *Transport) Verify(body []byte, effectiveURL string) (*Request, *problems.Problem) {
	var flat flattenedJWS
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, problems.Malformed("Parse error reading JWS")
	}
	if flat.Protected == "" || flat.Signature == "" {
		return nil, problems.Malformed("JWS missing protected header or signature")
	}

	headerBytes, err := base64URLDecode(flat.Protected)
	if err != nil {
		return nil, problems.Malformed("protected header is not valid base64url")
	}
	var header protectedHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, problems.Malformed("protected header is not valid JSON")
	}

	if header.Alg == "" {
		return nil, problems.Malformed("JWS header field 'alg' is required")
	}
	hasJWK := len(header.JWK) > 0
	hasKid := header.Kid != ""
	if hasJWK == hasKid {
		return nil, problems.Malformed("JWS header must contain exactly one of 'jwk' or 'kid'")
	}

	if t.Dialect == IETFDraft {
		if header.URL == "" {
			return nil, problems.Malformed("JWS header field 'url' is required")
		}
		if header.URL != effectiveURL {
			return nil, problems.Malformed(fmt.Sprintf(
				"JWS header parameter 'url' incorrect. Expected %q got %q", effectiveURL, header.URL))
		}
	}

	if !t.Nonces.Consume(header.Nonce) {
		return nil, problems.BadNonce(fmt.Sprintf("JWS has an invalid anti-replay nonce: %q", header.Nonce))
	}

	var key *jose.JSONWebKey
	var keyID string
	if hasJWK {
		key = &jose.JSONWebKey{}
		if err := key.UnmarshalJSON(header.JWK); err != nil || !key.Valid() {
			return nil, problems.Malformed("invalid JWK in JWS header")
		}
	} else {
		keyID = header.Kid
		resolved, ok := t.LookupKey(header.Kid)
		if !ok {
			return nil, problems.AccountDoesNotExist(fmt.Sprintf("account %q not found", header.Kid))
		}
		key = resolved
	}

	if t.Dialect == Legacy {
		if rsaKey, ok := key.Key.(*rsa.PublicKey); ok {
			if rsaKey.N.BitLen() < minRSAModulusBitsLegacy {
				return nil, problems.Malformed(fmt.Sprintf(
					"account key modulus too small: %d bits, want >= %d", rsaKey.N.BitLen(), minRSAModulusBitsLegacy))
			}
		}
	}

	parsedJWS, err := jose.ParseSigned(string(body), allowedAlgorithms)
	if err != nil {
		return nil, problems.Malformed("Parse error reading JWS")
	}
	if len(parsedJWS.Signatures) != 1 {
		return nil, problems.Malformed("JWS must have exactly one signature")
	}

	rawPayload, err := parsedJWS.Verify(key)
	if err != nil {
		return nil, problems.Malformed("JWS verification error")
	}

	payload := map[string]any{}
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &payload); err != nil {
			return nil, problems.Malformed("request payload did not parse as JSON")
		}
	}

	thumb, err := thumbprint.Hex(key)
	if err != nil {
		return nil, problems.ServerInternal("unable to compute key thumbprint")
	}

	return &Request{
		Payload:    payload,
		RawPayload: rawPayload,
		AccountKey: key,
		Thumbprint: thumb,
		KeyID:      keyID,
	}, nil
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// EffectiveURL reconstructs the URL a client would have signed over,
// matching the corpus convention (boulder's validPOSTURL) of scheme +
// host + request path.
func EffectiveURL(scheme, host, path string) string {
	u := url.URL{Scheme: scheme, Host: host, Path: path}
	return u.String()
}
