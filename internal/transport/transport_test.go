package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"

	"github.com/adamscao/acmeserver/internal/nonce"
)

func sign(t *testing.T, key *ecdsa.PrivateKey, url, nonceTok string, embedJWK bool, kid string, payload any) string {
	t.Helper()
	extra := map[jose.HeaderKey]any{"url": url, "nonce": nonceTok}

	opts := &jose.SignerOptions{ExtraHeaders: extra}
	signingKey := jose.SigningKey{Algorithm: jose.ES256}
	if embedJWK {
		opts.EmbedJWK = true
		signingKey.Key = key
	} else {
		signingKey.Key = &jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: "ES256"}
	}

	signer, err := jose.NewSigner(signingKey, opts)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	jws, err := signer.Sign(body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return jws.FullSerialize()
}

func TestVerifyAcceptsEmbeddedJWKWithMatchingURL(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	nonces := nonce.New()
	tr := New(IETFDraft, nonces, func(string) (*jose.JSONWebKey, bool) { return nil, false })

	url := "https://example.com/new-acct"
	n := nonces.Issue()
	body := sign(t, key, url, n, true, "", map[string]any{"contact": []string{"mailto:a@example.com"}})

	req, problem := tr.Verify([]byte(body), url)
	if problem != nil {
		t.Fatalf("unexpected problem: %+v", problem)
	}
	if req.Thumbprint == "" {
		t.Fatal("expected a non-empty thumbprint")
	}
	if req.Payload["contact"] == nil {
		t.Fatal("expected the payload to be attached to the request")
	}
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	nonces := nonce.New()
	tr := New(IETFDraft, nonces, nil)

	url := "https://example.com/new-acct"
	n := nonces.Issue()
	body := sign(t, key, url, n, true, "", map[string]any{})

	if _, problem := tr.Verify([]byte(body), url); problem != nil {
		t.Fatalf("unexpected problem on first use: %+v", problem)
	}
	if _, problem := tr.Verify([]byte(body), url); problem == nil {
		t.Fatal("expected the replayed nonce to fail")
	}
}

func TestVerifyRejectsMismatchedURL(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	nonces := nonce.New()
	tr := New(IETFDraft, nonces, nil)

	n := nonces.Issue()
	body := sign(t, key, "https://example.com/new-acct", n, true, "", map[string]any{})

	if _, problem := tr.Verify([]byte(body), "https://example.com/other"); problem == nil {
		t.Fatal("expected a URL mismatch to fail")
	}
}

func TestVerifyResolvesKidViaLookup(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	jwk := &jose.JSONWebKey{Key: &key.PublicKey, Algorithm: "ES256"}
	nonces := nonce.New()
	tr := New(IETFDraft, nonces, func(kid string) (*jose.JSONWebKey, bool) {
		if kid == "https://example.com/reg/abc" {
			return jwk, true
		}
		return nil, false
	})

	url := "https://example.com/reg/abc"
	n := nonces.Issue()
	body := sign(t, key, url, n, false, "https://example.com/reg/abc", map[string]any{})

	req, problem := tr.Verify([]byte(body), url)
	if problem != nil {
		t.Fatalf("unexpected problem: %+v", problem)
	}
	if req.KeyID != "https://example.com/reg/abc" {
		t.Fatalf("expected KeyID to be set, got %q", req.KeyID)
	}
}

func TestVerifyFailsOnUnknownKid(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	nonces := nonce.New()
	tr := New(IETFDraft, nonces, func(string) (*jose.JSONWebKey, bool) { return nil, false })

	url := "https://example.com/reg/abc"
	n := nonces.Issue()
	body := sign(t, key, url, n, false, "https://example.com/reg/abc", map[string]any{})

	if _, problem := tr.Verify([]byte(body), url); problem == nil {
		t.Fatal("expected an unknown kid to fail")
	}
}
