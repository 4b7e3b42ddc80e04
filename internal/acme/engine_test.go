package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/adamscao/acmeserver/internal/ca"
	"github.com/adamscao/acmeserver/internal/config"
	"github.com/adamscao/acmeserver/internal/models"
	"github.com/adamscao/acmeserver/internal/nonce"
	"github.com/adamscao/acmeserver/internal/store"
)

func testCA(t *testing.T) *ca.CA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("self-sign CA cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA cert: %v", err)
	}
	return ca.New(&ca.KeyPair{PrivateKey: key, Cert: cert, KeyType: "ecdsa"})
}

func testEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "example.com"
	cfg.Server.Port = 443
	cfg.Server.Scheme = "https"
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, store.New(), testCA(t), nonce.New())
}

func signJWS(t *testing.T, e *Engine, key *ecdsa.PrivateKey, path, kid string, payload any) string {
	t.Helper()
	url := e.EffectiveURL(path)
	n := e.Transport.Nonces.Issue()
	extra := map[jose.HeaderKey]any{"url": url, "nonce": n}
	opts := &jose.SignerOptions{ExtraHeaders: extra}
	signingKey := jose.SigningKey{Algorithm: jose.ES256}
	if kid == "" {
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

func asMap(t *testing.T, body any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return m
}

func TestDirectoryIncludesTermsOfService(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Terms = "https://example.com/terms" })
	dir := e.Directory()
	meta, ok := dir["meta"].(map[string]any)
	if !ok {
		t.Fatal("expected a meta object in the directory")
	}
	if meta["terms-of-service"] != "https://example.com/terms" {
		t.Fatalf("expected terms-of-service to be set, got %v", meta)
	}
	if _, ok := dir["newAccount"]; !ok {
		t.Fatal("expected a newAccount entry")
	}
}

func TestNewAccountHappyPath(t *testing.T) {
	e := testEngine(t, nil)
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	body := signJWS(t, e, key, "/new-acct", "", map[string]any{"contact": []string{"mailto:a@example.com"}})
	req, problem := e.Transport.Verify([]byte(body), e.EffectiveURL("/new-acct"))
	if problem != nil {
		t.Fatalf("verify failed: %+v", problem)
	}

	resp := e.NewAccount(req)
	if resp.Status != 201 {
		t.Fatalf("expected 201, got %d", resp.Status)
	}
	loc := resp.Headers["Location"]
	if !regexp.MustCompile(`.*/reg/.+$`).MatchString(loc) {
		t.Fatalf("expected Location to match .*/reg/<thumbprint>, got %q", loc)
	}
	m := asMap(t, resp.Body)
	if m["status"] != "good" {
		t.Fatalf("expected status good, got %v", m["status"])
	}
}

func TestDuplicateRegistrationReturns200InDraftMode(t *testing.T) {
	e := testEngine(t, nil)
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	body1 := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	req1, _ := e.Transport.Verify([]byte(body1), e.EffectiveURL("/new-acct"))
	first := e.NewAccount(req1)
	if first.Status != 201 {
		t.Fatalf("expected first registration to be 201, got %d", first.Status)
	}

	body2 := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	req2, _ := e.Transport.Verify([]byte(body2), e.EffectiveURL("/new-acct"))
	second := e.NewAccount(req2)
	if second.Status != 200 {
		t.Fatalf("expected duplicate registration to be 200, got %d", second.Status)
	}
	if second.Headers["Location"] != first.Headers["Location"] {
		t.Fatalf("expected duplicate registration to point at the original, got %q vs %q",
			second.Headers["Location"], first.Headers["Location"])
	}
}

func TestDuplicateRegistrationReturns409InLegacyMode(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Version = "le" })
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	body1 := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	req1, _ := e.Transport.Verify([]byte(body1), e.EffectiveURL("/new-acct"))
	e.NewAccount(req1)

	body2 := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	req2, _ := e.Transport.Verify([]byte(body2), e.EffectiveURL("/new-acct"))
	second := e.NewAccount(req2)
	if second.Status != 409 {
		t.Fatalf("expected 409 in legacy mode, got %d", second.Status)
	}
}

func TestUpdateAccountRejectsWrongAgreement(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Terms = "https://example.com/terms" })
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	body := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	req, _ := e.Transport.Verify([]byte(body), e.EffectiveURL("/new-acct"))
	e.NewAccount(req)

	updateBody := signJWS(t, e, key, "/reg/"+req.Thumbprint, "", map[string]any{"agreement": "https://wrong"})
	updateReq, _ := e.Transport.Verify([]byte(updateBody), e.EffectiveURL("/reg/"+req.Thumbprint))
	resp := e.UpdateAccount(updateReq, req.Thumbprint)
	if resp.Status != 400 {
		t.Fatalf("expected 400 malformed, got %d", resp.Status)
	}
}

func TestDeactivatedAccountIsRejectedOnSubsequentRequests(t *testing.T) {
	e := testEngine(t, nil)
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	acctBody := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	acctReq, _ := e.Transport.Verify([]byte(acctBody), e.EffectiveURL("/new-acct"))
	e.NewAccount(acctReq)

	deactivateBody := signJWS(t, e, key, "/reg/"+acctReq.Thumbprint, "", map[string]any{"status": "deactivated"})
	deactivateReq, _ := e.Transport.Verify([]byte(deactivateBody), e.EffectiveURL("/reg/"+acctReq.Thumbprint))
	deactivateResp := e.UpdateAccount(deactivateReq, acctReq.Thumbprint)
	if deactivateResp.Status != 200 {
		t.Fatalf("expected 200 from deactivation, got %d", deactivateResp.Status)
	}

	// A still-valid JWS signed with the embedded jwk (not kid) for a now
	// deactivated account must be rejected, not just kid-based auth.
	newAppBody := signJWS(t, e, key, "/new-app", "", map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": "example.com"}},
	})
	newAppReq, _ := e.Transport.Verify([]byte(newAppBody), e.EffectiveURL("/new-app"))
	resp := e.NewApplication(newAppReq)
	if resp.Status != 401 {
		t.Fatalf("expected 401 for a deactivated account, got %d", resp.Status)
	}
}

func TestAuthorizationForSkipsReuseOfDeactivatedAuthorization(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Challenges.Auto = true })

	authz := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/1")
	authz.Status = models.AuthzStatusDeactivated
	e.Store.Put(authz)

	reused := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/2")
	if reused.ID() == authz.ID() {
		t.Fatal("expected a deactivated authorization not to be reused")
	}
}

func TestScopedAuthorizationsPinEachOrderToItsOwnAuthorization(t *testing.T) {
	e := testEngine(t, func(c *config.Config) {
		c.ACME.Challenges.Auto = true
		c.ACME.ScopedAuthorizations = true
	})

	first := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/1")
	second := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/2")
	if first.ID() == second.ID() {
		t.Fatal("expected scoped authorizations not to be reused across orders")
	}

	// Within the same order, the pinned authorization is still reused.
	again := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/1")
	if again.ID() != first.ID() {
		t.Fatal("expected the scoped authorization to be reused within its own order")
	}
}

func TestUnscopedAuthorizationsAreSharedAcrossOrders(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Challenges.Auto = true })

	first := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/1")
	second := e.authorizationFor("thumb-1", "example.com", "https://example.com/app/2")
	if first.ID() != second.ID() {
		t.Fatal("expected unscoped authorizations to be reused across orders")
	}
}

func TestOrderToCertificateWithAutoChallenge(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Challenges.Auto = true })
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	acctBody := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	acctReq, _ := e.Transport.Verify([]byte(acctBody), e.EffectiveURL("/new-acct"))
	e.NewAccount(acctReq)

	newAppBody := signJWS(t, e, key, "/new-app", "", map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": "example.com"}},
	})
	newAppReq, _ := e.Transport.Verify([]byte(newAppBody), e.EffectiveURL("/new-app"))
	orderResp := e.NewApplication(newAppReq)
	if orderResp.Status != 201 {
		t.Fatalf("expected 201 creating the order, got %d", orderResp.Status)
	}
	orderMap := asMap(t, orderResp.Body)
	if orderMap["status"] != "pending" {
		t.Fatalf("expected pending order, got %v", orderMap["status"])
	}
	requirements, _ := orderMap["requirements"].([]any)
	if len(requirements) != 1 {
		t.Fatalf("expected exactly one authorization requirement, got %d", len(requirements))
	}
	requirement := requirements[0].(map[string]any)
	authzURL := requirement["url"].(string)
	authzID := lastPathSegment(authzURL)

	challengeBody := signJWS(t, e, key, "/authz/"+authzID+"/0", "", map[string]any{})
	challengeReq, _ := e.Transport.Verify([]byte(challengeBody), e.EffectiveURL("/authz/"+authzID+"/0"))
	challengeResp := e.UpdateAuthorization(challengeReq, authzID, 0)
	if challengeResp.Status != 200 {
		t.Fatalf("expected 200 from challenge update, got %d", challengeResp.Status)
	}
	challengeMap := asMap(t, challengeResp.Body)
	if challengeMap["status"] != "valid" {
		t.Fatalf("expected challenge to become valid, got %v", challengeMap["status"])
	}

	orderID := lastPathSegment(orderResp.Headers["Location"])
	refreshed := e.GetOrder(orderID)
	refreshedMap := asMap(t, refreshed.Body)
	if refreshedMap["status"] != "ready" {
		t.Fatalf("expected order to become ready, got %v", refreshedMap["status"])
	}

	csr := buildTestCSR(t, "example.com", nil)
	finalizeBody := signJWS(t, e, key, "/app/"+orderID+"/finalize", "", map[string]any{"csr": csr})
	finalizeReq, _ := e.Transport.Verify([]byte(finalizeBody), e.EffectiveURL("/app/"+orderID+"/finalize"))
	finalizeResp := e.Finalize(finalizeReq, orderID)
	if finalizeResp.Status != 201 {
		t.Fatalf("expected 201 from finalize, got %d", finalizeResp.Status)
	}
	finalizeMap := asMap(t, finalizeResp.Body)
	if finalizeMap["status"] != "valid" {
		t.Fatalf("expected order to become valid, got %v", finalizeMap["status"])
	}
	certURL, _ := finalizeMap["certificate"].(string)
	if certURL == "" {
		t.Fatal("expected a certificate URL to be set")
	}

	certID := lastPathSegment(certURL)
	getCertBody := signJWS(t, e, key, "/cert/"+certID, "", map[string]any{})
	getCertReq, _ := e.Transport.Verify([]byte(getCertBody), e.EffectiveURL("/cert/"+certID))
	certResp := e.GetCertificate(getCertReq, certID)
	der, ok := certResp.Body.([]byte)
	if !ok || len(der) == 0 || der[0] != 0x30 {
		t.Fatalf("expected DER bytes starting with 0x30, got %v", certResp.Body)
	}
}

func TestFinalizeWithMalformedCSRRevertsToReady(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Challenges.Auto = true })
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	acctBody := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	acctReq, _ := e.Transport.Verify([]byte(acctBody), e.EffectiveURL("/new-acct"))
	e.NewAccount(acctReq)

	newAppBody := signJWS(t, e, key, "/new-app", "", map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": "example.com"}},
	})
	newAppReq, _ := e.Transport.Verify([]byte(newAppBody), e.EffectiveURL("/new-app"))
	orderResp := e.NewApplication(newAppReq)
	orderMap := asMap(t, orderResp.Body)
	requirements := orderMap["requirements"].([]any)
	authzID := lastPathSegment(requirements[0].(map[string]any)["url"].(string))

	challengeBody := signJWS(t, e, key, "/authz/"+authzID+"/0", "", map[string]any{})
	challengeReq, _ := e.Transport.Verify([]byte(challengeBody), e.EffectiveURL("/authz/"+authzID+"/0"))
	e.UpdateAuthorization(challengeReq, authzID, 0)

	orderID := lastPathSegment(orderResp.Headers["Location"])

	csr := buildTestCSR(t, "example.com", []net.IP{net.ParseIP("127.0.0.1")})
	finalizeBody := signJWS(t, e, key, "/app/"+orderID+"/finalize", "", map[string]any{"csr": csr})
	finalizeReq, _ := e.Transport.Verify([]byte(finalizeBody), e.EffectiveURL("/app/"+orderID+"/finalize"))
	finalizeResp := e.Finalize(finalizeReq, orderID)
	if finalizeResp.Status != 400 {
		t.Fatalf("expected 400 malformed for a bad CSR, got %d", finalizeResp.Status)
	}

	reverted := e.GetOrder(orderID)
	revertedMap := asMap(t, reverted.Body)
	if revertedMap["status"] != "ready" {
		t.Fatalf("expected the order to revert to ready, got %v", revertedMap["status"])
	}
	if revertedMap["certificate"] != nil {
		t.Fatal("expected no certificate to have been created")
	}
}

func TestFinalizeRejectsOrderThatIsNotReady(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Challenges.Auto = true })
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	acctBody := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	acctReq, _ := e.Transport.Verify([]byte(acctBody), e.EffectiveURL("/new-acct"))
	e.NewAccount(acctReq)

	newAppBody := signJWS(t, e, key, "/new-app", "", map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": "example.com"}},
	})
	newAppReq, _ := e.Transport.Verify([]byte(newAppBody), e.EffectiveURL("/new-app"))
	orderResp := e.NewApplication(newAppReq)
	orderID := lastPathSegment(orderResp.Headers["Location"])

	// The order's single authorization is still pending: no challenge
	// has been validated, so the order can never be ready yet.
	csr := buildTestCSR(t, "example.com", nil)
	finalizeBody := signJWS(t, e, key, "/app/"+orderID+"/finalize", "", map[string]any{"csr": csr})
	finalizeReq, _ := e.Transport.Verify([]byte(finalizeBody), e.EffectiveURL("/app/"+orderID+"/finalize"))
	finalizeResp := e.Finalize(finalizeReq, orderID)
	if finalizeResp.Status != 403 {
		t.Fatalf("expected 403 orderNotReady for a pending order, got %d", finalizeResp.Status)
	}
}

func TestFinalizeRejectsCSRNameNotCoveredByTheOrder(t *testing.T) {
	e := testEngine(t, func(c *config.Config) { c.ACME.Challenges.Auto = true })
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	acctBody := signJWS(t, e, key, "/new-acct", "", map[string]any{})
	acctReq, _ := e.Transport.Verify([]byte(acctBody), e.EffectiveURL("/new-acct"))
	e.NewAccount(acctReq)

	newAppBody := signJWS(t, e, key, "/new-app", "", map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": "example.com"}},
	})
	newAppReq, _ := e.Transport.Verify([]byte(newAppBody), e.EffectiveURL("/new-app"))
	orderResp := e.NewApplication(newAppReq)
	orderMap := asMap(t, orderResp.Body)
	requirements := orderMap["requirements"].([]any)
	authzID := lastPathSegment(requirements[0].(map[string]any)["url"].(string))

	challengeBody := signJWS(t, e, key, "/authz/"+authzID+"/0", "", map[string]any{})
	challengeReq, _ := e.Transport.Verify([]byte(challengeBody), e.EffectiveURL("/authz/"+authzID+"/0"))
	e.UpdateAuthorization(challengeReq, authzID, 0)

	orderID := lastPathSegment(orderResp.Headers["Location"])

	// The CSR names a DNS identifier the order never requested.
	csr := buildTestCSR(t, "other.example.com", nil)
	finalizeBody := signJWS(t, e, key, "/app/"+orderID+"/finalize", "", map[string]any{"csr": csr})
	finalizeReq, _ := e.Transport.Verify([]byte(finalizeBody), e.EffectiveURL("/app/"+orderID+"/finalize"))
	finalizeResp := e.Finalize(finalizeReq, orderID)
	if finalizeResp.Status != 400 {
		t.Fatalf("expected 400 rejectedIdentifier for an uncovered CSR name, got %d", finalizeResp.Status)
	}

	reverted := e.GetOrder(orderID)
	revertedMap := asMap(t, reverted.Body)
	if revertedMap["status"] != "ready" {
		t.Fatalf("expected the order to remain ready, got %v", revertedMap["status"])
	}
}

// buildTestCSR signs a CSR for name, optionally embedding IP SANs which
// the policy validator rejects (only dNSName is allowed).
func buildTestCSR(t *testing.T, name string, ips []net.IP) string {
	t.Helper()
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	template := &x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: name},
		IPAddresses: ips,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		t.Fatalf("create CSR: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(der)
}
