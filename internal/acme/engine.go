// Package acme implements the Protocol Engine (C7): the ACME object
// lifecycle operations, wired atop the store, nonce pool, transport
// layer, policy validator and CA. Grounded on the teacher's
// internal/api/handlers package for the request/response shape of a
// stateful, store-backed handler, generalized from SSH cert issuance
// to the ACME state machine.
package acme

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/adamscao/acmeserver/internal/ca"
	"github.com/adamscao/acmeserver/internal/config"
	"github.com/adamscao/acmeserver/internal/models"
	"github.com/adamscao/acmeserver/internal/nonce"
	"github.com/adamscao/acmeserver/internal/policy"
	"github.com/adamscao/acmeserver/internal/problems"
	"github.com/adamscao/acmeserver/internal/store"
	"github.com/adamscao/acmeserver/internal/transport"
	"github.com/adamscao/acmeserver/internal/urls"
	"github.com/adamscao/acmeserver/pkg/dns01"
)

// Engine owns the server's lifecycle logic. Its only shared mutable
// state is the Store; the CA's serial counter and the Nonce Pool are
// independently serialized by their own types.
type Engine struct {
	Config    *config.Config
	Store     *store.Store
	CA        *ca.CA
	Transport *transport.Transport
	// DNS01 is nil unless the operator enabled acme.challenges.dns01 and
	// configured resolvers; see authorizationFor.
	DNS01     *dns01.Validator
	BaseURL   string
	originURL string // scheme://host[:port], no basePath
}

// New wires the engine together, including the transport's kid lookup
// callback which resolves an account URL back to its JWK.
func New(cfg *config.Config, st *store.Store, signer *ca.CA, nonces *nonce.Pool) *Engine {
	e := &Engine{
		Config:    cfg,
		Store:     st,
		CA:        signer,
		BaseURL:   urls.Base(cfg.Server.Scheme, cfg.Server.Host, cfg.Server.Port, cfg.Server.BasePath),
		originURL: urls.Base(cfg.Server.Scheme, cfg.Server.Host, cfg.Server.Port, ""),
	}
	dialect := transport.IETFDraft
	if cfg.IsLegacy() {
		dialect = transport.Legacy
	}
	e.Transport = transport.New(dialect, nonces, e.lookupKey)

	if cfg.ACME.Challenges.DNS01 && len(cfg.ACME.DNS01Resolvers) > 0 {
		e.DNS01 = dns01.New(cfg.ACME.DNS01Resolvers)
	}
	return e
}

func (e *Engine) lookupKey(kid string) (*jose.JSONWebKey, bool) {
	id := lastPathSegment(kid)
	reg, ok := e.Store.GetRegistration(id)
	if !ok || reg.Status != models.RegStatusGood {
		return nil, false
	}
	return reg.Key, true
}

// accountIsGood reports whether thumbprint names a registration in good
// standing. Every authenticated operation other than new-account,
// update-account itself and get-order gates on this, not just existence, so a
// deactivated account (embedded-jwk requests bypass lookupKey's own
// status check) loses access the same way an unknown key would.
func (e *Engine) accountIsGood(thumbprint string) bool {
	reg, ok := e.Store.GetRegistration(thumbprint)
	return ok && reg.Status == models.RegStatusGood
}

func lastPathSegment(p string) string {
	p = strings.TrimRight(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func (e *Engine) objectURL(typeTag, id string) string {
	return urls.Object(e.BaseURL, typeTag, id)
}

// IssueNonce produces a fresh Replay-Nonce for any response.
func (e *Engine) IssueNonce() string {
	return e.Transport.Nonces.Issue()
}

// EffectiveURL reconstructs the URL a client must have signed over for
// a request against requestPath (which already includes basePath, as
// gin reports it).
func (e *Engine) EffectiveURL(requestPath string) string {
	return e.originURL + requestPath
}

// Directory builds the endpoint map per spec.md §4.6.
func (e *Engine) Directory() map[string]any {
	dir := map[string]any{
		"newAccount": e.BaseURL + "/new-acct",
		"newOrder":   e.BaseURL + "/new-app",
		"newAuthz":   e.BaseURL + "/authz",
		"newNonce":   e.BaseURL + "/new-nonce",
	}
	if e.Config.ACME.Terms != "" {
		dir["meta"] = map[string]any{"terms-of-service": e.Config.ACME.Terms}
	}
	return dir
}

// --- Accounts -------------------------------------------------------

// Response is a generic (status, headers, body) tuple the HTTP layer
// translates directly into a gin response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
}

func problemResponse(p *problems.Problem) Response {
	return Response{Status: p.HTTPStatus, Body: p}
}

// NewAccount implements new-reg/new-acct.
func (e *Engine) NewAccount(req *transport.Request) Response {
	if _, ok := req.Payload["externalAccountBinding"]; ok {
		return problemResponse(problems.Malformed("externalAccountBinding is not supported"))
	}

	if existing, ok := e.Store.GetRegistration(req.Thumbprint); ok {
		status := 200
		if e.Config.IsLegacy() {
			status = 409
		}
		return Response{
			Status:  status,
			Headers: map[string]string{"Location": e.objectURL(models.TypeRegistration, existing.ID())},
		}
	}

	contact, _ := stringSlice(req.Payload["contact"])
	reg := models.NewRegistration(req.Thumbprint, req.AccountKey, contact)
	reg.OrdersURL = e.objectURL(models.TypeRegistration, reg.ID()) + "/orders"
	e.Store.Put(reg)

	headers := map[string]string{"Location": e.objectURL(models.TypeRegistration, reg.ID())}
	if e.Config.ACME.Terms != "" {
		headers["Link"] = fmt.Sprintf(`<%s>; rel="terms-of-service"`, e.Config.ACME.Terms)
	}
	return Response{Status: 201, Headers: headers, Body: reg.Marshal()}
}

// UpdateAccount implements update-reg.
func (e *Engine) UpdateAccount(req *transport.Request, id string) Response {
	reg, ok := e.Store.GetRegistration(req.Thumbprint)
	if !ok || id != req.Thumbprint {
		return problemResponse(problems.Unauthorized("no registration matches the signing key"))
	}

	if status, ok := req.Payload["status"].(string); ok && status == models.RegStatusDeactivated {
		reg.Status = models.RegStatusDeactivated
		e.Store.Put(reg)
		return Response{Status: 200, Body: reg.Marshal()}
	}

	if contact, present := req.Payload["contact"]; present {
		cs, err := stringSlice(contact)
		if err != nil {
			return problemResponse(problems.Malformed("contact must be an array of strings"))
		}
		reg.Contact = cs
	}
	if agreement, present := req.Payload["agreement"]; present {
		agreementStr, _ := agreement.(string)
		if e.Config.ACME.Terms == "" || agreementStr != e.Config.ACME.Terms {
			return problemResponse(problems.Malformed("agreement does not match the server's terms of service"))
		}
		reg.Agreement = agreementStr
	}

	e.Store.Put(reg)
	return Response{Status: 200, Body: reg.Marshal()}
}

// ListOrders implements the supplemented per-account orders listing.
func (e *Engine) ListOrders(regID string) Response {
	reg, ok := e.Store.GetRegistration(regID)
	if !ok {
		return problemResponse(problems.AccountDoesNotExist("no such registration"))
	}
	apps := e.Store.ApplicationsFor(reg.Thumbprint)
	ids := make([]string, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, e.objectURL(models.TypeApplication, app.ID()))
	}
	return Response{Status: 200, Body: map[string]any{"orders": ids}}
}

// --- Orders / Applications ------------------------------------------

// NewApplication implements new-app/new-order.
func (e *Engine) NewApplication(req *transport.Request) Response {
	if !e.accountIsGood(req.Thumbprint) {
		return problemResponse(problems.AccountDoesNotExist("unknown account"))
	}

	names, err := identifierNames(req.Payload["identifiers"])
	if err != nil {
		return problemResponse(problems.Malformed(err.Error()))
	}
	if len(names) == 0 {
		return problemResponse(problems.Malformed("at least one identifier is required"))
	}

	notBefore, err := optionalRFC3339(req.Payload["notBefore"])
	if err != nil {
		return problemResponse(problems.Malformed("notBefore is not a valid RFC 3339 timestamp"))
	}
	notAfter, err := optionalRFC3339(req.Payload["notAfter"])
	if err != nil {
		return problemResponse(problems.Malformed("notAfter is not a valid RFC 3339 timestamp"))
	}

	appID := uuid.NewString()
	appURL := e.objectURL(models.TypeApplication, appID)
	app := models.NewApplication(appID, req.Thumbprint, appURL+"/finalize")
	if notBefore != "" {
		app.NotBefore = notBefore
	}
	if notAfter != "" {
		app.NotAfter = notAfter
	}

	for _, name := range names {
		authz := e.authorizationFor(req.Thumbprint, name, appURL)
		app.Requirements = append(app.Requirements, authz.AsRequirement(e.objectURL(models.TypeAuthorization, authz.ID())))
	}

	e.Store.Put(app)
	return Response{
		Status:  201,
		Headers: map[string]string{"Location": appURL},
		Body:    app.Marshal(),
	}
}

// authorizationFor reuses an existing unexpired, non-invalid,
// non-deactivated authorization for (thumbprint, name), or builds and
// stores a fresh one. A deactivated authorization can never become
// valid again, so it is excluded from reuse the same as invalid.
func (e *Engine) authorizationFor(thumbprint, name, appURL string) *models.Authorization {
	scope := ""
	if e.Config.ACME.ScopedAuthorizations {
		scope = appURL
	}

	if existing, ok := e.Store.AuthzFor(thumbprint, name, scope); ok {
		existing.Update(time.Now())
		if existing.Status != models.AuthzStatusInvalid && existing.Status != models.AuthzStatusDeactivated {
			e.Store.Put(existing)
			return existing
		}
	}

	authzID := uuid.NewString()
	expires := time.Now().Add(time.Duration(e.Config.ACME.AuthzExpirySeconds) * time.Second)
	authz := models.NewAuthorization(authzID, thumbprint, name, scope, expires)
	authzURL := e.objectURL(models.TypeAuthorization, authzID)

	for _, ct := range e.enabledChallengeTypes() {
		authz.Challenges = append(authz.Challenges, models.NewChallenge(ct, randomToken(), ""))
	}
	for i, ch := range authz.Challenges {
		ch.URL = urls.ChallengeURL(authzURL, i)
		if ch.Type == models.ChallengeDNS01 && e.DNS01 != nil {
			ch.Validate = e.DNS01.Hook(ch, name, thumbprint)
		}
	}

	e.Store.Put(authz)
	return authz
}

// orderIdentifiers resolves app's requirements back to the DNS names
// their authorizations cover, for finalize's CSR-name check. A
// requirement whose authorization can no longer be found is skipped
// rather than treated as covering every name.
func (e *Engine) orderIdentifiers(app *models.Application) map[string]bool {
	names := make(map[string]bool, len(app.Requirements))
	for _, r := range app.Requirements {
		authz, ok := e.Store.GetAuthorization(lastPathSegment(r.URL))
		if !ok {
			continue
		}
		names[authz.Identifier.Value] = true
	}
	return names
}

func (e *Engine) enabledChallengeTypes() []string {
	var out []string
	cc := e.Config.ACME.Challenges
	if cc.HTTP01 {
		out = append(out, models.ChallengeHTTP01)
	}
	if cc.DNS01 {
		out = append(out, models.ChallengeDNS01)
	}
	if cc.TLSSNI01 {
		out = append(out, models.ChallengeTLSSNI1)
	}
	if cc.Auto {
		out = append(out, models.ChallengeAuto)
	}
	return out
}

// GetOrder implements get-order.
func (e *Engine) GetOrder(id string) Response {
	app, ok := e.Store.GetApplication(id)
	if !ok {
		return Response{Status: 404}
	}
	return Response{Status: 200, Body: app.Marshal()}
}

// Finalize implements finalize.
func (e *Engine) Finalize(req *transport.Request, id string) Response {
	if !e.accountIsGood(req.Thumbprint) {
		return problemResponse(problems.AccountDoesNotExist("unknown account"))
	}

	app, ok := e.Store.GetApplication(id)
	if !ok {
		return Response{Status: 404}
	}
	if app.Status != models.AppStatusReady {
		return problemResponse(problems.OrderNotReady(fmt.Sprintf("order is %q, not ready", app.Status)))
	}

	app.Status = models.AppStatusProcessing
	e.Store.Put(app)

	csrB64, _ := req.Payload["csr"].(string)
	result := policy.Validate(csrB64)
	if result.Error != "" {
		app.Status = models.AppStatusReady
		e.Store.Put(app)
		return problemResponse(problems.Malformed(result.Error))
	}

	covered := e.orderIdentifiers(app)
	for _, name := range result.Names {
		if !covered[name] {
			app.Status = models.AppStatusReady
			e.Store.Put(app)
			return problemResponse(problems.RejectedIdentifier(fmt.Sprintf("CSR name %q is not authorized by this order", name)))
		}
	}

	notBefore := time.Now()
	if app.NotBefore != "" {
		if t, err := time.Parse(time.RFC3339, app.NotBefore); err == nil {
			notBefore = t
		}
	}
	notAfter := notBefore.AddDate(1, 0, 0)
	if app.NotAfter != "" {
		if t, err := time.Parse(time.RFC3339, app.NotAfter); err == nil {
			notAfter = t
		}
	}
	maxAfter := notBefore.Add(time.Duration(e.Config.ACME.MaxValiditySeconds) * time.Second)
	if notAfter.After(maxAfter) {
		notAfter = maxAfter
	}

	appURL := e.objectURL(models.TypeApplication, app.ID())

	der, err := e.CA.IssueCertificate(csrB64, notBefore, notAfter)
	if err != nil {
		app.Status = models.AppStatusReady
		e.Store.Put(app)
		return problemResponse(problems.ServerInternal(err.Error()))
	}

	certID := uuid.NewString()
	cert := models.NewCertificate(certID, der)
	e.Store.Put(cert)

	app.Certificate = e.objectURL(models.TypeCertificate, certID)
	app.Status = models.AppStatusValid
	e.Store.Put(app)

	return Response{
		Status:  201,
		Headers: map[string]string{"Location": appURL},
		Body:    app.Marshal(),
	}
}

// GetCertificate implements get-cert.
func (e *Engine) GetCertificate(req *transport.Request, id string) Response {
	if !e.accountIsGood(req.Thumbprint) {
		return problemResponse(problems.AccountDoesNotExist("unknown account"))
	}
	cert, ok := e.Store.GetCertificate(id)
	if !ok {
		return Response{Status: 404}
	}
	return Response{Status: 200, Body: cert.Body, Headers: map[string]string{"Content-Type": "application/pkix-cert"}}
}

// --- Authorizations / Challenges ------------------------------------

// FetchEntity implements fetch (GET /{type}/{id}).
func (e *Engine) FetchEntity(typeTag, id string) Response {
	if typeTag == models.TypeRegistration {
		return problemResponse(problems.Unauthorized("registrations are not fetchable"))
	}
	entity, ok := e.Store.Get(typeTag, id)
	if !ok {
		return Response{Status: 404}
	}
	return Response{Status: 200, Body: entity.Marshal()}
}

// FetchChallenge implements fetch challenge (GET /authz/{id}/{index}).
func (e *Engine) FetchChallenge(authzID string, index int) Response {
	authz, ok := e.Store.GetAuthorization(authzID)
	if !ok || index < 0 || index >= len(authz.Challenges) {
		return Response{Status: 404}
	}
	authz.Update(time.Now())
	e.Store.Put(authz)
	return Response{Status: 200, Body: authz.Challenges[index].ToJSON()}
}

// GetAuthorization implements get-authz (POST /authz/{id}).
func (e *Engine) GetAuthorization(req *transport.Request, id string) Response {
	if !e.accountIsGood(req.Thumbprint) {
		return problemResponse(problems.AccountDoesNotExist("unknown account"))
	}
	authz, ok := e.Store.GetAuthorization(id)
	if !ok {
		return Response{Status: 404}
	}

	if status, ok := req.Payload["status"].(string); ok && status == models.AuthzStatusDeactivated {
		if authz.Thumbprint != req.Thumbprint {
			return problemResponse(problems.Unauthorized("account does not own this authorization"))
		}
		authz.Status = models.AuthzStatusDeactivated
		e.Store.Put(authz)
		e.Store.UpdateOrdersFor(authz, e.objectURL(models.TypeAuthorization, authz.ID()))
		return Response{Status: 200, Body: authz.Marshal()}
	}

	authzURL := e.objectURL(models.TypeAuthorization, authz.ID())
	challenges := make([]map[string]any, 0, 1)
	if len(authz.Challenges) > 0 {
		challenges = append(challenges, map[string]any{
			"type":  models.ChallengeHTTP01,
			"token": authz.Challenges[0].Token,
			"url":   urls.ChallengeURL(authzURL, 0),
		})
	}
	return Response{Status: 201, Body: map[string]any{
		"status":     authz.Status,
		"identifier": authz.Identifier,
		"challenges": challenges,
	}}
}

// UpdateAuthorization implements update-authz (POST /authz/{id}/{index}).
func (e *Engine) UpdateAuthorization(req *transport.Request, id string, index int) Response {
	authz, ok := e.Store.GetAuthorization(id)
	if !ok {
		return Response{Status: 404}
	}
	if index < 0 || index >= len(authz.Challenges) {
		return Response{Status: 404}
	}
	if !e.accountIsGood(req.Thumbprint) {
		return problemResponse(problems.AccountDoesNotExist("unknown account"))
	}
	if authz.Thumbprint != req.Thumbprint {
		return problemResponse(problems.Unauthorized("account does not own this authorization"))
	}

	ch := authz.Challenges[index]
	if err := ch.Update(req.Payload); err != nil {
		return problemResponse(problems.Malformed(err.Error()))
	}

	authz.Update(time.Now())
	e.Store.Put(authz)
	authzURL := e.objectURL(models.TypeAuthorization, authz.ID())
	e.Store.UpdateOrdersFor(authz, authzURL)

	return Response{Status: 200, Body: ch.ToJSON()}
}

// --- helpers ----------------------------------------------------------

func stringSlice(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func identifierNames(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("identifiers must be an array")
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("identifier entries must be objects")
		}
		typ, _ := obj["type"].(string)
		value, _ := obj["value"].(string)
		if typ != "" && typ != "dns" {
			return nil, fmt.Errorf("unsupported identifier type %q", typ)
		}
		if value == "" {
			return nil, fmt.Errorf("identifier value is required")
		}
		names = append(names, strings.ToLower(value))
	}
	return names, nil
}

func optionalRFC3339(v any) (string, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", nil
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return "", err
	}
	return s, nil
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// DefaultAccountKeyAlgorithm reports the dialect's default account key
// algorithm and size: RSA-2048 for legacy, ECDSA P-256 otherwise.
func DefaultAccountKeyAlgorithm(cfg *config.Config) (string, int) {
	if cfg.IsLegacy() {
		return "rsa", 2048
	}
	return "ecdsa", 256
}
