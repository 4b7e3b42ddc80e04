// Package handlers implements the gin handlers for the ACME HTTP
// surface, translating requests into internal/acme.Engine calls. Split
// by resource the way the teacher splits certs.go/ca.go/admin.go.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/acmeserver/internal/acme"
	"github.com/adamscao/acmeserver/internal/problems"
	"github.com/adamscao/acmeserver/internal/transport"
)

// Handler holds the engine shared by every ACME route.
type Handler struct {
	Engine *acme.Engine
}

func New(engine *acme.Engine) *Handler {
	return &Handler{Engine: engine}
}

// verifyJWS reads the request body, verifies it as a flattened JWS
// against the request's effective URL, and writes the appropriate
// problem response on failure. ok is false iff the caller must return
// immediately.
func (h *Handler) verifyJWS(c *gin.Context) (*transport.Request, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		WriteResponse(c, h.Engine, problemResp(problems.Malformed("failed to read request body")))
		return nil, false
	}

	effectiveURL := h.Engine.EffectiveURL(c.Request.URL.Path)
	req, problem := h.Engine.Transport.Verify(body, effectiveURL)
	if problem != nil {
		WriteResponse(c, h.Engine, problemResp(problem))
		return nil, false
	}
	return req, true
}

func problemResp(p *problems.Problem) acme.Response {
	return acme.Response{Status: p.HTTPStatus, Body: p}
}

// NewNonce implements new-nonce (HEAD/GET).
func (h *Handler) NewNonce(c *gin.Context) {
	c.Header("Replay-Nonce", h.Engine.IssueNonce())
	c.Header("Cache-Control", "no-store")
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusNoContent)
}

// Directory implements GET /directory.
func (h *Handler) Directory(c *gin.Context) {
	WriteResponse(c, h.Engine, acme.Response{Status: http.StatusOK, Body: h.Engine.Directory()})
}
