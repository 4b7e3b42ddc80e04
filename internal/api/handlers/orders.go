package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

)

// NewApplication implements POST /new-app (and /new-order alias).
func (h *Handler) NewApplication(c *gin.Context) {
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.NewApplication(req))
}

// GetOrder implements POST /app/{id}.
func (h *Handler) GetOrder(c *gin.Context) {
	if _, ok := h.verifyJWS(c); !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.GetOrder(c.Param("id")))
}

// Finalize implements POST /app/{id}/finalize.
func (h *Handler) Finalize(c *gin.Context) {
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.Finalize(req, c.Param("id")))
}

// GetCertificate implements POST /cert/{id}.
func (h *Handler) GetCertificate(c *gin.Context) {
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.GetCertificate(req, c.Param("id")))
}

// FetchEntity implements GET /{type}/{id}.
func (h *Handler) FetchEntity(c *gin.Context) {
	WriteResponse(c, h.Engine, h.Engine.FetchEntity(c.Param("type"), c.Param("id")))
}

// fetchChallengeIndex parses the {index} path parameter shared by the
// authz challenge routes.
func (h *Handler) fetchChallengeIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.Header("Replay-Nonce", h.Engine.IssueNonce())
		c.Status(404)
		return 0, false
	}
	return idx, true
}
