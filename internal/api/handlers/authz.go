package handlers

import (
	"github.com/gin-gonic/gin"

)

// GetAuthorization implements POST /authz/{id}.
func (h *Handler) GetAuthorization(c *gin.Context) {
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.GetAuthorization(req, c.Param("id")))
}

// FetchChallenge implements GET /authz/{id}/{index}.
func (h *Handler) FetchChallenge(c *gin.Context) {
	idx, ok := h.fetchChallengeIndex(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.FetchChallenge(c.Param("id"), idx))
}

// UpdateAuthorization implements POST /authz/{id}/{index}.
func (h *Handler) UpdateAuthorization(c *gin.Context) {
	idx, ok := h.fetchChallengeIndex(c)
	if !ok {
		return
	}
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.UpdateAuthorization(req, c.Param("id"), idx))
}
