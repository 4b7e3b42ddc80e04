package handlers

import (
	"github.com/gin-gonic/gin"

)

// NewAccount implements POST /new-acct (and the legacy /new-reg alias).
func (h *Handler) NewAccount(c *gin.Context) {
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.NewAccount(req))
}

// UpdateAccount implements POST /reg/{id}.
func (h *Handler) UpdateAccount(c *gin.Context) {
	req, ok := h.verifyJWS(c)
	if !ok {
		return
	}
	WriteResponse(c, h.Engine, h.Engine.UpdateAccount(req, c.Param("id")))
}

// ListOrders implements GET /reg/{id}/orders.
func (h *Handler) ListOrders(c *gin.Context) {
	WriteResponse(c, h.Engine, h.Engine.ListOrders(c.Param("id")))
}
