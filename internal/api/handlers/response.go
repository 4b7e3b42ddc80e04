package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/adamscao/acmeserver/internal/acme"
)

// WriteResponse translates an acme.Response into the gin response,
// always stamping a fresh Replay-Nonce header first, mirroring the
// teacher's RespondError/RespondSuccess split but generalized to a
// single (status, headers, body) tuple since every ACME endpoint needs
// the nonce header regardless of outcome.
func WriteResponse(c *gin.Context, engine *acme.Engine, resp acme.Response) {
	c.Header("Replay-Nonce", engine.IssueNonce())
	c.Header("Cache-Control", "no-store")
	for k, v := range resp.Headers {
		c.Header(k, v)
	}

	switch body := resp.Body.(type) {
	case nil:
		c.Status(resp.Status)
	case []byte:
		c.Data(resp.Status, "application/pkix-cert", body)
	default:
		c.JSON(resp.Status, body)
	}
}
