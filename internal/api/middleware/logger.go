// Package middleware holds gin middleware shared across the ACME
// routes, following the teacher's internal/api/middleware layout.
package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs one line per request in the teacher's log.Printf style —
// this core has no structured logging dependency to reach for, so it
// stays on the standard library the way the teacher's cmd/caserver
// does everywhere else.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Printf("%s %s %d %s", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
