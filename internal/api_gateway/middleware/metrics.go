package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microloan-ledger/internal/platform/metrics"
)

// Metrics records request count and latency per matched route. Unmatched
// paths are grouped under one label to keep cardinality bounded.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
