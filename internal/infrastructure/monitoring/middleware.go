package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware creates a Gin middleware for API metrics. Paths are recorded
// by route template so that label cardinality stays bounded.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
			int64(max(c.Writer.Size(), 0)),
		)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(metrics *Metrics) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}
