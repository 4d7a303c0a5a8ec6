package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type requestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics records request counts and latencies. Routes ending with one of the
// stream suffixes are recorded when the handler returns with a zero duration,
// since a countdown stream stays open for the whole edit session.
func Metrics(observer requestObserver, streamSuffixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start)
		for _, suffix := range streamSuffixes {
			if strings.HasSuffix(path, suffix) {
				duration = 0
				break
			}
		}
		observer.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), duration)
	}
}
