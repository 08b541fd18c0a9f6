package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), strconv.Itoa(c.Writer.Status()))
	}
}

// Timer measures one classification.
type Timer struct {
	start     time.Time
	metrics   *Metrics
	transport string
}

// NewTimer starts a timer for transport.
func NewTimer(metrics *Metrics, transport string) *Timer {
	return &Timer{
		start:     time.Now(),
		metrics:   metrics,
		transport: transport,
	}
}

// Stop records the elapsed time.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.metrics.RecordClassify(t.transport, d)
	return d
}
