package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one access-log line per request. Query strings are not
// logged: the OAuth callback carries the authorization code and state there.
func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set("request_id", reqID)

		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		if userID := c.GetString("user_id"); userID != "" {
			fields["user_id"] = userID
		}
		if role := c.GetString("role"); role != "" {
			fields["role"] = role
		}
		if c.GetBool(CronAuthorized) {
			fields["cron"] = true
		}
		entry := l.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case path == "/ping":
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}
