package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

// CronAuthorized is set on the context when the caller presented the
// scheduled-job secret instead of a user token.
const CronAuthorized = "cron_authorized"

// SyncAuth accepts either the shared cron secret (as a bearer token or an
// X-Cron-Secret header) or a regular user JWT. An empty secret disables the
// cron path.
func SyncAuth(cronSecret string, cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cronSecret != "" && (secretMatches(bearerToken(c), cronSecret) || secretMatches(strings.TrimSpace(c.GetHeader("X-Cron-Secret")), cronSecret)) {
			c.Set(CronAuthorized, true)
			c.Next()
			return
		}
		if authenticate(c, cfg) {
			c.Next()
		}
	}
}

func secretMatches(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
