package middleware

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mylifebyai/mlbai/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type supabaseClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"` // usually "authenticated" / "anon"
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// JWTConfig verifies Supabase access tokens (HS256).
type JWTConfig struct {
	Secret   string
	Issuer   string // optional
	Audience string // optional
}

func JWTConfigFromEnv() JWTConfig {
	return JWTConfig{
		Secret:   os.Getenv("SUPABASE_JWT_SECRET"),
		Issuer:   os.Getenv("SUPABASE_JWT_ISSUER"),
		Audience: os.Getenv("SUPABASE_JWT_AUDIENCE"),
	}
}

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid token")
	errBadIssuer     = errors.New("invalid token issuer")
	errBadAudience   = errors.New("invalid token audience")
	errNoSubject     = errors.New("missing subject")
)

// JWTAuth requires a valid bearer token and sets user_id and email.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, cfg) {
			c.Next()
		}
	}
}

// authenticate verifies the bearer token and stores identity on c. On failure
// it aborts and returns false.
func authenticate(c *gin.Context, cfg JWTConfig) bool {
	if cfg.Secret == "" {
		c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{
			Code:    utils.CodeInternal,
			Message: "SUPABASE_JWT_SECRET is not set",
		})
		return false
	}

	claims, err := verifyBearer(cfg, bearerToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
			Code:    utils.CodeUnauthorized,
			Message: err.Error(),
		})
		return false
	}

	c.Set("user_id", claims.Subject) // Supabase user UUID is in "sub"
	c.Set("email", strings.TrimSpace(claims.Email))
	return true
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func verifyBearer(cfg JWTConfig, raw string) (*supabaseClaims, error) {
	if raw == "" {
		return nil, errMissingBearer
	}
	claims := &supabaseClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || tok == nil || !tok.Valid {
		return nil, errInvalidToken
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, errBadIssuer
	}
	if cfg.Audience != "" {
		valid := false
		for _, aud := range claims.Audience {
			if aud == cfg.Audience {
				valid = true
				break
			}
		}
		if !valid {
			return nil, errBadAudience
		}
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return claims, nil
}
