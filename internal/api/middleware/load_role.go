package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/utils"
)

type RoleSource interface {
	Role(ctx context.Context, userID, email string) (models.Role, error)
}

// LoadRole resolves the caller's app role from their profile and sets "role".
// Must run after JWTAuth.
func LoadRole(src RoleSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.Next()
			return
		}
		role, err := src.Role(c.Request.Context(), userID, c.GetString("email"))
		if err != nil {
			msg := "failed to resolve role"
			var ae *utils.AppError
			if errors.As(err, &ae) && ae.Message != "" {
				msg = ae.Message
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{Code: utils.CodeInternal, Message: msg})
			return
		}
		c.Set("role", string(role))
		c.Next()
	}
}
