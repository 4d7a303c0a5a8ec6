package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/response"
)

// RequireRoles rejects callers whose role is not listed.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

type centerAuthorizer interface {
	CanPlan(ctx context.Context, claims *models.JWTClaims, center string) (bool, error)
}

// CenterAccess only lets planners of the :name center through.
func CenterAccess(auth centerAuthorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		center := c.Param("name")
		ok, err := auth.CanPlan(c.Request.Context(), claims, center)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "not a planner of "+center))
			c.Abort()
			return
		}
		c.Next()
	}
}
