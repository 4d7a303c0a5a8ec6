package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/gongplan/gong-api/internal/middleware"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
	"github.com/gongplan/gong-api/pkg/response"
)

// currentEditor returns the caller's email, writing a 401 when it is missing.
func currentEditor(c *gin.Context) (string, bool) {
	claims := middleware.Claims(c)
	if claims == nil || claims.Email == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.Email, true
}
