package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academico-api/internal/middleware"
	"github.com/noah-isme/academico-api/internal/models"
	"github.com/noah-isme/academico-api/internal/service"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func auditFromContext(c *gin.Context) service.AuditContext {
	audit := service.AuditContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if claims := claimsFromContext(c); claims != nil {
		audit.UserID = claims.UserID
	}
	return audit
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
