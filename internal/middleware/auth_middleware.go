package middleware

import (
	"context"
	"net/http"
	"strings"

	"rxgate/internal/services"
	"rxgate/internal/transport/httpdto"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// AuthMiddleware requires a valid token. When roles are given the caller
// must hold one of them.
func AuthMiddleware(auth *services.AuthService, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identify(c, auth)
		if err != nil || id == nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		if len(roles) > 0 && !lo.Contains(roles, id.Role) {
			c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("forbidden", "FORBIDDEN"))
			c.Abort()
			return
		}
		setIdentity(c, *id)
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the caller when a token is present.
// Anonymous requests pass through; a malformed token does not.
func OptionalAuthMiddleware(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identify(c, auth)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		if id != nil {
			setIdentity(c, *id)
		}
		c.Next()
	}
}

func identify(c *gin.Context, auth *services.AuthService) (*services.Identity, error) {
	token := extractBearer(c)
	if token == "" {
		return nil, nil
	}
	claims, err := auth.ParseAccessToken(token)
	if err != nil {
		return nil, err
	}
	id, err := services.IdentityFromClaims(claims)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func setIdentity(c *gin.Context, id services.Identity) {
	ctx := services.WithIdentity(c.Request.Context(), id)
	ctx = context.WithValue(ctx, logger.BusinessIdKey, id.BusinessID.String())
	if id.CustomerID != uuid.Nil {
		ctx = context.WithValue(ctx, logger.CustomerIdKey, id.CustomerID.String())
	}
	c.Request = c.Request.WithContext(ctx)
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
