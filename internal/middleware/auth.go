package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ragworks/raggate/internal/auth"
	"github.com/ragworks/raggate/internal/model"
)

const (
	// ContextTenantKey is where the verified TenantContext lives for the
	// rest of the request. Nothing else ever writes this key.
	ContextTenantKey = "tenant_context"
)

// AuthMiddleware resolves the bearer credential into a verified
// TenantContext. There is no anonymous path and no default tenant; a
// missing or bad credential ends the request here with a generic message.
func AuthMiddleware(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			c.Abort()
			return
		}

		tctx, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			// All resolution failures collapse to the same status and
			// message; the distinction stays in server logs only.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			c.Abort()
			return
		}

		c.Set(ContextTenantKey, tctx)
		c.Next()
	}
}

// TenantFromContext returns the verified context set by AuthMiddleware.
func TenantFromContext(c *gin.Context) (*model.TenantContext, bool) {
	v, ok := c.Get(ContextTenantKey)
	if !ok {
		return nil, false
	}
	tctx, ok := v.(*model.TenantContext)
	return tctx, ok && tctx.Verified()
}
