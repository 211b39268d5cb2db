// Package authgin exposes the auth gate to gin applications: the POST /auth
// endpoint and a middleware guarding other routes.
package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/spinauth/adapters/gin/handlers"
	"github.com/PaulFidika/spinauth/adapters/ginutil"
	core "github.com/PaulFidika/spinauth/core"
)

const claimsKey = "auth.claims"

// Mount registers POST /auth on r. rl may be nil.
func Mount(r gin.IRouter, svc *core.Service, rl ginutil.RateLimiter) {
	r.POST("/auth", ginutil.RequestIDMiddleware(), handlers.HandleAuthPOST(svc, rl))
}

// RequireAuth rejects requests without a valid bearer token and stores the
// verified claims for CurrentClaims. The request body is left untouched.
func RequireAuth(svc *core.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.Authenticate(c.Request.Context(), core.Request{
			Authorization: c.GetHeader("Authorization"),
			ClientIP:      c.ClientIP(),
			UserAgent:     c.Request.UserAgent(),
			RequestID:     ginutil.RequestID(c),
		})
		if err != nil {
			ginutil.Fail(c, err)
			return
		}
		c.Set(claimsKey, out.Claims)
		if sub, ok := out.Claims["sub"].(string); ok {
			c.Set("auth.user_id", sub)
		}
		c.Next()
	}
}

// CurrentClaims returns the claims stored by RequireAuth.
func CurrentClaims(c *gin.Context) (map[string]any, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(map[string]any)
	return cl, ok
}
