package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/spinauth/adapters/ginutil"
	core "github.com/PaulFidika/spinauth/core"
)

// MaxBodyBytes caps the request body accepted by POST /auth.
const MaxBodyBytes = 1 << 20

func HandleAuthPOST(svc *core.Service, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLAuth) {
			ginutil.TooMany(c)
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
		if err != nil || len(body) > MaxBodyBytes {
			ginutil.BadRequest(c, "")
			return
		}
		out, err := svc.Authenticate(c.Request.Context(), core.Request{
			Authorization: c.GetHeader("Authorization"),
			Body:          body,
			ClientIP:      c.ClientIP(),
			UserAgent:     c.Request.UserAgent(),
			RequestID:     ginutil.RequestID(c),
		})
		if err != nil {
			ginutil.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
