// Package ginutil holds the small gin helpers shared by the adapter and its
// handlers: error responses, rate limiting and request ids.
package ginutil

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/spinauth/autherr"
)

// Rate limit buckets.
const (
	RLAuth = "auth"
)

// RequestIDHeader is read from and echoed on every request.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "auth.request_id"

// RateLimiter is implemented by ratelimit/memory and ratelimit/redis.
type RateLimiter interface {
	AllowNamed(ctx context.Context, bucket, key string) (bool, error)
}

// AllowNamed applies rl to the client IP. A nil limiter allows everything;
// limiter errors fail open so a Redis outage does not take auth down with it.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.AllowNamed(c.Request.Context(), bucket, c.ClientIP())
	if err != nil {
		logrus.WithError(err).WithField("bucket", bucket).Warn("ratelimit: check failed, allowing")
		return true
	}
	return ok
}

// Fail aborts with the status and detail for err.
func Fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(autherr.KindOf(err).HTTPStatus(), gin.H{"detail": autherr.DetailOf(err)})
}

func TooMany(c *gin.Context) {
	Fail(c, autherr.New(autherr.RateLimited, ""))
}

func BadRequest(c *gin.Context, detail string) {
	Fail(c, autherr.New(autherr.InvalidRequestBody, detail))
}

// RequestIDMiddleware assigns each request an id, reusing a well-formed
// incoming X-Request-ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestID returns the id set by RequestIDMiddleware, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
