// Package middleware contains the shared Gin middleware for the HTTP layer.
//
// This file implements idempotency support for index submissions. It
// validates the Idempotency-Key request header, stashes the normalized key
// in the Gin context, and optionally consults a lookup so replayed
// submissions can be detected before the handler runs. Persistence stays
// behind the narrow IdempotencyLookup function type.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients use to deduplicate
// retried index submissions. The value must be stable for a given semantic
// operation.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys stashing idempotency state, referenced via the accessors.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
// The second value reports presence. Handlers should use this instead of
// reading the header directly.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected a previously completed
// submission for this key. Handlers short-circuit and return the original
// job when true.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation. TTL enforcement belongs
// in the lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil means a conservative
	// token pattern: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a still-valid record exists for
// (principalID, key) at the given time. Errors mean lookup failure only and
// must not block normal processing.
type IdempotencyLookup func(ctx context.Context, principalID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes it, and marks the context for replay plus rate-limit bypass when
// the lookup finds a prior record. An absent header is a no-op; an invalid
// one is rejected with a 400 envelope of kind "invalid_input". The cached
// payload itself is served by the handler, not here.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"kind":           "invalid_input",
				"message":        "invalid Idempotency-Key header",
				"correlation_id": CorrelationID(c),
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			pid := principalIDFromCtx(c)
			if exists, _ := lookup(c.Request.Context(), pid, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// principalIDFromCtx extracts the authenticated principal id set by the auth
// middleware. "anonymous" is used when the service runs in open mode.
func principalIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("principalID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}
