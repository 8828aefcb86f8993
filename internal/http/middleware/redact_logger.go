// Package middleware contains the shared Gin middleware for the HTTP layer.
//
// This file implements RedactingLogger, a structured access logger that
// scrubs credentials from request metadata before it reaches the logs.
// Clients of a code-search API routinely put API keys in headers and
// sometimes, wrongly, in query strings; the logger masks both so a log sink
// never becomes a credential store. Bodies are never logged.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]". Matching is case-insensitive and merged with the built-in
// sensitive headers (Authorization, Cookie, Set-Cookie, X-API-Key,
// Idempotency-Key).
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that logs requests and responses
// with credential material scrubbed.
//
// It logs method, route path, query string, status, response size, latency,
// and request headers. Header values matching the mask set are fully
// replaced; query strings have key/token-style parameters and long hex or
// UUID tokens substituted. Level follows status: info, warn for 4xx, error
// for 5xx.
//
// Like Logger, it stores a request-scoped zerolog.Logger (carrying the
// correlation ID and, when tracing is active, the trace ID) in the Gin
// context for LoggerFrom and embeds it in the request context so code below
// the transport (the engine gateway) logs with the same fields. Place after
// RequestID.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	// Compiled once. Order matters: the specific patterns run before the
	// generic token pattern so a UUID is not half-eaten by the hex rule.
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	keyParamRE := regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password)=[^&\s]*`)
	hexTokenRE := regexp.MustCompile(`(?i)\b[0-9a-f]{32,}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		out = keyParamRE.ReplaceAllString(out, "$1=[REDACTED]")
		out = hexTokenRE.ReplaceAllString(out, "[REDACTED:token]")
		return out
	}

	maskHeaders := map[string]struct{}{
		"authorization":   {},
		"cookie":          {},
		"set-cookie":      {},
		"x-api-key":       {},
		"idempotency-key": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		lctx := log.With().
			Str("request_id", CorrelationID(c)).
			Str("method", c.Request.Method).
			Str("path", path)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			lctx = lctx.Str("trace_id", sc.TraceID().String())
		}
		l := lctx.Logger()
		c.Set("logger", &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
