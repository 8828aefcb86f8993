// Package handlers provides the HTTP handler implementations for the public
// API.
//
// This file is the response formatter: the single place where service-layer
// results become HTTP bodies. Every failure path across every endpoint goes
// through fail(), which renders one envelope shape:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "kind": "conflict",
//	  "message": "an index job is already in flight for this repository and ref",
//	  "detail": { "job_id": "..." },
//	  "correlation_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// The status code is always derived from the taxonomy kind, never chosen
// ad hoc by a handler, so a given kind maps to the same status everywhere.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/http/middleware"
)

// Envelope is the standard error body returned by all endpoints.
//
// Kind is the stable machine-readable taxonomy kind; Message is safe for
// display; Detail carries structured context (validation violations, the
// conflicting job id) and is omitted when empty. CorrelationID echoes
// X-Request-ID so clients can quote it in support requests.
type Envelope struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Detail        any    `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// fail renders err as the standard envelope and aborts the request.
//
// Any error works: non-taxonomy errors are classified by apierr.From first,
// so a raw collaborator or database failure can never select its own status
// or leak its text. Server-side kinds (5xx) are logged with the
// request-scoped logger including the cause chain; the response carries only
// the presentable fields.
func fail(c *gin.Context, err error) {
	ae := apierr.From(err)
	status := ae.Kind.Status()

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Err(err).
			Int("status", status).
			Str("kind", string(ae.Kind)).
			Msg("api error")
	}
	middleware.ObserveErrorKind(string(ae.Kind))

	c.AbortWithStatusJSON(status, Envelope{
		Kind:          string(ae.Kind),
		Message:       ae.Message,
		Detail:        ae.Detail,
		CorrelationID: middleware.CorrelationID(c),
	})
}

// Fail is the exported variant of fail for router-level fallbacks (NoRoute,
// auth middleware) that live outside this package.
func Fail(c *gin.Context, err error) { fail(c, err) }

// ok writes a success JSON response with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
