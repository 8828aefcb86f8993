// Package apierr defines the closed error taxonomy used across the API layer.
//
// Every failure that crosses a component boundary — validation, authorization,
// engine calls, unexpected faults — is represented as exactly one *Error whose
// Kind belongs to the enumerated set below. The Kind carries all transport
// semantics: the HTTP status and the retryable flag are derived from fixed
// mappings, never from message text, so the client-facing contract stays
// stable and enumerable.
//
// Conventions:
//   - Kinds are lowercase snake_case on the wire (e.g. "invalid_input").
//   - Retryable is true only for upstream_unavailable and upstream_timeout;
//     every other kind is terminal for the request as issued.
//   - Cause is for server-side logs only. Client-visible messages must not
//     leak internal detail; KindInternal in particular always presents the
//     fixed message "internal server error" regardless of its cause.
//   - From() is total: any non-nil error maps to exactly one *Error, and the
//     same input always maps to the same Kind.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the closed classification of an API failure.
//
// New failure modes must be mapped into one of these kinds; extending the set
// is a deliberate change that requires updating the status and retryable
// tables below (Status panics on an unknown kind so an incomplete extension
// fails loudly in tests rather than silently returning a wrong status).
type Kind string

const (
	// KindInvalidInput: the request is structurally or semantically malformed.
	// Detail enumerates every violated constraint.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound: no route matched, or the referenced resource does not exist.
	KindNotFound Kind = "not_found"

	// KindUnauthorized: missing or insufficient credentials for the route's
	// required capability.
	KindUnauthorized Kind = "unauthorized"

	// KindConflict: the request races with existing state (e.g. an index job
	// already queued or running for the same repository and ref).
	KindConflict Kind = "conflict"

	// KindUpstreamUnavailable: the retrieval engine is temporarily unreachable
	// (connection refused/reset, transient transport failure). Retryable.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindUpstreamTimeout: the request deadline elapsed before the engine
	// responded. Retryable.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindInternal: an unexpected fault or an engine contract violation.
	// The fallback kind; never exposes its cause to the client.
	KindInternal Kind = "internal"
)

// kinds lists every member of the taxonomy, in a stable order.
var kinds = []Kind{
	KindInvalidInput,
	KindNotFound,
	KindUnauthorized,
	KindConflict,
	KindUpstreamUnavailable,
	KindUpstreamTimeout,
	KindInternal,
}

// Kinds returns the full closed set of error kinds. The returned slice is a
// copy; the taxonomy itself is immutable.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// statusByKind is the fixed Kind → HTTP status mapping. It is total over the
// taxonomy; Status guards against gaps.
var statusByKind = map[Kind]int{
	KindInvalidInput:        http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindUnauthorized:        http.StatusUnauthorized,
	KindConflict:            http.StatusConflict,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindUpstreamTimeout:     http.StatusGatewayTimeout,
	KindInternal:            http.StatusInternalServerError,
}

// Status returns the transport status for k. The mapping is total and stable;
// an unknown kind indicates a taxonomy extension that forgot to update the
// table and panics so tests catch it immediately.
func (k Kind) Status() int {
	st, ok := statusByKind[k]
	if !ok {
		panic(fmt.Sprintf("apierr: no status mapping for kind %q", k))
	}
	return st
}

// Retryable reports whether a request failing with this kind may be retried
// unchanged. Only upstream_unavailable and upstream_timeout qualify; all
// other kinds require the caller to change the request (or the operator to
// fix the system) first.
func (k Kind) Retryable() bool {
	return k == KindUpstreamUnavailable || k == KindUpstreamTimeout
}

// Violation is one field-level constraint failure, carried in the Detail of
// an invalid_input error. The validator reports every violation in one pass.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error is the canonical API failure value.
//
// Message is client-visible. Detail is an optional structured payload exposed
// verbatim in the error envelope (field violations for invalid_input,
// upstream diagnostics for gateway failures). Cause is wrapped for
// errors.Is/As chains and server-side logs only.
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	Cause   error
}

// E constructs a new *Error with the given kind and message.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Invalid constructs an invalid_input error carrying every violated
// constraint. Callers collect all violations before calling; a partial list
// defeats the one-pass contract.
func Invalid(violations []Violation) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Message: "request validation failed",
		Detail:  violations,
	}
}

// Internal constructs an internal error wrapping cause. The client-visible
// message is fixed; cause text stays server-side.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Cause: cause}
}

// Error implements the error interface. Format: "<kind>: <message>", with the
// cause appended when present (this string is for logs, not for clients; the
// formatter serializes Kind and Message separately).
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// WithCause returns a shallow copy of e with the cause attached. The original
// is not modified, so package-level template errors can be shared safely.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetail returns a shallow copy of e with the structured detail payload
// set. Detail is exposed to clients as-is; do not attach internal diagnostics.
func (e *Error) WithDetail(detail any) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

// From totalizes an arbitrary error into exactly one taxonomy value.
//
// Classification order:
//  1. An *Error anywhere in the chain is returned unchanged (boundaries that
//     already classified a failure win).
//  2. context.DeadlineExceeded → upstream_timeout.
//  3. context.Canceled → upstream_timeout (the caller abandoned the wait; the
//     distinction is not client-visible).
//  4. net.Error and other transport-level failures → upstream_unavailable.
//  5. Everything else → internal, with the cause attached for logs.
//
// From(nil) returns nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUpstreamTimeout, Message: "upstream deadline exceeded", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUpstreamTimeout, Message: "request canceled before completion", Cause: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return &Error{Kind: KindUpstreamTimeout, Message: "upstream deadline exceeded", Cause: err}
		}
		return &Error{Kind: KindUpstreamUnavailable, Message: "upstream temporarily unavailable", Cause: err}
	}
	return Internal(err)
}
