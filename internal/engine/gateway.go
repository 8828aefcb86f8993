// Gateway: the single choke point between routes and the retrieval engine.
//
// Every call enforces the request deadline with a bounded wait and translates
// the collaborator's outcome into the closed taxonomy. No raw engine failure
// ever crosses this boundary.
package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/clafollett/codetriever/internal/apierr"
)

// Gateway wraps a Client with deadline enforcement and failure translation.
// It is stateless per request and safe for concurrent use; concurrent
// requests share only the client handle (assumed internally thread-safe).
type Gateway struct {
	client Client
	// fallbackTimeout bounds calls whose context carries no deadline. The
	// dispatcher always sets one; this is a guard for direct callers.
	fallbackTimeout time.Duration
	log             zerolog.Logger
}

// NewGateway constructs a Gateway around the given collaborator client.
// fallbackTimeout values <= 0 are coerced to 30s.
func NewGateway(client Client, fallbackTimeout time.Duration, log zerolog.Logger) *Gateway {
	if fallbackTimeout <= 0 {
		fallbackTimeout = 30 * time.Second
	}
	return &Gateway{client: client, fallbackTimeout: fallbackTimeout, log: log}
}

// SubmitIndex submits a repository for indexing.
func (g *Gateway) SubmitIndex(ctx context.Context, req IndexRequest) (*IndexAccepted, error) {
	return call(g, ctx, "submit_index", func(ctx context.Context) (*IndexAccepted, error) {
		return g.client.SubmitIndex(ctx, req)
	})
}

// Search runs a semantic query.
func (g *Gateway) Search(ctx context.Context, req SearchRequest) ([]Match, error) {
	return call(g, ctx, "search", func(ctx context.Context) ([]Match, error) {
		return g.client.Search(ctx, req)
	})
}

// JobStatus fetches the engine-side state of an index job.
func (g *Gateway) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	return call(g, ctx, "job_status", func(ctx context.Context) (*JobStatus, error) {
		return g.client.JobStatus(ctx, jobID)
	})
}

// call runs one collaborator operation under the context deadline.
//
// The operation runs in its own goroutine so the wait is bounded by the
// deadline regardless of the collaborator's own behavior: when the deadline
// fires first, call returns upstream_timeout immediately and the in-flight
// operation is cancelled cooperatively through the context (the goroutine
// drains into a buffered channel, so nothing leaks even if the client
// ignores cancellation for a while).
func call[T any](g *Gateway, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.fallbackTimeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, g.translate(ctx, op, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return zero, g.translate(ctx, op, res.err)
		}
		return res.v, nil
	}
}

// logger returns the request-scoped logger embedded in ctx by the HTTP
// logging middleware, falling back to the process logger for direct callers.
// The request-scoped logger carries the correlation ID, so gateway
// diagnostics stay matchable to the error envelope the client saw.
func (g *Gateway) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &g.log
}

// translate maps a collaborator failure into exactly one taxonomy error.
// The mapping is total and deterministic:
//
//	deadline / cancellation  → upstream_timeout
//	engine 404               → not_found
//	engine 409               → conflict
//	engine 429, 502, 503     → upstream_unavailable
//	engine 504               → upstream_timeout
//	other engine statuses    → internal (contract violation)
//	malformed response body  → internal (contract violation)
//	transport-level failures → upstream_unavailable (via apierr.From)
//
// Contract violations are logged at error severity with the operation name,
// through the request-scoped logger when ctx carries one.
func (g *Gateway) translate(ctx context.Context, op string, err error) error {
	switch e := err.(type) {
	case *StatusError:
		switch {
		case e.Code == http.StatusNotFound:
			return apierr.E(apierr.KindNotFound, "resource not known to the engine").WithCause(e)
		case e.Code == http.StatusConflict:
			return apierr.E(apierr.KindConflict, "engine rejected a conflicting operation").WithCause(e)
		case e.Code == http.StatusTooManyRequests,
			e.Code == http.StatusBadGateway,
			e.Code == http.StatusServiceUnavailable:
			return apierr.E(apierr.KindUpstreamUnavailable, "engine temporarily unavailable").
				WithDetail(map[string]int{"upstream_status": e.Code}).
				WithCause(e)
		case e.Code == http.StatusGatewayTimeout:
			return apierr.E(apierr.KindUpstreamTimeout, "engine timed out").
				WithDetail(map[string]int{"upstream_status": e.Code}).
				WithCause(e)
		default:
			// The request was validated before it left this process; any other
			// rejection means the engine contract is broken.
			g.logger(ctx).Error().Str("op", op).Int("upstream_status", e.Code).Str("detail", e.Detail).
				Msg("engine contract violation: unexpected status")
			return apierr.Internal(e)
		}
	case *DecodeError:
		g.logger(ctx).Error().Str("op", op).Err(e.Err).
			Msg("engine contract violation: malformed response")
		return apierr.Internal(e)
	}
	return apierr.From(err)
}
