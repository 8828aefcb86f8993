// Package auth defines the authorization collaborator interface consumed by
// the route dispatcher, plus a static API-key implementation suitable for
// single-process deployments.
//
// The dispatcher only ever sees the narrow Authorizer contract: given the
// request's principal and the route's required capability, allow or deny.
// Credential storage, rotation, and identity federation live outside this
// package.
package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/clafollett/codetriever/internal/apierr"
)

// Capability tags declared by routes. The authorizer grants capabilities per
// API key; a route is reachable only with a key granted its tag.
const (
	CapIndexWrite = "index.write"
	CapSearchRead = "search.read"
	CapStatusRead = "status.read"
)

// Principal is the authenticated caller. The API layer references it
// read-only; it is owned by the authorizer.
type Principal struct {
	ID           string
	Capabilities map[string]struct{}
}

// Can reports whether the principal holds the capability.
func (p *Principal) Can(capability string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Capabilities[capability]
	return ok
}

// Authorizer is the collaborator contract. Implementations must be safe for
// concurrent use.
type Authorizer interface {
	// Authenticate resolves a presented API key to a principal. A zero key or
	// an unknown key yields an unauthorized taxonomy error.
	Authenticate(ctx context.Context, apiKey string) (*Principal, error)
	// Authorize checks that the principal holds the required capability.
	// A nil principal or a missing grant yields an unauthorized taxonomy error.
	Authorize(ctx context.Context, p *Principal, capability string) error
}

// StaticAuthorizer grants capabilities from a fixed key table built once at
// startup. The table is immutable afterwards, so lookups need no locking.
//
// When constructed with no grants the authorizer runs open: every request is
// assigned an anonymous principal holding all route capabilities. This keeps
// local development friction-free while production deployments set API_KEYS.
type StaticAuthorizer struct {
	grants map[string]*Principal
	open   bool
}

// NewStaticAuthorizer builds the key table from "key:capability" grant pairs
// (the config.APIKeys format). Repeated keys accumulate capabilities.
func NewStaticAuthorizer(grantPairs []string) *StaticAuthorizer {
	a := &StaticAuthorizer{grants: make(map[string]*Principal)}
	for _, pair := range grantPairs {
		key, capability, ok := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		capability = strings.TrimSpace(capability)
		if !ok || key == "" || capability == "" {
			continue
		}
		p, exists := a.grants[key]
		if !exists {
			p = &Principal{
				// Principals are identified by a short prefix of the key so
				// logs never carry the full credential.
				ID:           keyFingerprint(key),
				Capabilities: make(map[string]struct{}),
			}
			a.grants[key] = p
		}
		p.Capabilities[capability] = struct{}{}
	}
	a.open = len(a.grants) == 0
	return a
}

// Authenticate implements Authorizer.
func (a *StaticAuthorizer) Authenticate(_ context.Context, apiKey string) (*Principal, error) {
	if a.open {
		return &Principal{
			ID: "anonymous",
			Capabilities: map[string]struct{}{
				CapIndexWrite: {},
				CapSearchRead: {},
				CapStatusRead: {},
			},
		}, nil
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, apierr.E(apierr.KindUnauthorized, "missing API key")
	}
	// Constant-time scan over the full table so timing does not reveal which
	// keys exist.
	var found *Principal
	for k, p := range a.grants {
		if len(k) == len(apiKey) && subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			found = p
		}
	}
	if found == nil {
		return nil, apierr.E(apierr.KindUnauthorized, "unknown API key")
	}
	return found, nil
}

// Authorize implements Authorizer.
func (a *StaticAuthorizer) Authorize(_ context.Context, p *Principal, capability string) error {
	if p.Can(capability) {
		return nil
	}
	return apierr.E(apierr.KindUnauthorized, "capability not granted: "+capability)
}

// keyFingerprint returns a log-safe identifier for an API key.
func keyFingerprint(key string) string {
	if len(key) <= 4 {
		return "key-" + key
	}
	return "key-" + key[:4]
}
