package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Verdict is an authenticator's vote on a request.
type Verdict int

const (
	// Accept means the credentials are valid. The chain stops.
	Accept Verdict = iota
	// Reject means credentials were presented but are invalid. The chain
	// stops and the request is refused.
	Reject
	// Abstain means the authenticator does not handle the presented
	// credentials (or none were presented). The chain continues.
	Abstain
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "abstain"
	}
}

// Outcome is the result of one authentication attempt.
type Outcome struct {
	Verdict  Verdict
	Identity *Identity // set when Verdict == Accept
	Err      error     // set when Verdict == Reject
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string
	// Tier selects the rate limit bucket.
	Tier   string
	Scopes []string
	// Metadata carries provider specific attributes. "tenant_id" scopes
	// stored webhook deliveries.
	Metadata map[string]string
}

// TenantID returns the tenant from metadata, or "".
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// HasScope reports whether the identity was granted scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Anonymous is the identity used when the chain admits a request without
// credentials.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", Tier: "default"}
}

// Authenticator inspects the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Outcome
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrForbidden       = errors.New("insufficient scope")
)

// AdminScope grants access to the session and in-flight admin endpoints.
const AdminScope = "admin"

// Chain evaluates authenticators left to right.
type Chain struct {
	Authenticators []Authenticator
	// Default applies when every authenticator abstains. Accept admits the
	// caller as Anonymous.
	Default Verdict
}

// Authenticate returns the first non-abstaining outcome, or the default.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Outcome {
	for _, a := range c.Authenticators {
		if out := a.Authenticate(ctx, r); out.Verdict != Abstain {
			return out
		}
	}
	if c.Default == Accept {
		return Outcome{Verdict: Accept, Identity: Anonymous()}
	}
	return Outcome{Verdict: Reject, Err: ErrUnauthenticated}
}

// AccessTokenParam is the query parameter carrying a bearer token on
// WebSocket and SSE handshakes, where browsers cannot set headers.
const AccessTokenParam = "access_token"

// BearerToken extracts a bearer token from the Authorization header, or
// from the access_token query parameter of a GET request. ok is false when
// the request carries neither.
func BearerToken(r *http.Request) (token string, ok bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
	}
	if r.Method == http.MethodGet && r.URL.Query().Has(AccessTokenParam) {
		return r.URL.Query().Get(AccessTokenParam), true
	}
	return "", false
}
