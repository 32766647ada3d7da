// Package jwt authenticates callers by HMAC-signed JSON Web Tokens.
//
// Tokens are verified with a shared secret (HS256, HS384 or HS512), and
// optionally checked for issuer and audience. The subject, service tier,
// tenant and scopes are read from configurable claims.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/omnigate/pkg/auth"
	"github.com/rhuss/omnigate/pkg/debug"
)

// Config configures the JWT authenticator.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string

	UserClaim   string // default "sub"
	TierClaim   string // default "tier"
	TenantClaim string // default "tenant_id"
	// ScopesClaim holds a space separated string or a list. Default "scope".
	ScopesClaim string

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
}

// ErrNoSecret is returned by New when no signing secret is configured.
var ErrNoSecret = errors.New("jwt: signing secret is required")

// Authenticator validates bearer JWTs.
type Authenticator struct {
	cfg    Config
	parser *jwtlib.Parser
}

// New creates an Authenticator.
func New(cfg Config) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	return &Authenticator{cfg: cfg, parser: jwtlib.NewParser(opts...)}, nil
}

// Authenticate abstains without a bearer token, rejects invalid tokens and
// accepts valid ones.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Outcome {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Outcome{Verdict: auth.Abstain}
	}
	if raw == "" {
		return auth.Outcome{Verdict: auth.Reject, Err: errors.New("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		debug.Log(debug.Auth, "jwt rejected", "error", err)
		return auth.Outcome{Verdict: auth.Reject, Err: fmt.Errorf("invalid jwt: %w", err)}
	}

	subject := claimString(claims, a.cfg.UserClaim)
	if subject == "" {
		return auth.Outcome{Verdict: auth.Reject, Err: fmt.Errorf("jwt missing %q claim", a.cfg.UserClaim)}
	}

	id := &auth.Identity{
		Subject:  subject,
		Tier:     claimString(claims, a.cfg.TierClaim),
		Scopes:   scopes(claims, a.cfg.ScopesClaim),
		Metadata: map[string]string{},
	}
	if tenant := claimString(claims, a.cfg.TenantClaim); tenant != "" {
		id.Metadata["tenant_id"] = tenant
	}
	return auth.Outcome{Verdict: auth.Accept, Identity: id}
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func scopes(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if f := strings.Fields(v); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
