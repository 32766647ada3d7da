// Package apikey authenticates callers by static API keys. Keys are held
// only as SHA-256 hashes and compared in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/omnigate/pkg/auth"
)

// HeaderName is the dedicated header an API key may be sent in, as an
// alternative to a bearer token.
const HeaderName = "X-API-Key"

// Key binds a raw key to the identity it authenticates.
type Key struct {
	Key      string
	Identity auth.Identity
}

type hashedKey struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates API keys.
type Authenticator struct {
	keys []hashedKey
}

// New hashes keys and returns an Authenticator. Plaintext keys are not
// retained.
func New(keys []Key) *Authenticator {
	a := &Authenticator{keys: make([]hashedKey, 0, len(keys))}
	for _, k := range keys {
		a.keys = append(a.keys, hashedKey{hash: sha256.Sum256([]byte(k.Key)), identity: k.Identity})
	}
	return a
}

// Authenticate accepts a known key from the X-API-Key header or a bearer
// token. It abstains when neither is present and rejects unknown keys.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Outcome {
	key := r.Header.Get(HeaderName)
	if key == "" {
		token, ok := auth.BearerToken(r)
		if !ok {
			return auth.Outcome{Verdict: auth.Abstain}
		}
		key = token
	}
	if key == "" {
		return auth.Outcome{Verdict: auth.Reject, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(key))
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(sum[:], k.hash[:]) == 1 {
			id := k.identity
			return auth.Outcome{Verdict: auth.Accept, Identity: &id}
		}
	}
	return auth.Outcome{Verdict: auth.Reject, Err: auth.ErrUnauthenticated}
}
