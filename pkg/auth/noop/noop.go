// Package noop admits every request as the anonymous identity. It is the
// authenticator of auth type "none".
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/omnigate/pkg/auth"
)

// Authenticator accepts every request.
type Authenticator struct{}

func (Authenticator) Authenticate(context.Context, *http.Request) auth.Outcome {
	return auth.Outcome{Verdict: auth.Accept, Identity: auth.Anonymous()}
}
