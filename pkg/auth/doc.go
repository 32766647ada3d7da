// Package auth admits callers before their work reaches the dispatcher.
//
// Authenticators vote Accept, Reject or Abstain on a request. A Chain asks
// them in order and stops at the first non-abstaining vote; when every
// authenticator abstains the chain's default verdict applies. Middleware
// runs the chain for every protocol route, applies the per-subject rate
// limiter and stores the Identity in the request context, where handlers
// and the webhook store find it.
package auth
