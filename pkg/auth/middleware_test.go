package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/storage"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMiddlewareBypass(t *testing.T) {
	h := Middleware(&Chain{Default: Reject}, nil, append([]string{"/admin/"}, DefaultBypass...))(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "GET", "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/metrics").Code)
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/admin/routes").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "GET", "/healthz/deep").Code)
}

func TestMiddlewareRejects(t *testing.T) {
	h := Middleware(&Chain{Default: Reject}, nil, DefaultBypass)(okHandler())

	rec := serve(h, "POST", "/rpc")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthenticated", body.Error.Type)
	assert.Equal(t, "authentication required", body.Error.Message)
}

func TestMiddlewareEmptySubject(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&stubAuthenticator{out: Outcome{Verdict: Accept, Identity: &Identity{}}},
	}}
	h := Middleware(chain, nil, nil)(okHandler())
	assert.Equal(t, http.StatusInternalServerError, serve(h, "GET", "/rest").Code)
}

func TestMiddlewareInjectsIdentityAndTenant(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&stubAuthenticator{out: Outcome{Verdict: Accept, Identity: &Identity{
			Subject:  "alice",
			Metadata: map[string]string{"tenant_id": "org-1"},
		}}},
	}}

	var subject, tenant string
	h := Middleware(chain, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = IdentityFromContext(r.Context()).Subject
		tenant = storage.GetTenant(r.Context())
	}))

	assert.Equal(t, http.StatusOK, serve(h, "POST", "/webhook/github").Code)
	assert.Equal(t, "alice", subject)
	assert.Equal(t, "org-1", tenant)
}

func TestMiddlewareRateLimit(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&stubAuthenticator{out: Outcome{Verdict: Accept, Identity: &Identity{Subject: "alice", Tier: "metered"}}},
	}}
	limiter := NewTokenBucketLimiter(map[string]Tier{"metered": {RequestsPerSecond: 0.001, Burst: 2}}, Tier{})
	h := Middleware(chain, limiter, nil)(okHandler())

	before := testutil.ToFloat64(observability.RateLimitRejectedTotal.WithLabelValues("metered"))

	assert.Equal(t, http.StatusOK, serve(h, "POST", "/rpc").Code)
	assert.Equal(t, http.StatusOK, serve(h, "POST", "/rpc").Code)

	rec := serve(h, "POST", "/rpc")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, before+1, testutil.ToFloat64(observability.RateLimitRejectedTotal.WithLabelValues("metered")))
}

func TestRequireScope(t *testing.T) {
	admin := &Identity{Subject: "ops", Scopes: []string{AdminScope}}
	bob := &Identity{Subject: "bob", Metadata: map[string]string{"tenant_id": "b"}}

	tests := []struct {
		name string
		id   *Identity
		want int
	}{
		{"admin scope", admin, http.StatusOK},
		{"no scope", bob, http.StatusForbidden},
		{"no identity", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireScope(AdminScope)(okHandler())
			req := httptest.NewRequest("GET", "/admin/sessions", nil)
			if tt.id != nil {
				req = req.WithContext(ContextWithIdentity(req.Context(), tt.id))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), `"type":"forbidden"`)
			}
		})
	}
}
