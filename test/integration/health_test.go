package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	resp := getURL(t, "/healthz")
	expectStatus(t, resp, http.StatusOK)

	body := readBody(t, resp)
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("body = %q, want to contain \"ok\"", body)
	}
}

func TestHealthEndpointNoAuth(t *testing.T) {
	// Probes carry no credentials.
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := do(t, http.MethodGet, path, "", "", "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s without auth = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestReadinessReportsChecks(t *testing.T) {
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, getURL(t, "/readyz"), &ready)

	if ready.Status != "ready" {
		t.Errorf("status = %q, want ready", ready.Status)
	}
	if ready.Checks["storage"] != "ok" {
		t.Errorf("storage check = %q, want ok", ready.Checks["storage"])
	}
}

func TestMetricsExposeDispatchCounters(t *testing.T) {
	readBody(t, getURL(t, "/rest"))

	body := readBody(t, getURL(t, "/metrics"))
	for _, name := range []string{"omnigate_dispatch_total", "omnigate_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

func TestMissingCredentialsAreRejected(t *testing.T) {
	resp := do(t, http.MethodGet, "/rest", "", "", "")
	expectStatus(t, resp, http.StatusUnauthorized)

	var errResp errorResponse
	decodeJSON(t, resp, &errResp)
	if errResp.Error.Type != "unauthenticated" {
		t.Errorf("error.type = %q, want unauthenticated", errResp.Error.Type)
	}
}

func TestUnknownKeyIsRejected(t *testing.T) {
	resp := do(t, http.MethodGet, "/rest", "not-a-key", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
