package integration

import (
	"encoding/base64"
	"net/http"
	"testing"
)

// ==========================================================================
// Authentication Tests
// ==========================================================================

func TestSecurity_NoAuthHeader_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	endpoints := []struct{ method, path string }{
		{"POST", "/questions/q-1/generate"},
		{"PATCH", "/questions/q-1/answer"},
		{"POST", "/questions/q-1/submit"},
		{"POST", "/questions/q-1/chat"},
		{"GET", "/questions/q-1/workflow"},
		{"GET", "/workflow"},
		{"GET", "/notifications"},
		{"GET", "/events"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := h.Do(ep.method, ep.path, nil, "", nil)
			h.AssertStatus(t, resp, http.StatusUnauthorized)
		})
	}
	h.Backend().AssertNotCalled(t, OpGenerate)
}

func TestSecurity_ExpiredJWT_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(ResponderClaims())

	resp := h.POST("/questions/q-1/generate", nil, token)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
	h.Backend().AssertNotCalled(t, OpGenerate)
}

func TestSecurity_InvalidSignature_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateForeignToken(ResponderClaims())

	resp := h.GET("/workflow", token)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_NoneAlgorithm_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Header: {"alg":"none","typ":"JWT"}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","iss":"https://auth.test.answerdesk.dev","aud":"answerdesk-test","exp":4102444800}`))
	noneToken := header + "." + payload + "."

	resp := h.GET("/workflow", noneToken)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_MalformedToken_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	for _, token := range []string{"not-a-jwt", "a.b.c", "Bearer"} {
		t.Run(token, func(t *testing.T) {
			h.AssertStatus(t, h.GET("/workflow", token), http.StatusUnauthorized)
		})
	}
}

func TestSecurity_ValidJWT_Returns200(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ResponderClaims())

	h.AssertStatus(t, h.GET("/workflow", token), http.StatusOK)
}

func TestSecurity_BackendCallsCarryCallerIdentity(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ResponderClaims())

	resp := h.Do("POST", "/questions/q-1/generate", nil, token, map[string]string{
		"X-Correlation-Id": "corr-42",
	})
	h.AssertStatus(t, resp, http.StatusAccepted)
	h.Settle()

	req := h.Backend().LastRequest(OpGenerate)
	if req == nil {
		t.Fatal("generate not called")
	}
	if got := req.Headers.Get("Authorization"); got != "Bearer "+token {
		t.Errorf("Authorization = %q, want the caller's token", got)
	}
	if got := req.Headers.Get("X-Correlation-Id"); got != "corr-42" {
		t.Errorf("X-Correlation-Id = %q, want corr-42", got)
	}

	// The follow-up version fetch runs on the same request context.
	if req := h.Backend().LastRequest(OpVersions); req == nil || req.Headers.Get("X-Correlation-Id") != "corr-42" {
		t.Errorf("versions request = %+v, want correlation id corr-42", req)
	}
}

// ==========================================================================
// Security Headers Tests
// ==========================================================================

func TestSecurity_HeadersOnAuthenticatedResponse(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ResponderClaims())

	resp := h.GET("/workflow", token)
	h.AssertStatus(t, resp, http.StatusOK)

	expectedHeaders := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Cache-Control":             "no-store",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}

	for name, expected := range expectedHeaders {
		if actual := resp.Header.Get(name); actual != expected {
			t.Errorf("header %s = %q, want %q", name, actual, expected)
		}
	}
}

func TestSecurity_HeadersOnErrorResponse(t *testing.T) {
	h := NewTestHarness(t)

	// Even 401 responses should have security headers.
	resp := h.GET("/workflow", "")
	h.AssertStatus(t, resp, http.StatusUnauthorized)

	for _, name := range []string{
		"Strict-Transport-Security",
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Cache-Control",
		"Referrer-Policy",
	} {
		if resp.Header.Get(name) == "" {
			t.Errorf("security header %s missing on error response", name)
		}
	}
}

func TestSecurity_HeadersOnPublicEndpoint(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/health", "")
	h.AssertStatus(t, resp, http.StatusOK)

	if resp.Header.Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header missing on public endpoint")
	}
	if resp.Header.Get("X-Content-Type-Options") == "" {
		t.Error("X-Content-Type-Options missing on public endpoint")
	}
}

func TestSecurity_CorrelationIDReturned(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ResponderClaims())

	resp1 := h.GET("/workflow", token)
	resp1.Body.Close()
	if resp1.Header.Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id not set in response")
	}

	resp2 := h.Do("GET", "/workflow", nil, token, map[string]string{
		"X-Correlation-Id": "custom-trace-123",
	})
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Correlation-Id"); got != "custom-trace-123" {
		t.Errorf("X-Correlation-Id = %q, want %q", got, "custom-trace-123")
	}
}

// ==========================================================================
// Input Validation Tests
// ==========================================================================

func TestSecurity_InvalidBodyNeverReachesBackend(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ResponderClaims())

	resp := h.PATCH("/questions/q-1/answer", map[string]any{"answer": 42}, token)
	h.AssertStatus(t, resp, http.StatusBadRequest)

	resp = h.POST("/questions/q-1/analyze", map[string]any{}, token)
	h.AssertStatus(t, resp, http.StatusBadRequest)

	h.Settle()
	h.Backend().AssertNotCalled(t, OpUpdate)
	h.Backend().AssertNotCalled(t, OpAnalyze)
	if rev := h.Store.Revision(); rev != 0 {
		t.Errorf("revision = %d, want 0 after rejected intents", rev)
	}
}

// ==========================================================================
// CORS Tests
// ==========================================================================

func TestSecurity_CORSAllowedOrigin(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.Do("GET", "/health", nil, "", map[string]string{
		"Origin": "http://localhost:3000",
	})
	resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("CORS not set for allowed origin")
	}
}

func TestSecurity_CORSDisallowedOrigin(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.Do("GET", "/health", nil, "", map[string]string{
		"Origin": "https://evil.example.com",
	})
	resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS headers should not be set for disallowed origin")
	}
}
