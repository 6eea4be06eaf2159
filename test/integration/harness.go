// Package integration provides a reusable test harness for end-to-end
// integration testing of the answerdesk server. It starts a full HTTP server
// wired to a mock answer service, an in-process question list, and a test
// JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/collaborator"
	"github.com/pitabwire/answerdesk/internal/config"
	"github.com/pitabwire/answerdesk/internal/effects"
	"github.com/pitabwire/answerdesk/internal/notify"
	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/internal/openapi"
	"github.com/pitabwire/answerdesk/internal/remote"
	"github.com/pitabwire/answerdesk/internal/state"
	"github.com/pitabwire/answerdesk/internal/transport"
)

// TestHarness encapsulates a fully wired answerdesk instance with a mock
// answer service for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store         *state.Store
	Dispatcher    *effects.Dispatcher
	Client        *remote.Client
	Questions     *collaborator.MemoryBus
	Notifications *notify.Recorder

	backend *MockBackend
	cfg     *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	scopedErrors         bool
	perQuestionAnalyzing bool
	handlerTimeout       time.Duration
	remoteTimeout        time.Duration
	breaker              config.CircuitBreakerConfig
	retry                config.RetryConfig
}

// WithScopedErrors records submit and version failures on the question slot.
func WithScopedErrors() HarnessOption {
	return func(c *harnessConfig) {
		c.scopedErrors = true
	}
}

// WithPerQuestionAnalyzing keys the analyzing marker per question.
func WithPerQuestionAnalyzing() HarnessOption {
	return func(c *harnessConfig) {
		c.perQuestionAnalyzing = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithCircuitBreaker overrides the answer service circuit breaker.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// WithRetry overrides the answer service retry policy.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.retry = r
	}
}

// WithRemoteTimeout sets the timeout of a single answer service call.
func WithRemoteTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.remoteTimeout = d
	}
}

// NewTestHarness creates and starts a full answerdesk test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		remoteTimeout:  5 * time.Second,
		retry:          config.RetryConfig{MaxAttempts: 1},
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 50,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:       t,
		issuer:  newTokenIssuer(),
		backend: newMockBackend(t),
	}

	// Step 1: Build config.
	h.cfg = &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			HandlerTimeout: hc.handlerTimeout,
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: config.IdentityConfig{
			Issuer:   h.issuer.Issuer(),
			Audience: h.issuer.Audience(),
		},
		Remote: config.RemoteConfig{
			BaseURL:        h.backend.URL(),
			Timeout:        hc.remoteTimeout,
			CircuitBreaker: hc.breaker,
			Retry:          hc.retry,
			Endpoints:      config.DefaultEndpoints(),
		},
		Observability: config.ObservabilityConfig{
			Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}

	// Step 2: Build the store, the remote client and the collaborators.
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)

	var storeOpts []state.Option
	if hc.scopedErrors {
		storeOpts = append(storeOpts, state.WithScopedErrors())
	}
	if hc.perQuestionAnalyzing {
		storeOpts = append(storeOpts, state.WithPerQuestionAnalyzing())
	}
	h.Store = state.NewStore(storeOpts...)
	h.Client = remote.New(h.cfg.Remote, logger, metrics)
	h.Questions = collaborator.NewMemoryBus(1024, logger, metrics,
		collaborator.WithHistory(1024),
		collaborator.WithRecords(),
	)
	h.Notifications = notify.NewRecorder(100)

	h.Dispatcher = effects.NewDispatcher(h.Store, h.Client,
		effects.WithQuestionList(h.Questions),
		effects.WithNotifier(h.Notifications),
		effects.WithLogger(logger),
		effects.WithMetrics(metrics),
	)

	api, err := openapi.Load()
	if err != nil {
		t.Fatalf("load API document: %v", err)
	}

	// Step 3: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:        h.cfg,
		Logger:        logger,
		Metrics:       metrics,
		Gatherer:      reg,
		Authenticate:  transport.JWTAuthenticator(h.cfg.Identity, h.issuer.secret),
		Dispatcher:    h.Dispatcher,
		Notifications: h.Notifications,
		API:           api,
		Readiness: observability.ReadinessChecks{
			AnswerService: h.Client.Breaker(),
		},
	})

	// Step 4: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
		h.Dispatcher.Wait()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Backend returns the mock answer service.
func (h *TestHarness) Backend() *MockBackend {
	return h.backend
}

// Settle blocks until every effect worker started so far has finished.
func (h *TestHarness) Settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Dispatcher.Drain(ctx); err != nil {
		h.t.Fatalf("effect workers did not settle: %v", err)
	}
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateForeignToken creates a JWT signed with an unknown secret.
func (h *TestHarness) GenerateForeignToken(claims TestClaims) string {
	return h.issuer.GenerateForeignToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PATCH", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

// Do performs a request with additional headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// Slot fetches the workflow projection of q over HTTP.
func (h *TestHarness) Slot(t *testing.T, q, token string) state.SlotProjection {
	t.Helper()
	var slot state.SlotProjection
	h.AssertJSON(t, h.GET("/questions/"+q+"/workflow", token), http.StatusOK, &slot)
	return slot
}

// Global fetches the global workflow projection over HTTP.
func (h *TestHarness) Global(t *testing.T, token string) state.GlobalProjection {
	t.Helper()
	var g state.GlobalProjection
	h.AssertJSON(t, h.GET("/workflow", token), http.StatusOK, &g)
	return g
}

// --- Default test claims ---

// ResponderClaims returns TestClaims for a user answering questions.
func ResponderClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-responder",
		Email:     "responder@example.com",
		Roles:     []string{"responder"},
	}
}

// --- Fixtures ---

// GeneratedFixture returns a generate response carrying a new answer version.
func GeneratedFixture(id, answer string) map[string]any {
	return map[string]any{
		"new_answer_version": map[string]any{
			"id":     id,
			"answer": answer,
		},
	}
}

// VersionsFixture returns a versions response with one entry per answer.
func VersionsFixture(answers ...string) map[string]any {
	versions := make([]map[string]any, len(answers))
	for i, a := range answers {
		versions[i] = map[string]any{
			"id":           fmt.Sprintf("v%d", i+1),
			"answer":       a,
			"generated_at": "2024-01-15T10:30:00Z",
		}
	}
	return map[string]any{"versions": versions}
}
