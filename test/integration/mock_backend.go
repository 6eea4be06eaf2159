package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Answer service operation names, one per remote endpoint.
const (
	OpGenerate = "generate"
	OpUpdate   = "update"
	OpSubmit   = "submit"
	OpVersions = "versions"
	OpAnalyze  = "analyze"
	OpChat     = "chat"
)

// MockBackend is a configurable HTTP test server that simulates the answer
// service. It allows configuring per-operation responses and records all
// received requests for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	QuestionID  string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	ReceivedAt  time.Time
}

// operationConfig holds the configured responses for a single operation.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// OperationMock is a builder for configuring mock responses for a specific operation.
type OperationMock struct {
	backend *MockBackend
	op      string
}

// operationRoute maps an operation to its HTTP method and path pattern.
type operationRoute struct {
	method      string
	pathPattern string
}

// AnswerRoutes returns the routes of the answer service under the default
// endpoint templates.
func AnswerRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		OpGenerate: {method: "GET", pathPattern: "/answers/{question_id}/generate"},
		OpUpdate:   {method: "PATCH", pathPattern: "/answers/{question_id}"},
		OpSubmit:   {method: "PATCH", pathPattern: "/answers/submit"},
		OpVersions: {method: "GET", pathPattern: "/answers/{question_id}/versions"},
		OpAnalyze:  {method: "POST", pathPattern: "/answers/analyze"},
		OpChat:     {method: "POST", pathPattern: "/answers/chat"},
	}
}

// newMockBackend creates a new mock backend and starts the HTTP test server.
func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:            t,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for op, route := range AnswerRoutes() {
		mux.HandleFunc(route.method+" "+route.pathPattern, mb.handleOperation(op))
	}

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnOperation returns a builder for configuring responses for the named operation.
func (mb *MockBackend) OnOperation(op string) *OperationMock {
	return &OperationMock{backend: mb, op: op}
}

// RespondWith configures the operation to respond with the given status and body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.op, &mockResponse{status: status, body: body})
	return om
}

// RespondWithDetail configures an error response carrying a detail message,
// the shape the answer service uses for failures.
func (om *OperationMock) RespondWithDetail(status int, detail string) *OperationMock {
	return om.RespondWith(status, map[string]any{"detail": detail})
}

// RespondWithDelay configures a delayed response to simulate slow backends.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.backend.addResponse(om.op, &mockResponse{status: status, body: body, delay: delay})
	return om
}

// RespondWithConnectionError configures the operation to close the connection
// to simulate a backend failure.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.op, &mockResponse{connError: true})
	return om
}

func (mb *MockBackend) addResponse(op string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[op]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[op] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleOperation(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			QuestionID:  r.PathValue("question_id"),
			QueryParams: make(map[string]string),
			Headers:     r.Header.Clone(),
			ReceivedAt:  time.Now(),
		}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				rec.QueryParams[key] = values[0]
			}
		}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			if len(body) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(body, &parsed); err == nil {
					rec.Body = parsed
				}
			}
		}

		mb.mu.Lock()
		mb.receivedByOp[op] = append(mb.receivedByOp[op], rec)
		mb.mu.Unlock()

		resp := mb.getNextResponse(op)
		if resp == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
			return
		}

		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				if conn != nil {
					conn.Close()
				}
			}
			return
		}

		if resp.delay > 0 {
			time.Sleep(resp.delay)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) getNextResponse(op string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[op]
	mb.mu.RUnlock()
	if !ok || cfg == nil {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was called the expected number of times.
func (mb *MockBackend) AssertCalled(t *testing.T, op string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[op])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock answer service: operation %q called %d times, want %d", op, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, op string) {
	t.Helper()
	mb.AssertCalled(t, op, 0)
}

// LastRequest returns the last request received for the given operation.
// Returns nil if no requests were recorded.
func (mb *MockBackend) LastRequest(op string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[op]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Calls returns the number of requests received for the given operation.
func (mb *MockBackend) Calls(op string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.receivedByOp[op])
}

// ResetOperation clears recorded requests and configured responses for one operation.
func (mb *MockBackend) ResetOperation(op string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.operations, op)
	delete(mb.receivedByOp, op)
}
