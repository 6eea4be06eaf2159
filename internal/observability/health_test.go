package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	// Set build-time variables for test.
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

func TestHandleHealth_defaultValues(t *testing.T) {
	handler := HandleHealth()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Version == "" {
		t.Error("version should have a default value")
	}
}

type mockHealthChecker struct {
	err   error
	delay time.Duration
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func serveReady(t *testing.T, checks ReadinessChecks) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec, resp
}

func TestHandleReady_answerServiceHealthy(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{AnswerService: &mockHealthChecker{}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if resp.Checks["answer_service"].Status != "ok" {
		t.Errorf("answer_service = %q, want ok", resp.Checks["answer_service"].Status)
	}
	if len(resp.Checks) != 1 {
		t.Errorf("checks count = %d, want 1 (only required checks)", len(resp.Checks))
	}
}

func TestHandleReady_answerServiceMissing(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["answer_service"].Error == "" {
		t.Error("answer_service error should have a message")
	}
}

func TestHandleReady_circuitOpen(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		AnswerService: &mockHealthChecker{err: errors.New("circuit breaker is open")},
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["answer_service"].Error != "circuit breaker is open" {
		t.Errorf("answer_service error = %q", resp.Checks["answer_service"].Error)
	}
}

func TestHandleReady_withOptionalChecks_allHealthy(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		AnswerService: &mockHealthChecker{},
		Collaborator:  &mockHealthChecker{},
		Notifications: &mockHealthChecker{},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(resp.Checks) != 3 {
		t.Errorf("checks count = %d, want 3", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
		if check.LatencyMs < 0 {
			t.Errorf("%s latency = %d, should be >= 0", name, check.LatencyMs)
		}
	}
}

func TestHandleReady_collaboratorDown(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		AnswerService: &mockHealthChecker{},
		Collaborator:  &mockHealthChecker{err: errors.New("redis: connection refused")},
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["collaborator"].Status != "error" {
		t.Errorf("collaborator = %q, want error", resp.Checks["collaborator"].Status)
	}
	if _, ok := resp.Checks["notifications"]; ok {
		t.Error("notifications should not be in checks when nil")
	}
}

func TestHandleReady_slowCheckTimesOut(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		AnswerService: &mockHealthChecker{},
		Notifications: &mockHealthChecker{delay: checkTimeout + time.Second},
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["notifications"].Status != "error" {
		t.Errorf("notifications = %q, want error", resp.Checks["notifications"].Status)
	}
}

func TestHandleReady_multipleFailures(t *testing.T) {
	_, resp := serveReady(t, ReadinessChecks{
		Collaborator:  &mockHealthChecker{err: errors.New("down")},
		Notifications: &mockHealthChecker{err: errors.New("down")},
	})

	failCount := 0
	for _, check := range resp.Checks {
		if check.Status == "error" {
			failCount++
		}
	}
	if failCount != 3 {
		t.Errorf("failed checks = %d, want 3", failCount)
	}
}
