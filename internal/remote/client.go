// Package remote is the HTTP client of the answer service. It implements
// model.AnswerService with a circuit breaker, GET-only retries, outbound
// trace propagation and backend metrics.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/config"
	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/model"
)

// Operation names, used as metric labels and span names.
const (
	OpGenerate = "generate"
	OpUpdate   = "update"
	OpSubmit   = "submit"
	OpVersions = "versions"
	OpAnalyze  = "analyze"
	OpChat     = "chat"
)

const maxResponseBytes = 10 << 20

// Client calls the answer service. It is safe for concurrent use.
type Client struct {
	baseURL   string
	endpoints config.EndpointsConfig
	retry     config.RetryConfig
	http      *http.Client
	breaker   *Breaker
	metrics   *observability.Metrics
	logger    *zap.Logger
}

var _ model.AnswerService = (*Client)(nil)

// New creates a client from cfg. metrics may be nil.
func New(cfg config.RemoteConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoints := withDefaultEndpoints(cfg.Endpoints)
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		endpoints: endpoints,
		retry:     cfg.Retry,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		metrics: metrics,
		logger:  logger.Named("remote"),
	}
	c.breaker = NewBreaker(cfg.CircuitBreaker, func(s BreakerState) {
		c.metrics.SetBackendCircuitBreakerState(float64(s))
		c.logger.Warn("answer service circuit breaker changed state", zap.Stringer("state", s))
	})
	return c
}

// Breaker exposes the client's circuit breaker for readiness checks.
func (c *Client) Breaker() *Breaker { return c.breaker }

// --- model.AnswerService ---

// Generate calls GET {generate}.
func (c *Client) Generate(ctx context.Context, questionID string) (model.AnswerPayload, error) {
	body, err := c.call(ctx, OpGenerate, http.MethodGet, c.path(c.endpoints.Generate, questionID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodePayload(body), nil
}

// UpdateAnswer calls PATCH {update} with {answer}.
func (c *Client) UpdateAnswer(ctx context.Context, questionID, answer string) (model.AnswerPayload, error) {
	reqBody := map[string]any{"answer": answer}
	body, err := c.call(ctx, OpUpdate, http.MethodPatch, c.path(c.endpoints.Update, questionID), nil, reqBody)
	if err != nil {
		return nil, err
	}
	return decodePayload(body), nil
}

// Submit calls PATCH {submit}?question_id=&status= with body.
func (c *Client) Submit(ctx context.Context, questionID string, reqBody map[string]any, status string) (model.AnswerPayload, error) {
	if reqBody == nil {
		reqBody = map[string]any{}
	}
	query := url.Values{}
	query.Set("question_id", questionID)
	query.Set("status", status)
	body, err := c.call(ctx, OpSubmit, http.MethodPatch, c.path(c.endpoints.Submit, questionID), query, reqBody)
	if err != nil {
		return nil, err
	}
	return decodePayload(body), nil
}

// ListVersions calls GET {versions}. The response is {"versions": [...]};
// a bare array is accepted as well. A missing list yields an empty slice.
func (c *Client) ListVersions(ctx context.Context, questionID string) ([]model.Version, error) {
	body, err := c.call(ctx, OpVersions, http.MethodGet, c.path(c.endpoints.Versions, questionID), nil, nil)
	if err != nil {
		return nil, err
	}
	versions, err := decodeVersions(body)
	if err != nil {
		return nil, &model.RemoteError{StatusCode: http.StatusOK, Err: fmt.Errorf("remote: decode versions: %w", err)}
	}
	return versions, nil
}

// Analyze calls POST {analyze}?rfp_id=&question_id=.
func (c *Client) Analyze(ctx context.Context, rfpID, questionID string) (model.AnalysisResult, error) {
	query := url.Values{}
	query.Set("rfp_id", rfpID)
	query.Set("question_id", questionID)
	body, err := c.call(ctx, OpAnalyze, http.MethodPost, c.path(c.endpoints.Analyze, questionID), query, nil)
	if err != nil {
		return model.AnalysisResult{}, err
	}
	res, err := model.ParseAnalysisResult(body)
	if err != nil {
		return model.AnalysisResult{}, &model.RemoteError{StatusCode: http.StatusOK, Err: fmt.Errorf("remote: %w", err)}
	}
	return res, nil
}

// Chat calls POST {chat} with {ques_id, chat_message, user_id}.
func (c *Client) Chat(ctx context.Context, req model.ChatRequest) (model.AnswerPayload, error) {
	body, err := c.call(ctx, OpChat, http.MethodPost, c.path(c.endpoints.Chat, req.QuestionID), nil, req)
	if err != nil {
		return nil, err
	}
	return decodePayload(body), nil
}

// --- execution ---

// call runs one logical request, retrying read-only calls on transport
// failures and retryable statuses. It returns the response body of a 2xx response and a
// *model.RemoteError otherwise.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, reqBody any) (_ []byte, err error) {
	ctx, span := observability.StartSpan(ctx, "remote."+op, observability.AttrOperation.String(op))
	defer func() { observability.EndSpanWithError(span, err) }()

	var payload []byte
	if reqBody != nil {
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("remote: marshal %s body: %w", op, err)
		}
	}
	reqURL := buildRequestURL(c.baseURL, path, query)

	attempts := 1
	if retryable(op, method) && c.retry.MaxAttempts > 1 {
		attempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordBackendRetry(op)
			c.logger.Debug("retrying answer service call",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max", attempts),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, &model.RemoteError{Err: ctx.Err()}
			case <-time.After(calculateBackoff(c.retry, attempt)):
			}
		}

		span.SetAttributes(observability.AttrAttempt.Int(attempt + 1))
		status, body, err := c.do(ctx, op, method, reqURL, payload)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				break
			}
			continue
		}
		lastErr = model.NewRemoteErrorFromBody(status, body)
		if !isRetryableStatus(status) {
			break
		}
	}
	return nil, lastErr
}

// retryable reports whether op may be sent more than once. Generate is a
// GET but every call produces a new answer upstream.
func retryable(op, method string) bool {
	return method == http.MethodGet && op != OpGenerate
}

// do performs a single HTTP exchange under the circuit breaker.
func (c *Client) do(ctx context.Context, op, method, reqURL string, payload []byte) (int, []byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return 0, nil, &model.RemoteError{Err: err}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, nil, &model.RemoteError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header = buildRequestHeaders(ctx, method)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.failure(op, 0)
		c.metrics.RecordBackendRequest(op, 0, time.Since(start))
		return 0, nil, &model.RemoteError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(op, resp.StatusCode, time.Since(start))
	if err != nil {
		c.failure(op, resp.StatusCode)
		return 0, nil, &model.RemoteError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	// 4xx responses are caller errors and do not count against the service.
	switch {
	case resp.StatusCode >= 500:
		c.failure(op, resp.StatusCode)
	case resp.StatusCode < 400:
		c.breaker.Success()
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) failure(op string, status int) {
	c.breaker.Failure()
	rate, total := c.breaker.ErrorRate()
	c.logger.Debug("answer service call failed",
		zap.String("operation", op),
		zap.Int("status", status),
		zap.Float64("window_error_rate", rate),
		zap.Int("window_calls", total),
	)
}

// --- URL, header and body helpers ---

func (c *Client) path(template, questionID string) string {
	return strings.ReplaceAll(template, "{question_id}", url.PathEscape(questionID))
}

func withDefaultEndpoints(ep config.EndpointsConfig) config.EndpointsConfig {
	def := config.DefaultEndpoints()
	if ep.Generate == "" {
		ep.Generate = def.Generate
	}
	if ep.Update == "" {
		ep.Update = def.Update
	}
	if ep.Submit == "" {
		ep.Submit = def.Submit
	}
	if ep.Versions == "" {
		ep.Versions = def.Versions
	}
	if ep.Analyze == "" {
		ep.Analyze = def.Analyze
	}
	if ep.Chat == "" {
		ep.Chat = def.Chat
	}
	return ep
}

func buildRequestURL(baseURL, path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	result := baseURL + path
	if len(query) > 0 {
		result += "?" + query.Encode()
	}
	return result
}

func buildRequestHeaders(ctx context.Context, method string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}

	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
	}

	observability.InjectTraceHeaders(ctx, h)
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// decodePayload decodes a JSON object body. Empty or non-object bodies give
// an empty payload, from which every probe extracts "".
func decodePayload(body []byte) model.AnswerPayload {
	var p model.AnswerPayload
	if err := json.Unmarshal(body, &p); err != nil || p == nil {
		return model.AnswerPayload{}
	}
	return p
}

func decodeVersions(body []byte) ([]model.Version, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []model.Version{}, nil
	}

	var list []model.Version
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Versions []model.Version `json:"versions"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		list = wrapped.Versions
	}
	if list == nil {
		list = []model.Version{}
	}
	return list, nil
}

// --- classification helpers ---

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
