package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AnswerService is the remote answer backend consumed by the effect workers.
type AnswerService interface {
	// Generate asks the backend to generate an answer for a question.
	Generate(ctx context.Context, questionID string) (AnswerPayload, error)

	// UpdateAnswer saves an edited answer.
	UpdateAnswer(ctx context.Context, questionID, answer string) (AnswerPayload, error)

	// Submit changes the submission status of a question. body is
	// {answer} for a submit and empty for not-for-me.
	Submit(ctx context.Context, questionID string, body map[string]any, status string) (AnswerPayload, error)

	// ListVersions returns the version history of a question's answer in
	// server order.
	ListVersions(ctx context.Context, questionID string) ([]Version, error)

	// Analyze runs the AI analysis of a question's current answer.
	Analyze(ctx context.Context, rfpID, questionID string) (AnalysisResult, error)

	// Chat refines the answer through a chat prompt.
	Chat(ctx context.Context, req ChatRequest) (AnswerPayload, error)
}

// ChatRequest is the body of a chat-refine call.
type ChatRequest struct {
	QuestionID  string `json:"ques_id"`
	ChatMessage string `json:"chat_message"`
	UserID      string `json:"user_id"`
}

// AnswerPayload is a decoded JSON object returned by the answer backend.
// Upstream shapes vary between endpoints and releases, so fields are read
// through probing accessors rather than a fixed struct.
type AnswerPayload map[string]any

// Keys probed by the extraction helpers.
const (
	keyNewAnswerVersion  = "new_answer_version"
	keyAnswer            = "answer"
	keyAnswerID          = "answer_id"
	keyID                = "id"
	keyVersionCreated    = "version_created"
	keyNewVersionCreated = "new_version_created"
)

// Answer returns the answer text: new_answer_version.answer, then answer.
func (p AnswerPayload) Answer() string {
	return firstNonEmpty(
		p.nested(keyNewAnswerVersion, keyAnswer),
		stringValue(p[keyAnswer]),
	)
}

// AnswerID returns the answer id: new_answer_version.id, then answer_id.
func (p AnswerPayload) AnswerID() string {
	return firstNonEmpty(
		p.nested(keyNewAnswerVersion, keyID),
		stringValue(p[keyAnswerID]),
	)
}

// VersionCreated reports whether the backend recorded a new version.
func (p AnswerPayload) VersionCreated() bool {
	if b, ok := p[keyVersionCreated].(bool); ok && b {
		return true
	}
	if b, ok := p[keyNewVersionCreated].(bool); ok && b {
		return true
	}
	v, ok := p[keyNewAnswerVersion].(map[string]any)
	return ok && v != nil
}

func (p AnswerPayload) nested(object, field string) string {
	m, ok := p[object].(map[string]any)
	if !ok {
		return ""
	}
	return stringValue(m[field])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stringValue renders scalar JSON values as strings. Numbers decoded by
// encoding/json arrive as float64 and ids must not gain a ".0" suffix.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// RemoteError is the single failure category of the answer backend: the
// call was rejected by the server or never reached it.
type RemoteError struct {
	StatusCode int
	Detail     string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.UserMessage())
	}
	return "remote: " + e.UserMessage()
}

// Unwrap returns the transport error, if any.
func (e *RemoteError) Unwrap() error { return e.Err }

// UserMessage returns the most specific message available: the server's
// detail field, then its message field, then the transport error text.
func (e *RemoteError) UserMessage() string {
	if msg := strings.TrimSpace(e.Detail); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("request failed with status code %d", e.StatusCode)
	}
	return "request failed"
}

// NewRemoteErrorFromBody builds a RemoteError from a non-2xx response body.
// detail may be a string or a structured validation list; anything that is
// not a string is rendered as compact JSON.
func NewRemoteErrorFromBody(status int, body []byte) *RemoteError {
	re := &RemoteError{StatusCode: status}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return re
	}
	switch d := parsed["detail"].(type) {
	case string:
		re.Detail = d
	case nil:
	default:
		if b, err := json.Marshal(d); err == nil {
			re.Detail = string(b)
		}
	}
	if m, ok := parsed["message"].(string); ok {
		re.Message = m
	}
	return re
}

// ErrorMessage extracts a user-facing message from any error returned by an
// AnswerService call.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.UserMessage()
	}
	return err.Error()
}
