package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func decodePayload(t *testing.T, raw string) AnswerPayload {
	t.Helper()
	var p AnswerPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return p
}

// --- Extraction priority chain ---

func TestAnswerPayload_nestedVersionWins(t *testing.T) {
	p := decodePayload(t, `{
		"new_answer_version": {"id": "A1", "answer": "Hello"},
		"answer": "flat", "answer_id": "F1"
	}`)
	if got := p.Answer(); got != "Hello" {
		t.Errorf("Answer() = %q, want Hello", got)
	}
	if got := p.AnswerID(); got != "A1" {
		t.Errorf("AnswerID() = %q, want A1", got)
	}
}

func TestAnswerPayload_flatFallback(t *testing.T) {
	p := decodePayload(t, `{"answer": "flat", "answer_id": "F1"}`)
	if got := p.Answer(); got != "flat" {
		t.Errorf("Answer() = %q, want flat", got)
	}
	if got := p.AnswerID(); got != "F1" {
		t.Errorf("AnswerID() = %q, want F1", got)
	}
}

func TestAnswerPayload_emptyNestedFallsThrough(t *testing.T) {
	p := decodePayload(t, `{"new_answer_version": {"id": "", "answer": ""}, "answer": "flat"}`)
	if got := p.Answer(); got != "flat" {
		t.Errorf("Answer() = %q, want flat", got)
	}
	if got := p.AnswerID(); got != "" {
		t.Errorf("AnswerID() = %q, want empty", got)
	}
}

func TestAnswerPayload_numericID(t *testing.T) {
	p := decodePayload(t, `{"new_answer_version": {"id": 42, "answer": "x"}}`)
	if got := p.AnswerID(); got != "42" {
		t.Errorf("AnswerID() = %q, want 42", got)
	}
}

func TestAnswerPayload_nilPayload(t *testing.T) {
	var p AnswerPayload
	if p.Answer() != "" || p.AnswerID() != "" || p.VersionCreated() {
		t.Error("nil payload should extract zero values")
	}
}

func TestAnswerPayload_VersionCreated(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`{"version_created": true}`, true},
		{`{"new_version_created": true}`, true},
		{`{"new_answer_version": {"id": "v2"}}`, true},
		{`{"version_created": false}`, false},
		{`{"new_answer_version": null}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		if got := decodePayload(t, tt.raw).VersionCreated(); got != tt.want {
			t.Errorf("VersionCreated(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

// --- RemoteError ---

func TestRemoteError_messagePriority(t *testing.T) {
	transport := errors.New("connection refused")

	re := &RemoteError{StatusCode: 400, Detail: "Answer required", Message: "Bad", Err: transport}
	if got := re.UserMessage(); got != "Answer required" {
		t.Errorf("UserMessage() = %q, want detail", got)
	}

	re.Detail = ""
	if got := re.UserMessage(); got != "Bad" {
		t.Errorf("UserMessage() = %q, want message", got)
	}

	re.Message = ""
	if got := re.UserMessage(); got != "connection refused" {
		t.Errorf("UserMessage() = %q, want transport text", got)
	}
}

func TestNewRemoteErrorFromBody(t *testing.T) {
	re := NewRemoteErrorFromBody(422, []byte(`{"detail":"Answer required"}`))
	if re.StatusCode != 422 || re.Detail != "Answer required" {
		t.Errorf("got %+v", re)
	}

	re = NewRemoteErrorFromBody(422, []byte(`{"detail":[{"loc":["body","answer"]}]}`))
	if re.Detail != `[{"loc":["body","answer"]}]` {
		t.Errorf("structured detail = %q", re.Detail)
	}

	re = NewRemoteErrorFromBody(502, []byte(`<html>bad gateway</html>`))
	if got := re.UserMessage(); got != "request failed with status code 502" {
		t.Errorf("UserMessage() = %q", got)
	}
}

func TestErrorMessage_unwrapsRemoteError(t *testing.T) {
	wrapped := fmt.Errorf("generate: %w", &RemoteError{StatusCode: 500, Message: "boom"})
	if got := ErrorMessage(wrapped); got != "boom" {
		t.Errorf("ErrorMessage() = %q, want boom", got)
	}
	if got := ErrorMessage(errors.New("plain")); got != "plain" {
		t.Errorf("ErrorMessage() = %q, want plain", got)
	}
	if got := ErrorMessage(nil); got != "" {
		t.Errorf("ErrorMessage(nil) = %q", got)
	}
}
