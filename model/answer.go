package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Submit status values carried on a question record.
const (
	SubmitStatusProcess      = "process"
	SubmitStatusSubmitted    = "submitted"
	SubmitStatusNotSubmitted = "not submitted"
)

// Version is an immutable historical answer snapshot for a question.
type Version struct {
	ID          string     `json:"id"`
	Answer      string     `json:"answer"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// UnmarshalJSON accepts both string and numeric ids, since upstream
// version rows are not consistent about the id type.
func (v *Version) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		Answer      *string         `json:"answer"`
		GeneratedAt *time.Time      `json:"generated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := decodeOpaqueID(raw.ID)
	if err != nil {
		return fmt.Errorf("version id: %w", err)
	}
	v.ID = id
	v.Answer = ""
	if raw.Answer != nil {
		v.Answer = *raw.Answer
	}
	v.GeneratedAt = raw.GeneratedAt
	return nil
}

func decodeOpaqueID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// AnalysisResult is the AI analysis payload for a question. Raw keeps the
// payload exactly as received; the typed fields are a convenience view.
type AnalysisResult struct {
	Score        float64         `json:"score"`
	QuestionText string          `json:"question_text,omitempty"`
	Answer       string          `json:"answer,omitempty"`
	Feedback     string          `json:"feedback,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// ParseAnalysisResult retains the payload verbatim and fills the typed view
// from whichever fields have the expected shape. Only invalid JSON fails.
func ParseAnalysisResult(data []byte) (AnalysisResult, error) {
	var res AnalysisResult
	if len(bytes.TrimSpace(data)) == 0 {
		return res, nil
	}
	if !json.Valid(data) {
		return AnalysisResult{}, fmt.Errorf("analysis result: invalid JSON")
	}
	res.Raw = append(json.RawMessage(nil), data...)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return res, nil
	}
	res.Score = looseFloat(fields["score"])
	res.QuestionText = looseString(fields["question_text"])
	res.Answer = looseString(fields["answer"])
	res.Feedback = looseString(fields["feedback"])
	return res, nil
}

// looseFloat reads a JSON number or numeric string; anything else is 0.
func looseFloat(raw json.RawMessage) float64 {
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return 0
}

func looseString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// MarshalJSON emits the payload as received when it is available.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 && json.Valid(r.Raw) {
		return r.Raw, nil
	}
	type plain AnalysisResult
	return json.Marshal(plain(r))
}

// Question is the subset of the question-list record this module reads.
// The record itself is owned by the question-list collaborator.
type Question struct {
	ID           string `json:"id"`
	Answer       string `json:"answer"`
	AnswerID     string `json:"answer_id"`
	SubmitStatus string `json:"submit_status"`
	IsSubmitted  bool   `json:"is_submitted"`
}

// AnswerPhase is the explicit lifecycle stage of a question's answer.
type AnswerPhase string

// Answer phases.
const (
	PhaseEmpty     AnswerPhase = "empty"
	PhaseGenerated AnswerPhase = "generated"
	PhaseChatDraft AnswerPhase = "chat_draft"
	PhaseSubmitted AnswerPhase = "submitted"
	PhaseNotForMe  AnswerPhase = "not_for_me"
)

// DerivePhase turns the collaborator's question record and the chat-saved
// marker into a single phase. Rules are checked in order; the first match wins.
func DerivePhase(q Question, chatPromptSaved bool) AnswerPhase {
	status := strings.ToLower(strings.TrimSpace(q.SubmitStatus))
	hasAnswer := strings.TrimSpace(q.Answer) != ""

	switch {
	case q.IsSubmitted || status == SubmitStatusSubmitted:
		return PhaseSubmitted
	case status == SubmitStatusNotSubmitted && !hasAnswer:
		return PhaseNotForMe
	case hasAnswer && chatPromptSaved:
		return PhaseChatDraft
	case hasAnswer || q.AnswerID != "":
		return PhaseGenerated
	default:
		return PhaseEmpty
	}
}
