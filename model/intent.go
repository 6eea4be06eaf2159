package model

import "time"

// IntentKind names a user intent.
type IntentKind string

// Asynchronous intents: each one becomes a remote call.
const (
	IntentGenerate      IntentKind = "generate"
	IntentUpdate        IntentKind = "update"
	IntentSubmit        IntentKind = "submit"
	IntentNotForMe      IntentKind = "not_for_me"
	IntentFetchVersions IntentKind = "fetch_versions"
	IntentAnalyze       IntentKind = "analyze"
	IntentChatRefine    IntentKind = "chat_refine"
)

// Synchronous intents: applied straight to the store.
const (
	IntentToggleEditMode       IntentKind = "toggle_edit_mode"
	IntentToggleVersionPanel   IntentKind = "toggle_version_panel"
	IntentClearSubmissionError IntentKind = "clear_submission_error"
	IntentClearChatSaved       IntentKind = "clear_chat_saved"
)

// Intent is a user request dispatched by a UI consumer.
type Intent interface {
	Kind() IntentKind
	Question() string
}

// GenerateIntent requests an AI generated answer.
type GenerateIntent struct {
	QuestionID string `json:"question_id"`
}

// UpdateIntent saves an edited answer.
type UpdateIntent struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SubmitIntent submits the answer for review.
type SubmitIntent struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// NotForMeIntent diverts the question away from the current user.
type NotForMeIntent struct {
	QuestionID string `json:"question_id"`
}

// FetchVersionsIntent refreshes the version history.
type FetchVersionsIntent struct {
	QuestionID string `json:"question_id"`
}

// AnalyzeIntent runs the AI analysis of the answer.
type AnalyzeIntent struct {
	RfpID      string `json:"rfp_id"`
	QuestionID string `json:"question_id"`
}

// ChatRefineIntent refines the answer with a chat prompt.
type ChatRefineIntent struct {
	QuestionID string `json:"question_id"`
	Message    string `json:"message"`
	UserID     string `json:"user_id"`
}

// ToggleEditModeIntent flips the editable state of the answer textarea.
type ToggleEditModeIntent struct {
	QuestionID string `json:"question_id"`
}

// ToggleVersionPanelIntent flips the version dropdown visibility.
type ToggleVersionPanelIntent struct {
	QuestionID string `json:"question_id"`
}

// ClearSubmissionErrorIntent drops the question's submission error.
type ClearSubmissionErrorIntent struct {
	QuestionID string `json:"question_id"`
}

// ClearChatSavedIntent drops the chat draft marker.
type ClearChatSavedIntent struct {
	QuestionID string `json:"question_id"`
}

func (i GenerateIntent) Kind() IntentKind             { return IntentGenerate }
func (i UpdateIntent) Kind() IntentKind               { return IntentUpdate }
func (i SubmitIntent) Kind() IntentKind               { return IntentSubmit }
func (i NotForMeIntent) Kind() IntentKind             { return IntentNotForMe }
func (i FetchVersionsIntent) Kind() IntentKind        { return IntentFetchVersions }
func (i AnalyzeIntent) Kind() IntentKind              { return IntentAnalyze }
func (i ChatRefineIntent) Kind() IntentKind           { return IntentChatRefine }
func (i ToggleEditModeIntent) Kind() IntentKind       { return IntentToggleEditMode }
func (i ToggleVersionPanelIntent) Kind() IntentKind   { return IntentToggleVersionPanel }
func (i ClearSubmissionErrorIntent) Kind() IntentKind { return IntentClearSubmissionError }
func (i ClearChatSavedIntent) Kind() IntentKind       { return IntentClearChatSaved }

func (i GenerateIntent) Question() string             { return i.QuestionID }
func (i UpdateIntent) Question() string               { return i.QuestionID }
func (i SubmitIntent) Question() string               { return i.QuestionID }
func (i NotForMeIntent) Question() string             { return i.QuestionID }
func (i FetchVersionsIntent) Question() string        { return i.QuestionID }
func (i AnalyzeIntent) Question() string              { return i.QuestionID }
func (i ChatRefineIntent) Question() string           { return i.QuestionID }
func (i ToggleEditModeIntent) Question() string       { return i.QuestionID }
func (i ToggleVersionPanelIntent) Question() string   { return i.QuestionID }
func (i ClearSubmissionErrorIntent) Question() string { return i.QuestionID }
func (i ClearChatSavedIntent) Question() string       { return i.QuestionID }

// Collaborator intent types.
const (
	CollaboratorSetFields      = "set_fields"
	CollaboratorRelistAssigned = "relist_assigned"
)

// QuestionFields is a partial update of a question record. Nil fields are
// left untouched by the question-list collaborator.
type QuestionFields struct {
	Answer       *string `json:"answer,omitempty"`
	AnswerID     *string `json:"answer_id,omitempty"`
	SubmitStatus *string `json:"submit_status,omitempty"`
	IsSubmitted  *bool   `json:"is_submitted,omitempty"`
}

// CollaboratorIntent is a fire-and-forget request sent to the question-list
// collaborator.
type CollaboratorIntent struct {
	Type       string          `json:"type"`
	QuestionID string          `json:"question_id,omitempty"`
	Fields     *QuestionFields `json:"fields,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notification levels.
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
)

// Notification is a user-facing toast emitted by an effect worker.
type Notification struct {
	ID         string     `json:"id"`
	Level      string     `json:"level"`
	Intent     IntentKind `json:"intent"`
	QuestionID string     `json:"question_id,omitempty"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// OptionalString returns a pointer to s, or nil when s is empty.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
