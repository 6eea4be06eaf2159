package state

import "github.com/pitabwire/answerdesk/model"

// Selectors are pure reads over a State. Questions without a slot project
// to zero values.

// IsEditing reports whether q's answer is in edit mode.
func IsEditing(st *State, q string) bool { return st.peek(q).editing }

// IsGenerating reports whether a generate call for q is in flight.
func IsGenerating(st *State, q string) bool { return st.peek(q).generating }

// IsVersionsLoading reports whether a version fetch for q is in flight.
func IsVersionsLoading(st *State, q string) bool { return st.peek(q).loadingVersions }

// IsVersionPanelOpen reports whether q's version panel is shown.
func IsVersionPanelOpen(st *State, q string) bool { return st.peek(q).showVersionDropdown }

// ChatPromptSavedFor reports whether q's answer came from a chat refinement
// that has not been superseded.
func ChatPromptSavedFor(st *State, q string) bool { return st.peek(q).chatPromptSaved }

// SubmissionErrorFor returns q's last submit failure. Only written when
// errors are scoped.
func SubmissionErrorFor(st *State, q string) string { return st.peek(q).submissionError }

// VersionsErrorFor returns q's last version fetch failure. Only written when
// errors are scoped.
func VersionsErrorFor(st *State, q string) string { return st.peek(q).versionsError }

// VersionsFor returns a copy of q's cached versions; never nil.
func VersionsFor(st *State, q string) []model.Version {
	src := st.peek(q).versions
	out := make([]model.Version, len(src))
	copy(out, src)
	return out
}

// AnalysisResultFor returns a copy of q's analysis, or nil.
func AnalysisResultFor(st *State, q string) *model.AnalysisResult {
	r := st.peek(q).analysisResult
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// IsAnalyzing reports whether q is the question currently being analyzed.
func IsAnalyzing(st *State, q string) bool {
	if st.perQuestionAnalyzing {
		return st.peek(q).analyzing
	}
	return q != "" && st.analyzingID == q
}

// AnalyzingID returns the global analyze marker. Always empty in
// per-question mode.
func AnalyzingID(st *State) string { return st.analyzingID }

// ChatLoading reports whether a chat refinement is in flight.
func ChatLoading(st *State) bool { return st.chatLoading }

// ChatError returns the last chat refinement failure.
func ChatError(st *State) string { return st.chatErr }

// GenericLoading reports the loading flag shared by answer updates and
// submissions across all questions.
func GenericLoading(st *State) bool { return st.loading }

// GenericError returns the last failure recorded on the shared error.
func GenericError(st *State) string { return st.err }

// SlotProjection bundles the per-question selectors for UI consumers.
type SlotProjection struct {
	QuestionID       string                `json:"question_id"`
	Editing          bool                  `json:"editing"`
	Generating       bool                  `json:"generating"`
	Versions         []model.Version       `json:"versions"`
	VersionsLoading  bool                  `json:"versions_loading"`
	VersionPanelOpen bool                  `json:"version_panel_open"`
	VersionsError    string                `json:"versions_error,omitempty"`
	AnalysisResult   *model.AnalysisResult `json:"analysis_result,omitempty"`
	Analyzing        bool                  `json:"analyzing"`
	ChatPromptSaved  bool                  `json:"chat_prompt_saved"`
	SubmissionError  string                `json:"submission_error,omitempty"`
}

// SlotView projects q's slot.
func SlotView(st *State, q string) SlotProjection {
	return SlotProjection{
		QuestionID:       q,
		Editing:          IsEditing(st, q),
		Generating:       IsGenerating(st, q),
		Versions:         VersionsFor(st, q),
		VersionsLoading:  IsVersionsLoading(st, q),
		VersionPanelOpen: IsVersionPanelOpen(st, q),
		VersionsError:    VersionsErrorFor(st, q),
		AnalysisResult:   AnalysisResultFor(st, q),
		Analyzing:        IsAnalyzing(st, q),
		ChatPromptSaved:  ChatPromptSavedFor(st, q),
		SubmissionError:  SubmissionErrorFor(st, q),
	}
}

// GlobalProjection bundles the global selectors.
type GlobalProjection struct {
	Revision    uint64 `json:"revision"`
	AnalyzingID string `json:"analyzing_id,omitempty"`
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
	ChatLoading bool   `json:"chat_loading"`
	ChatError   string `json:"chat_error,omitempty"`
}

// GlobalView projects the global flags.
func GlobalView(st *State) GlobalProjection {
	return GlobalProjection{
		Revision:    st.revision,
		AnalyzingID: AnalyzingID(st),
		Loading:     GenericLoading(st),
		Error:       GenericError(st),
		ChatLoading: ChatLoading(st),
		ChatError:   ChatError(st),
	}
}
