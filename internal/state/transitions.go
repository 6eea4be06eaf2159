package state

import "github.com/pitabwire/answerdesk/model"

// Transition is a named, pure state mutation. Build transitions with the
// constructors in this file and apply them with Store.Apply.
type Transition struct {
	Name       string
	QuestionID string
	apply      func(*State)
}

// Transition names.
const (
	NameGenerateRequested    = "generateRequested"
	NameGenerateSucceeded    = "generateSucceeded"
	NameGenerateFailed       = "generateFailed"
	NameUpdateRequested      = "updateRequested"
	NameUpdateSucceeded      = "updateSucceeded"
	NameUpdateFailed         = "updateFailed"
	NameSubmitRequested      = "submitRequested"
	NameSubmitSucceeded      = "submitSucceeded"
	NameSubmitFailed         = "submitFailed"
	NameNotForMeRequested    = "notForMeRequested"
	NameNotForMeSucceeded    = "notForMeSucceeded"
	NameNotForMeFailed       = "notForMeFailed"
	NameChatRequested        = "chatRequested"
	NameChatSucceeded        = "chatSucceeded"
	NameChatFailed           = "chatFailed"
	NameVersionsRequested    = "versionsRequested"
	NameVersionsSucceeded    = "versionsSucceeded"
	NameVersionsFailed       = "versionsFailed"
	NameToggleVersionPanel   = "toggleVersionPanel"
	NameAnalyzeRequested     = "analyzeRequested"
	NameAnalyzeSucceeded     = "analyzeSucceeded"
	NameAnalyzeFailed        = "analyzeFailed"
	NameClearSubmissionError = "clearSubmissionError"
	NameToggleEditMode       = "toggleEditMode"
	NameClearChatSaved       = "clearChatSaved"
)

func transition(name, q string, fn func(*State)) Transition {
	return Transition{Name: name, QuestionID: q, apply: fn}
}

// --- Generate ---

// GenerateRequested marks a generate call as in flight for q.
func GenerateRequested(q string) Transition {
	return transition(NameGenerateRequested, q, func(st *State) {
		st.slot(q).generating = true
	})
}

// GenerateSucceeded ends the generate call. A generated answer supersedes
// any chat draft.
func GenerateSucceeded(q string) Transition {
	return transition(NameGenerateSucceeded, q, func(st *State) {
		s := st.slot(q)
		s.generating = false
		s.chatPromptSaved = false
	})
}

// GenerateFailed ends the generate call and records the error globally.
func GenerateFailed(q, msg string) Transition {
	return transition(NameGenerateFailed, q, func(st *State) {
		st.slot(q).generating = false
		st.err = msg
	})
}

// --- Update ---

// UpdateRequested raises the shared loading flag.
func UpdateRequested() Transition {
	return transition(NameUpdateRequested, "", func(st *State) {
		st.loading = true
	})
}

// UpdateSucceeded clears the loading flag. The analysis of q no longer
// describes the saved answer, so it is dropped.
func UpdateSucceeded(q string) Transition {
	return transition(NameUpdateSucceeded, q, func(st *State) {
		st.loading = false
		if q != "" {
			st.slot(q).analysisResult = nil
		}
	})
}

// UpdateFailed clears the loading flag and records the error.
func UpdateFailed(msg string) Transition {
	return transition(NameUpdateFailed, "", func(st *State) {
		st.loading = false
		st.err = msg
	})
}

// --- Submit ---

// SubmitRequested raises the shared loading flag.
func SubmitRequested() Transition {
	return transition(NameSubmitRequested, "", func(st *State) {
		st.loading = true
	})
}

// SubmitSucceeded clears the loading flag, the chat draft marker and the
// analysis of q.
func SubmitSucceeded(q string) Transition {
	return transition(NameSubmitSucceeded, q, func(st *State) {
		st.loading = false
		if q != "" {
			s := st.slot(q)
			s.chatPromptSaved = false
			s.analysisResult = nil
		}
	})
}

// SubmitFailed clears the loading flag and records the error. With scoped
// errors the message is also kept as q's submission error.
func SubmitFailed(q, msg string) Transition {
	return transition(NameSubmitFailed, q, func(st *State) {
		st.loading = false
		st.err = msg
		if st.scopedErrors && q != "" {
			st.slot(q).submissionError = msg
		}
	})
}

// --- Not for me ---

// NotForMeRequested raises the shared loading flag.
func NotForMeRequested() Transition {
	return transition(NameNotForMeRequested, "", func(st *State) {
		st.loading = true
	})
}

// NotForMeSucceeded clears the loading flag and the chat draft marker of q.
func NotForMeSucceeded(q string) Transition {
	return transition(NameNotForMeSucceeded, q, func(st *State) {
		st.loading = false
		if q != "" {
			st.slot(q).chatPromptSaved = false
		}
	})
}

// NotForMeFailed clears the loading flag and records the error.
func NotForMeFailed(msg string) Transition {
	return transition(NameNotForMeFailed, "", func(st *State) {
		st.loading = false
		st.err = msg
	})
}

// --- Chat ---

// ChatRequested raises the chat loading flag and clears the last chat error.
func ChatRequested() Transition {
	return transition(NameChatRequested, "", func(st *State) {
		st.chatLoading = true
		st.chatErr = ""
	})
}

// ChatSucceeded clears the chat loading flag and marks q's answer as a chat
// draft.
func ChatSucceeded(q string) Transition {
	return transition(NameChatSucceeded, q, func(st *State) {
		st.chatLoading = false
		if q != "" {
			st.slot(q).chatPromptSaved = true
		}
	})
}

// ChatFailed clears the chat loading flag and records the chat error.
func ChatFailed(msg string) Transition {
	return transition(NameChatFailed, "", func(st *State) {
		st.chatLoading = false
		st.chatErr = msg
	})
}

// --- Versions ---

// VersionsRequested marks a version fetch as in flight for q.
func VersionsRequested(q string) Transition {
	return transition(NameVersionsRequested, q, func(st *State) {
		s := st.slot(q)
		s.loadingVersions = true
		if st.scopedErrors {
			s.versionsError = ""
		}
	})
}

// VersionsSucceeded replaces q's version history wholesale.
func VersionsSucceeded(q string, versions []model.Version) Transition {
	list := make([]model.Version, len(versions))
	copy(list, versions)
	return transition(NameVersionsSucceeded, q, func(st *State) {
		s := st.slot(q)
		s.versions = list
		s.loadingVersions = false
		s.versionsError = ""
	})
}

// VersionsFailed records a failed version fetch. By default the message
// goes to the global error and q's loading flag is left untouched; with
// scoped errors it is kept on q's slot and the loading flag is cleared.
func VersionsFailed(q, msg string) Transition {
	return transition(NameVersionsFailed, q, func(st *State) {
		if st.scopedErrors && q != "" {
			s := st.slot(q)
			s.versionsError = msg
			s.loadingVersions = false
			return
		}
		st.err = msg
	})
}

// ToggleVersionPanel flips q's version dropdown visibility.
func ToggleVersionPanel(q string) Transition {
	return transition(NameToggleVersionPanel, q, func(st *State) {
		s := st.slot(q)
		s.showVersionDropdown = !s.showVersionDropdown
	})
}

// --- Analyze ---

// AnalyzeRequested marks q as being analyzed. In the default mode this
// overwrites the single global marker, even if another question is still
// being analyzed.
func AnalyzeRequested(q string) Transition {
	return transition(NameAnalyzeRequested, q, func(st *State) {
		if st.perQuestionAnalyzing {
			st.slot(q).analyzing = true
			return
		}
		st.analyzingID = q
	})
}

// AnalyzeSucceeded stores q's analysis and clears the in-flight marker.
func AnalyzeSucceeded(q string, result model.AnalysisResult) Transition {
	res := result
	if result.Raw != nil {
		res.Raw = append([]byte(nil), result.Raw...)
	}
	return transition(NameAnalyzeSucceeded, q, func(st *State) {
		s := st.slot(q)
		r := res
		s.analysisResult = &r
		if st.perQuestionAnalyzing {
			s.analyzing = false
			return
		}
		st.analyzingID = ""
	})
}

// AnalyzeFailed clears the in-flight marker and records the error.
func AnalyzeFailed(q, msg string) Transition {
	return transition(NameAnalyzeFailed, q, func(st *State) {
		st.err = msg
		if st.perQuestionAnalyzing {
			if q != "" {
				st.slot(q).analyzing = false
			}
			return
		}
		st.analyzingID = ""
	})
}

// --- Local UI state ---

// ClearSubmissionError drops q's submission error.
func ClearSubmissionError(q string) Transition {
	return transition(NameClearSubmissionError, q, func(st *State) {
		st.slot(q).submissionError = ""
	})
}

// ToggleEditMode flips q's editable state.
func ToggleEditMode(q string) Transition {
	return transition(NameToggleEditMode, q, func(st *State) {
		s := st.slot(q)
		s.editing = !s.editing
	})
}

// ClearChatSaved drops q's chat draft marker.
func ClearChatSaved(q string) Transition {
	return transition(NameClearChatSaved, q, func(st *State) {
		st.slot(q).chatPromptSaved = false
	})
}
