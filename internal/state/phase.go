package state

import (
	"strings"

	"github.com/pitabwire/answerdesk/model"
)

// Affordances are the UI actions available for a question.
type Affordances struct {
	CanGenerate     bool `json:"can_generate"`
	CanEdit         bool `json:"can_edit"`
	CanSave         bool `json:"can_save"`
	CanSubmit       bool `json:"can_submit"`
	CanMarkNotForMe bool `json:"can_mark_not_for_me"`
	CanChat         bool `json:"can_chat"`
	CanAnalyze      bool `json:"can_analyze"`
}

// PhaseView is the explicit lifecycle variant of a question with the
// orthogonal editing flag.
type PhaseView struct {
	QuestionID  string            `json:"question_id"`
	Phase       model.AnswerPhase `json:"phase"`
	Editing     bool              `json:"editing"`
	Affordances Affordances       `json:"affordances"`
}

// Phase combines the collaborator's question record with the workflow slot.
func Phase(st *State, q model.Question) PhaseView {
	phase := model.DerivePhase(q, ChatPromptSavedFor(st, q.ID))
	editing := IsEditing(st, q.ID)
	generating := IsGenerating(st, q.ID)
	loading := GenericLoading(st)
	hasAnswer := strings.TrimSpace(q.Answer) != ""
	open := phase != model.PhaseSubmitted

	return PhaseView{
		QuestionID: q.ID,
		Phase:      phase,
		Editing:    editing,
		Affordances: Affordances{
			CanGenerate:     open && !generating && !loading,
			CanEdit:         open && hasAnswer,
			CanSave:         open && editing && !loading,
			CanSubmit:       hasAnswer && (phase == model.PhaseGenerated || phase == model.PhaseChatDraft) && !loading && !generating,
			CanMarkNotForMe: open && phase != model.PhaseNotForMe && !loading,
			CanChat:         open && !ChatLoading(st),
			CanAnalyze:      hasAnswer && !IsAnalyzing(st, q.ID),
		},
	}
}

// Phase derives q's PhaseView from the current state.
func (s *Store) Phase(q model.Question) PhaseView {
	return Select(s, func(st *State) PhaseView { return Phase(st, q) })
}
