package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/answerdesk/internal/effects"
	"github.com/pitabwire/answerdesk/internal/state"
	"github.com/pitabwire/answerdesk/model"
)

// intentResponse acknowledges a dispatched intent with the slot as it stood
// right after dispatch.
type intentResponse struct {
	Intent     model.IntentKind     `json:"intent"`
	QuestionID string               `json:"question_id"`
	Revision   uint64               `json:"revision"`
	Slot       state.SlotProjection `json:"slot"`
}

// intentBuilder turns a request into an intent for question q.
type intentBuilder func(r *http.Request, q string) (model.Intent, error)

// handleIntent dispatches the intent built from the request. Network intents
// answer 202 because their outcome arrives later through the event stream;
// synchronous intents answer 200 with the updated slot.
func handleIntent(d *effects.Dispatcher, async bool, build intentBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if model.RequestContextFrom(r.Context()) == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		q := chi.URLParam(r, "questionId")

		intent, err := build(r, q)
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := d.Dispatch(r.Context(), intent); err != nil {
			WriteError(w, err)
			return
		}

		if !async {
			WriteJSON(w, http.StatusOK, d.Store().Slot(q))
			return
		}
		WriteJSON(w, http.StatusAccepted, intentResponse{
			Intent:     intent.Kind(),
			QuestionID: q,
			Revision:   d.Store().Revision(),
			Slot:       d.Store().Slot(q),
		})
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

func buildGenerate(_ *http.Request, q string) (model.Intent, error) {
	return model.GenerateIntent{QuestionID: q}, nil
}

func buildUpdate(r *http.Request, q string) (model.Intent, error) {
	var body struct {
		Answer string `json:"answer"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	return model.UpdateIntent{QuestionID: q, Answer: body.Answer}, nil
}

func buildSubmit(r *http.Request, q string) (model.Intent, error) {
	var body struct {
		Answer string `json:"answer"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	return model.SubmitIntent{QuestionID: q, Answer: body.Answer}, nil
}

func buildNotForMe(_ *http.Request, q string) (model.Intent, error) {
	return model.NotForMeIntent{QuestionID: q}, nil
}

func buildFetchVersions(_ *http.Request, q string) (model.Intent, error) {
	return model.FetchVersionsIntent{QuestionID: q}, nil
}

func buildAnalyze(r *http.Request, q string) (model.Intent, error) {
	var body struct {
		RfpID string `json:"rfp_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	return model.AnalyzeIntent{QuestionID: q, RfpID: body.RfpID}, nil
}

func buildChatRefine(r *http.Request, q string) (model.Intent, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	intent := model.ChatRefineIntent{QuestionID: q, Message: body.Message}
	if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
		intent.UserID = rctx.SubjectID
	}
	return intent, nil
}

func buildToggleEditMode(_ *http.Request, q string) (model.Intent, error) {
	return model.ToggleEditModeIntent{QuestionID: q}, nil
}

func buildToggleVersionPanel(_ *http.Request, q string) (model.Intent, error) {
	return model.ToggleVersionPanelIntent{QuestionID: q}, nil
}

func buildClearSubmissionError(_ *http.Request, q string) (model.Intent, error) {
	return model.ClearSubmissionErrorIntent{QuestionID: q}, nil
}

func buildClearChatSaved(_ *http.Request, q string) (model.Intent, error) {
	return model.ClearChatSavedIntent{QuestionID: q}, nil
}
