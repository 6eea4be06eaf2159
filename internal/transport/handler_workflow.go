package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/answerdesk/internal/notify"
	"github.com/pitabwire/answerdesk/internal/state"
	"github.com/pitabwire/answerdesk/model"
)

func handleGetSlot(store *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, store.Slot(chi.URLParam(r, "questionId")))
	}
}

func handleGetGlobal(store *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, store.Global())
	}
}

// handleDerivePhase combines the caller's copy of the question record with
// the workflow slot. The path id wins over any id in the body.
func handleDerivePhase(store *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q model.Question
		if err := decodeBody(r, &q); err != nil {
			WriteError(w, err)
			return
		}
		q.ID = chi.URLParam(r, "questionId")
		WriteJSON(w, http.StatusOK, store.Phase(q))
	}
}

func handleListNotifications(rec *notify.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var items []model.Notification
		if rec != nil {
			if q := r.URL.Query().Get("question_id"); q != "" {
				items = rec.ForQuestion(q)
			} else {
				items = rec.List()
			}
		}
		if items == nil {
			items = []model.Notification{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}
