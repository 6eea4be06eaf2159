package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/internal/state"
)

const heartbeatInterval = 15 * time.Second

// handleEvents streams store changes as server-sent events. The first event
// is a "global" snapshot so clients can detect revision gaps from the start;
// every later event is a "change". The optional question_id query parameter
// keeps only the changes of that question plus global ones.
func handleEvents(store *state.Store, metrics *observability.Metrics, logger *zap.Logger, heartbeat time.Duration) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = heartbeatInterval
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		// Streams outlive the server write timeout.
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			WriteError(w, err)
			return
		}

		filter := r.URL.Query().Get("question_id")
		changes := store.Watch(r.Context())
		log := observability.LoggerFrom(r.Context(), logger)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		metrics.AddEventSubscribers(1)
		defer metrics.AddEventSubscribers(-1)

		if err := writeEvent(w, "global", store.Global()); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			log.Debug("event stream not flushable", zap.Error(err))
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				if filter != "" && ch.QuestionID != "" && ch.QuestionID != filter {
					continue
				}
				if err := writeEvent(w, "change", ch); err != nil {
					log.Debug("event stream closed", zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
