package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/config"
	"github.com/pitabwire/answerdesk/internal/effects"
	"github.com/pitabwire/answerdesk/internal/notify"
	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/internal/openapi"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config        *config.Config
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Authenticate  func(http.Handler) http.Handler
	Dispatcher    *effects.Dispatcher
	Notifications *notify.Recorder
	Readiness     observability.ReadinessChecks
	API           *openapi.Index

	// EventHeartbeat overrides the keep-alive interval of /events.
	EventHeartbeat time.Duration
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Dispatcher.Store()

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "route not found")
	})

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled && deps.Gatherer != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}
	if deps.API != nil {
		r.Get("/openapi.json", handleAPIDocument(deps.API))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(logger))

		// The event stream is long-lived: no handler timeout, no request log
		// line per event.
		r.Get("/events", handleEvents(store, deps.Metrics, logger, deps.EventHeartbeat))

		r.Group(func(r chi.Router) {
			r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
			r.Use(RequestLogging(logger))

			d := deps.Dispatcher
			v := func(opID string) func(http.Handler) http.Handler { return ValidateBody(deps.API, opID) }

			r.Route("/questions/{questionId}", func(r chi.Router) {
				r.Post("/generate", handleIntent(d, true, buildGenerate))
				r.With(v("updateAnswer")).Patch("/answer", handleIntent(d, true, buildUpdate))
				r.With(v("submitAnswer")).Post("/submit", handleIntent(d, true, buildSubmit))
				r.Post("/not-for-me", handleIntent(d, true, buildNotForMe))
				r.Post("/versions/refresh", handleIntent(d, true, buildFetchVersions))
				r.With(v("analyzeAnswer")).Post("/analyze", handleIntent(d, true, buildAnalyze))
				r.With(v("chatRefine")).Post("/chat", handleIntent(d, true, buildChatRefine))

				r.Post("/edit-mode/toggle", handleIntent(d, false, buildToggleEditMode))
				r.Post("/version-panel/toggle", handleIntent(d, false, buildToggleVersionPanel))
				r.Delete("/submission-error", handleIntent(d, false, buildClearSubmissionError))
				r.Delete("/chat-saved", handleIntent(d, false, buildClearChatSaved))

				r.Get("/workflow", handleGetSlot(store))
				r.With(v("derivePhase")).Post("/phase", handleDerivePhase(store))
			})

			r.Get("/workflow", handleGetGlobal(store))
			r.Get("/notifications", handleListNotifications(deps.Notifications))
		})
	})

	return r
}

func handleAPIDocument(idx *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, idx)
	}
}
