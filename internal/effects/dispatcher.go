// Package effects runs the asynchronous side of the answer workflow. Each
// dispatched network intent becomes one worker goroutine that performs a
// single remote call and maps its outcome onto store transitions,
// question-list intents and notifications.
package effects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/collaborator"
	"github.com/pitabwire/answerdesk/internal/notify"
	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/internal/state"
	"github.com/pitabwire/answerdesk/model"
)

// Dispatch errors.
var (
	ErrNilIntent     = errors.New("effects: nil intent")
	ErrNoQuestion    = errors.New("effects: intent has no question id")
	ErrUnknownIntent = errors.New("effects: unknown intent")
)

// Event describes the outcome of one finished worker.
type Event struct {
	Intent     model.IntentKind `json:"intent"`
	QuestionID string           `json:"question_id"`
	Success    bool             `json:"success"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"`
}

// Observer receives worker lifecycle events.
type Observer interface {
	OnEffectFinished(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// OnEffectFinished calls f.
func (f ObserverFunc) OnEffectFinished(ctx context.Context, event Event) { f(ctx, event) }

// Dispatcher turns intents into store transitions and worker goroutines.
// It is safe for concurrent use.
type Dispatcher struct {
	store     *state.Store
	service   model.AnswerService
	questions collaborator.QuestionList
	notifier  notify.Notifier
	logger    *zap.Logger
	metrics   *observability.Metrics
	observers []Observer

	wg sync.WaitGroup
}

// Option configures optional dependencies.
type Option func(*Dispatcher)

// WithQuestionList sets the question-list collaborator.
func WithQuestionList(q collaborator.QuestionList) Option {
	return func(d *Dispatcher) { d.questions = q }
}

// WithNotifier sets the toast notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithObserver adds a worker observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// NewDispatcher creates a Dispatcher over store and service. Without
// options, collaborator intents and notifications are discarded.
func NewDispatcher(store *state.Store, service model.AnswerService, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		service:   service,
		questions: collaborator.Fanout{},
		notifier:  notify.Multi{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("effects")
	return d
}

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() *state.Store { return d.store }

// Dispatch handles one intent. Synchronous intents are applied to the store
// before Dispatch returns. Network intents apply their request transition
// and start a worker that outlives ctx's cancellation; the returned error
// only reports an intent that could not be dispatched at all.
func (d *Dispatcher) Dispatch(ctx context.Context, intent model.Intent) error {
	if intent == nil {
		return ErrNilIntent
	}
	q := intent.Question()
	if q == "" {
		return fmt.Errorf("%w: %s", ErrNoQuestion, intent.Kind())
	}

	switch in := intent.(type) {
	case model.ToggleEditModeIntent:
		d.store.Apply(state.ToggleEditMode(q))
	case model.ToggleVersionPanelIntent:
		d.store.Apply(state.ToggleVersionPanel(q))
	case model.ClearSubmissionErrorIntent:
		d.store.Apply(state.ClearSubmissionError(q))
	case model.ClearChatSavedIntent:
		d.store.Apply(state.ClearChatSaved(q))

	case model.GenerateIntent:
		d.store.Apply(state.GenerateRequested(q))
		d.spawn(ctx, in, d.generate)
	case model.UpdateIntent:
		d.store.Apply(state.UpdateRequested())
		d.spawn(ctx, in, d.update)
	case model.SubmitIntent:
		d.store.Apply(state.SubmitRequested())
		d.spawn(ctx, in, d.submit)
	case model.NotForMeIntent:
		d.store.Apply(state.NotForMeRequested())
		d.spawn(ctx, in, d.notForMe)
	case model.FetchVersionsIntent:
		d.store.Apply(state.VersionsRequested(q))
		d.spawn(ctx, in, d.fetchVersions)
	case model.AnalyzeIntent:
		d.store.Apply(state.AnalyzeRequested(q))
		d.spawn(ctx, in, d.analyze)
	case model.ChatRefineIntent:
		d.store.Apply(state.ChatRequested())
		d.spawn(ctx, in, d.chatRefine)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownIntent, intent.Kind())
	}
	return nil
}

// Wait blocks until every started worker, including follow-ups they
// dispatched, has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Drain waits for running workers until ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("effects: drain: %w", ctx.Err())
	}
}

// worker performs one remote call and applies its outcome. The returned
// error is the remote failure, already mapped onto the store.
type worker func(ctx context.Context, intent model.Intent) error

func (d *Dispatcher) spawn(ctx context.Context, intent model.Intent, run worker) {
	ctx = context.WithoutCancel(ctx)
	kind := string(intent.Kind())
	q := intent.Question()

	d.wg.Add(1)
	d.metrics.EffectStarted(kind)
	go func() {
		defer d.wg.Done()
		start := time.Now()

		ctx, span := observability.StartSpan(ctx, "effects."+kind,
			observability.AttrIntent.String(kind),
			observability.AttrQuestionID.String(q),
		)
		if rctx := model.RequestContextFrom(ctx); rctx != nil {
			span.SetAttributes(observability.AttrSubjectID.String(rctx.SubjectID))
		}
		logger := observability.RequestLogger(ctx, d.logger).With(
			zap.String("intent", kind),
			zap.String("question_id", q),
		)

		err := run(ctx, intent)

		elapsed := time.Since(start)
		ev := Event{Intent: intent.Kind(), QuestionID: q, Success: err == nil, Duration: elapsed}
		outcome := observability.OutcomeSuccess
		if err != nil {
			outcome = observability.OutcomeFailure
			ev.Error = model.ErrorMessage(err)
			logger.Warn("effect failed", zap.Duration("duration", elapsed), zap.Error(err))
		} else {
			logger.Debug("effect completed", zap.Duration("duration", elapsed))
		}
		span.SetAttributes(observability.AttrOutcome.String(outcome))
		observability.EndSpanWithError(span, err)
		d.metrics.EffectFinished(kind, outcome, elapsed)
		for _, o := range d.observers {
			o.OnEffectFinished(ctx, ev)
		}
	}()
}

func (d *Dispatcher) notify(ctx context.Context, n model.Notification) {
	d.metrics.RecordNotification(n.Level)
	d.notifier.Notify(ctx, n)
}
