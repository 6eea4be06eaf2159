// Package collaborator delivers fire-and-forget intents to the question-list
// collaborator, which owns the canonical answer text and submit status of
// every question.
package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/model"
)

// QuestionList receives question-list intents. Delivery failures are logged
// by the implementation and never reported to the caller.
type QuestionList interface {
	// SetFields patches q's record. Nil fields are left untouched.
	SetFields(ctx context.Context, q string, fields model.QuestionFields)

	// RelistAssigned asks the collaborator to refresh the assigned list.
	RelistAssigned(ctx context.Context)
}

func newIntent(typ, q string, fields *model.QuestionFields) model.CollaboratorIntent {
	return model.CollaboratorIntent{
		Type:       typ,
		QuestionID: q,
		Fields:     fields,
		Timestamp:  time.Now().UTC(),
	}
}

// --- MemoryBus ---

const defaultBuffer = 256

// MemoryBus is an in-process QuestionList that offers intents on a buffered
// channel for an in-process consumer. Intents are dropped when the buffer is
// full. WithHistory and WithRecords make the bus keep what it has seen.
type MemoryBus struct {
	mu         sync.RWMutex
	history    []model.CollaboratorIntent
	maxHistory int
	records    map[string]model.Question
	relists    int

	ch      chan model.CollaboratorIntent
	logger  *zap.Logger
	metrics *observability.Metrics
}

// MemoryOption configures a MemoryBus.
type MemoryOption func(*MemoryBus)

// WithHistory keeps the most recent n intents for History.
func WithHistory(n int) MemoryOption {
	return func(b *MemoryBus) { b.maxHistory = n }
}

// WithRecords applies SetFields to in-memory question records for Question.
func WithRecords() MemoryOption {
	return func(b *MemoryBus) { b.records = make(map[string]model.Question) }
}

// NewMemoryBus creates a MemoryBus whose channel holds buffer intents.
func NewMemoryBus(buffer int, logger *zap.Logger, metrics *observability.Metrics, opts ...MemoryOption) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MemoryBus{
		ch:      make(chan model.CollaboratorIntent, buffer),
		logger:  logger.Named("collaborator"),
		metrics: metrics,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetFields patches the in-memory record, when kept, and publishes the intent.
func (b *MemoryBus) SetFields(_ context.Context, q string, fields model.QuestionFields) {
	f := fields
	b.mu.Lock()
	if b.records != nil {
		rec := b.records[q]
		rec.ID = q
		applyFields(&rec, fields)
		b.records[q] = rec
	}
	b.mu.Unlock()

	b.publish(newIntent(model.CollaboratorSetFields, q, &f))
}

// RelistAssigned counts and publishes the intent.
func (b *MemoryBus) RelistAssigned(_ context.Context) {
	b.mu.Lock()
	b.relists++
	b.mu.Unlock()

	b.publish(newIntent(model.CollaboratorRelistAssigned, "", nil))
}

func (b *MemoryBus) publish(in model.CollaboratorIntent) {
	if b.maxHistory > 0 {
		b.mu.Lock()
		b.history = append(b.history, in)
		if over := len(b.history) - b.maxHistory; over > 0 {
			b.history = append([]model.CollaboratorIntent(nil), b.history[over:]...)
		}
		b.mu.Unlock()
	}

	select {
	case b.ch <- in:
		b.metrics.RecordCollaboratorIntent(in.Type, observability.OutcomeSuccess)
	default:
		b.metrics.RecordCollaboratorIntent(in.Type, observability.OutcomeFailure)
		b.logger.Warn("collaborator buffer full, intent dropped",
			zap.String("type", in.Type),
			zap.String("question_id", in.QuestionID),
		)
	}
}

// Intents returns the channel of delivered intents.
func (b *MemoryBus) Intents() <-chan model.CollaboratorIntent { return b.ch }

// History returns a copy of the retained intents, oldest first.
func (b *MemoryBus) History() []model.CollaboratorIntent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.CollaboratorIntent, len(b.history))
	copy(out, b.history)
	return out
}

// Question returns the record assembled from SetFields intents. It reports
// false unless the bus was created WithRecords.
func (b *MemoryBus) Question(q string) (model.Question, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[q]
	return rec, ok
}

// Relists returns the number of RelistAssigned intents received.
func (b *MemoryBus) Relists() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relists
}

func applyFields(rec *model.Question, f model.QuestionFields) {
	if f.Answer != nil {
		rec.Answer = *f.Answer
	}
	if f.AnswerID != nil {
		rec.AnswerID = *f.AnswerID
	}
	if f.SubmitStatus != nil {
		rec.SubmitStatus = *f.SubmitStatus
	}
	if f.IsSubmitted != nil {
		rec.IsSubmitted = *f.IsSubmitted
	}
}

// --- RedisBus ---

const defaultPublishTimeout = 5 * time.Second

// RedisBus publishes intents as JSON messages on a Redis pub/sub channel.
// Each publish runs in the background so callers never wait on Redis.
type RedisBus struct {
	client  redis.Cmdable
	channel string
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// NewRedisBus creates a RedisBus publishing on channel.
func NewRedisBus(client redis.Cmdable, channel string, logger *zap.Logger, metrics *observability.Metrics) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		timeout: defaultPublishTimeout,
		logger:  logger.Named("collaborator"),
		metrics: metrics,
	}
}

// SetFields publishes a set_fields intent.
func (b *RedisBus) SetFields(ctx context.Context, q string, fields model.QuestionFields) {
	b.send(ctx, newIntent(model.CollaboratorSetFields, q, &fields))
}

// RelistAssigned publishes a relist_assigned intent.
func (b *RedisBus) RelistAssigned(ctx context.Context) {
	b.send(ctx, newIntent(model.CollaboratorRelistAssigned, "", nil))
}

func (b *RedisBus) send(ctx context.Context, in model.CollaboratorIntent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		if err := b.Publish(ctx, in); err != nil {
			b.metrics.RecordCollaboratorIntent(in.Type, observability.OutcomeFailure)
			b.logger.Error("collaborator intent not delivered",
				zap.String("type", in.Type),
				zap.String("question_id", in.QuestionID),
				zap.Error(err),
			)
			return
		}
		b.metrics.RecordCollaboratorIntent(in.Type, observability.OutcomeSuccess)
	}()
}

// Wait blocks until every background publish has finished or ctx is done.
func (b *RedisBus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("collaborator: wait: %w", ctx.Err())
	}
}

// Publish marshals and publishes one intent.
func (b *RedisBus) Publish(ctx context.Context, in model.CollaboratorIntent) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal collaborator intent: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", b.channel, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// --- Fanout ---

// Fanout forwards every intent to each of its targets in order.
type Fanout []QuestionList

// SetFields forwards to every target.
func (f Fanout) SetFields(ctx context.Context, q string, fields model.QuestionFields) {
	for _, t := range f {
		t.SetFields(ctx, q, fields)
	}
}

// RelistAssigned forwards to every target.
func (f Fanout) RelistAssigned(ctx context.Context) {
	for _, t := range f {
		t.RelistAssigned(ctx)
	}
}
