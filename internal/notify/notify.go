// Package notify delivers user-facing toasts emitted by effect workers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/model"
)

// Toast texts for successful intents.
const (
	MsgGenerated = "Answer generated successfully"
	MsgNotForMe  = "Question marked as not for me"
	MsgRefined   = "Answer refined successfully"
)

// Notifier shows a notification to the user. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// New builds a notification with a fresh id and timestamp.
func New(level string, intent model.IntentKind, q, msg string) model.Notification {
	return model.Notification{
		ID:         uuid.NewString(),
		Level:      level,
		Intent:     intent,
		QuestionID: q,
		Message:    msg,
		Timestamp:  time.Now().UTC(),
	}
}

// Success builds a success notification.
func Success(intent model.IntentKind, q, msg string) model.Notification {
	return New(model.NotificationSuccess, intent, q, msg)
}

// Failure builds an error notification.
func Failure(intent model.IntentKind, q, msg string) model.Notification {
	return New(model.NotificationError, intent, q, msg)
}

// --- LogNotifier ---

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs n at info for success and warn for errors.
func (l *LogNotifier) Notify(_ context.Context, n model.Notification) {
	fields := []zap.Field{
		zap.String("notification_id", n.ID),
		zap.String("intent", string(n.Intent)),
		zap.String("question_id", n.QuestionID),
		zap.String("message", n.Message),
	}
	if n.Level == model.NotificationError {
		l.logger.Warn("notification", fields...)
		return
	}
	l.logger.Info("notification", fields...)
}

// --- Recorder ---

const defaultHistory = 100

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.RWMutex
	items []model.Notification
	max   int
}

// NewRecorder creates a Recorder holding at most size notifications.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = defaultHistory
	}
	return &Recorder{max: size}
}

// Notify appends n, evicting the oldest entry when full.
func (r *Recorder) Notify(_ context.Context, n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if over := len(r.items) - r.max; over > 0 {
		r.items = append([]model.Notification(nil), r.items[over:]...)
	}
}

// List returns the recorded notifications, oldest first.
func (r *Recorder) List() []model.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Notification, len(r.items))
	copy(out, r.items)
	return out
}

// ForQuestion returns the recorded notifications of q, oldest first.
func (r *Recorder) ForQuestion(q string) []model.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Notification
	for _, n := range r.items {
		if n.QuestionID == q {
			out = append(out, n)
		}
	}
	return out
}

// --- RedisNotifier ---

// RedisNotifier publishes notifications as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redis.Cmdable
	channel string
	logger  *zap.Logger
}

// NewRedisNotifier creates a RedisNotifier publishing on channel.
func NewRedisNotifier(client redis.Cmdable, channel string, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, channel: channel, logger: logger.Named("notify")}
}

// Notify publishes n and logs delivery failures.
func (r *RedisNotifier) Notify(ctx context.Context, n model.Notification) {
	data, err := json.Marshal(n)
	if err == nil {
		err = r.client.Publish(ctx, r.channel, data).Err()
	}
	if err != nil {
		r.logger.Error("notification not delivered",
			zap.String("notification_id", n.ID),
			zap.String("channel", r.channel),
			zap.Error(err),
		)
	}
}

// HealthCheck pings Redis.
func (r *RedisNotifier) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// --- Multi ---

// Multi forwards every notification to each notifier in order.
type Multi []Notifier

// Notify forwards n.
func (m Multi) Notify(ctx context.Context, n model.Notification) {
	for _, t := range m {
		t.Notify(ctx, n)
	}
}
