package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/answerdesk/model"
)

func TestNew_fillsIDAndTimestamp(t *testing.T) {
	n := Success(model.IntentGenerate, "q1", MsgGenerated)
	if n.ID == "" {
		t.Error("ID is empty")
	}
	if n.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if n.Level != model.NotificationSuccess || n.Message != "Answer generated successfully" {
		t.Errorf("notification = %+v", n)
	}
	if Failure(model.IntentChatRefine, "q1", "boom").Level != model.NotificationError {
		t.Error("Failure() level is not error")
	}
}

// --- Recorder ---

func TestRecorder_keepsMostRecent(t *testing.T) {
	r := NewRecorder(2)
	ctx := context.Background()
	r.Notify(ctx, Success(model.IntentGenerate, "q1", "one"))
	r.Notify(ctx, Success(model.IntentGenerate, "q2", "two"))
	r.Notify(ctx, Success(model.IntentGenerate, "q1", "three"))

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "two" || got[1].Message != "three" {
		t.Errorf("messages = %q, %q", got[0].Message, got[1].Message)
	}
	if q1 := r.ForQuestion("q1"); len(q1) != 1 || q1[0].Message != "three" {
		t.Errorf("ForQuestion(q1) = %+v", q1)
	}
}

func TestRecorder_defaultHistory(t *testing.T) {
	if r := NewRecorder(0); r.max != defaultHistory {
		t.Errorf("max = %d, want %d", r.max, defaultHistory)
	}
}

// --- LogNotifier ---

func TestLogNotifier_levels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))
	ctx := context.Background()

	n.Notify(ctx, Success(model.IntentNotForMe, "q1", MsgNotForMe))
	n.Notify(ctx, Failure(model.IntentGenerate, "q1", "Generation failed"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != zap.InfoLevel {
		t.Errorf("success level = %v", entries[0].Level)
	}
	if entries[1].Level != zap.WarnLevel {
		t.Errorf("failure level = %v", entries[1].Level)
	}
	if entries[1].ContextMap()["message"] != "Generation failed" {
		t.Errorf("fields = %v", entries[1].ContextMap())
	}
}

// --- RedisNotifier ---

func TestRedisNotifier_publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "answerdesk.notifications")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	NewRedisNotifier(client, "answerdesk.notifications", nil).
		Notify(ctx, Success(model.IntentChatRefine, "q1", MsgRefined))

	select {
	case msg := <-sub.Channel():
		var n model.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if n.Message != MsgRefined || n.Intent != model.IntentChatRefine {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	if err := NewRedisNotifier(client, "c", nil).HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}

// --- Multi ---

func TestMulti_forwards(t *testing.T) {
	a, b := NewRecorder(10), NewRecorder(10)
	Multi{a, b}.Notify(context.Background(), Success(model.IntentGenerate, "q1", MsgGenerated))

	if len(a.List()) != 1 || len(b.List()) != 1 {
		t.Errorf("recorded = %d/%d, want 1/1", len(a.List()), len(b.List()))
	}
}
