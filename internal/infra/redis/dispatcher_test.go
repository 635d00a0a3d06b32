package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"live-quiz-scheduler/internal/domain"
)

type collectingSink struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (s *collectingSink) Deliver(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
}

func (s *collectingSink) wait(t *testing.T, n int) []domain.Notification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.got) >= n {
			out := append([]domain.Notification(nil), s.got...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications", n)
	return nil
}

func TestDispatcherFansOutToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewDispatcher(client, "", logger)

	nodeA, nodeB := &collectingSink{}, &collectingSink{}
	if err := dispatcher.Subscribe(ctx, nodeA); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if err := NewDispatcher(client, "", logger).Subscribe(ctx, nodeB); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if err := dispatcher.BroadcastQuizStart(ctx, domain.Quiz{ID: "quiz-1", Title: "Go"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	result := domain.Result{ID: 4, Points: 2}
	if err := dispatcher.SendToParticipant(ctx, "quiz-1", "alice", domain.Participation{ID: 1, Result: &result}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, sink := range []*collectingSink{nodeA, nodeB} {
		got := sink.wait(t, 2)
		if got[0].Type != domain.NotificationQuizStart || got[0].QuizID != "quiz-1" {
			t.Fatalf("unexpected start notification %+v", got[0])
		}
		if got[1].Type != domain.NotificationParticipation || got[1].ParticipantID != "alice" {
			t.Fatalf("unexpected participation notification %+v", got[1])
		}
		var p domain.Participation
		if err := json.Unmarshal(got[1].Payload.(json.RawMessage), &p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p.Result == nil || p.Result.Points != 2 {
			t.Fatalf("unexpected payload %+v", p)
		}
	}
}
