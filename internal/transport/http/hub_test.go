package http

import (
	"context"
	"testing"

	"live-quiz-scheduler/internal/domain"
)

func TestHubRoutesByParticipant(t *testing.T) {
	hub := NewHub(nil)
	alice, cancelAlice := hub.Subscribe("quiz-1", "alice")
	defer cancelAlice()
	bob, cancelBob := hub.Subscribe("quiz-1", "bob")
	defer cancelBob()
	other, cancelOther := hub.Subscribe("quiz-2", "alice")
	defer cancelOther()

	if err := hub.SendToParticipant(context.Background(), "quiz-1", "alice", domain.Participation{ID: 7}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := hub.BroadcastQuizStart(context.Background(), domain.Quiz{ID: "quiz-1"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if n := <-alice; n.Type != domain.NotificationParticipation {
		t.Fatalf("alice expected participation first, got %s", n.Type)
	}
	if n := <-alice; n.Type != domain.NotificationQuizStart {
		t.Fatalf("alice expected start, got %s", n.Type)
	}
	if n := <-bob; n.Type != domain.NotificationQuizStart {
		t.Fatalf("bob expected only the start, got %s", n.Type)
	}
	if len(bob) != 0 || len(other) != 0 {
		t.Fatalf("unexpected deliveries: bob=%d other=%d", len(bob), len(other))
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe("quiz-1", "alice")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Subscribers("quiz-1") != 0 {
		t.Fatalf("expected no subscribers")
	}
	hub.Deliver(domain.Notification{Type: domain.NotificationQuizStart, QuizID: "quiz-1"})
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe("quiz-1", "alice")
	defer cancel()
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Deliver(domain.Notification{Type: domain.NotificationQuizStart, QuizID: "quiz-1"})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected %d buffered, got %d", subscriberBuffer, len(ch))
	}
}
