package rabbitmq

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"live-quiz-scheduler/internal/domain"
)

type recordingPublisher struct {
	exchange string
	messages []amqp.Publishing
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	p.exchange = exchange
	p.messages = append(p.messages, msg)
	return nil
}

type channelSink chan domain.Notification

func (s channelSink) Deliver(n domain.Notification) { s <- n }

func newTestDispatcher(pub publisher) *Dispatcher {
	return &Dispatcher{
		pub:      pub,
		exchange: DefaultExchange,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestPublishEncodesNotification(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(pub)

	if err := d.SendToParticipant(context.Background(), "quiz-1", "alice", domain.Participation{ID: 7}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.exchange != DefaultExchange || len(pub.messages) != 1 {
		t.Fatalf("unexpected publish %q %d", pub.exchange, len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", msg.ContentType)
	}

	n, err := domain.DecodeNotification(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Type != domain.NotificationParticipation || n.ParticipantID != "alice" || n.QuizID != "quiz-1" {
		t.Fatalf("unexpected notification %+v", n)
	}
	var p domain.Participation
	if err := json.Unmarshal(n.Payload.(json.RawMessage), &p); err != nil || p.ID != 7 {
		t.Fatalf("unexpected payload %+v %v", p, err)
	}
}

func TestForwardDeliversAndSkipsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newTestDispatcher(&recordingPublisher{})

	body, _ := json.Marshal(domain.Notification{Type: domain.NotificationQuizStart, QuizID: "quiz-1", Payload: domain.Quiz{ID: "quiz-1"}})
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Body: []byte("not json")}
	deliveries <- amqp.Delivery{Body: body}

	sink := make(channelSink, 1)
	go d.forward(ctx, deliveries, sink)

	select {
	case n := <-sink:
		if n.Type != domain.NotificationQuizStart || n.QuizID != "quiz-1" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}
