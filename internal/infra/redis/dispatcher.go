package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"live-quiz-scheduler/internal/domain"
)

// DefaultChannel carries quiz notifications between nodes.
const DefaultChannel = "quiz:notifications"

// Sink receives notifications for locally connected clients.
type Sink interface {
	Deliver(n domain.Notification)
}

// Dispatcher publishes notifications on a pub/sub channel so every node can
// deliver them to the clients it holds.
type Dispatcher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewDispatcher(client *redis.Client, channel string, logger *slog.Logger) *Dispatcher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, channel: channel, logger: logger.With("component", "redis_dispatch")}
}

func (d *Dispatcher) SendToParticipant(ctx context.Context, quizID, participantID string, p domain.Participation) error {
	return d.publish(ctx, domain.Notification{
		Type:          domain.NotificationParticipation,
		QuizID:        quizID,
		ParticipantID: participantID,
		Payload:       p,
	})
}

func (d *Dispatcher) BroadcastQuizStart(ctx context.Context, quiz domain.Quiz) error {
	return d.publish(ctx, domain.Notification{
		Type:    domain.NotificationQuizStart,
		QuizID:  quiz.ID,
		Payload: quiz,
	})
}

func (d *Dispatcher) publish(ctx context.Context, n domain.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}
	return nil
}

// Subscribe forwards every notification on the channel to sink until ctx is done.
// It returns once the subscription is confirmed.
func (d *Dispatcher) Subscribe(ctx context.Context, sink Sink) error {
	pubsub := d.client.Subscribe(ctx, d.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", d.channel, err)
	}

	messages := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				n, err := domain.DecodeNotification([]byte(msg.Payload))
				if err != nil {
					d.logger.Warn("drop malformed notification", "error", err)
					continue
				}
				sink.Deliver(n)
			}
		}
	}()
	return nil
}
