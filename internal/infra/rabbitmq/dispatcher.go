package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"live-quiz-scheduler/internal/domain"
)

// DefaultExchange is the fanout exchange quiz notifications are published to.
const DefaultExchange = "quiz_notifications_exchange"

// Sink receives notifications for locally connected clients.
type Sink interface {
	Deliver(n domain.Notification)
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dispatcher publishes notifications to a fanout exchange. Every node binds its
// own exclusive queue, so each one sees every notification.
type Dispatcher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	exchange string
	logger   *slog.Logger
}

// Dial connects to the broker and declares the fanout exchange.
func Dial(url, exchange string, logger *slog.Logger) (*Dispatcher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger = logger.With("component", "amqp_dispatch", "exchange", exchange)
	logger.Info("connected to rabbitmq")
	return &Dispatcher{conn: conn, channel: ch, pub: ch, exchange: exchange, logger: logger}, nil
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
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	err = d.pub.PublishWithContext(ctx,
		d.exchange, // exchange
		"",         // routing key (ignored by fanout)
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Type, err)
	}
	return nil
}

// Subscribe binds an exclusive auto-deleted queue to the exchange and forwards
// deliveries to sink until ctx is done.
func (d *Dispatcher) Subscribe(ctx context.Context, sink Sink) error {
	q, err := d.channel.QueueDeclare(
		"",    // name (let RabbitMQ generate one)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := d.channel.QueueBind(q.Name, "", d.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	deliveries, err := d.channel.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	d.logger.Info("queue bound to exchange", "queue", q.Name)

	go d.forward(ctx, deliveries, sink)
	return nil
}

func (d *Dispatcher) forward(ctx context.Context, deliveries <-chan amqp.Delivery, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				d.logger.Warn("delivery channel closed")
				return
			}
			n, err := domain.DecodeNotification(msg.Body)
			if err != nil {
				d.logger.Warn("drop malformed notification", "error", err)
				continue
			}
			sink.Deliver(n)
		}
	}
}

// Close shuts down the channel and connection.
func (d *Dispatcher) Close() {
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
	d.logger.Info("rabbitmq connection closed")
}
