package http

import (
	"context"
	"log/slog"
	"sync"

	"live-quiz-scheduler/internal/domain"
)

const subscriberBuffer = 16

// Hub fans notifications out to the websocket clients connected to this node.
// It is the local Dispatcher and the sink of the redis and amqp dispatchers.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	quizzes map[string]map[uint64]*subscriber
	logger  *slog.Logger
}

type subscriber struct {
	participantID string
	ch            chan domain.Notification
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		quizzes: make(map[string]map[uint64]*subscriber),
		logger:  logger.With("component", "hub"),
	}
}

// Subscribe registers a client of quizID. The returned cancel func unregisters it
// and closes the channel.
func (h *Hub) Subscribe(quizID, participantID string) (<-chan domain.Notification, func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	sub := &subscriber{participantID: participantID, ch: make(chan domain.Notification, subscriberBuffer)}
	subs, ok := h.quizzes[quizID]
	if !ok {
		subs = make(map[uint64]*subscriber)
		h.quizzes[quizID] = subs
	}
	subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.quizzes[quizID], id)
			if len(h.quizzes[quizID]) == 0 {
				delete(h.quizzes, quizID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Deliver hands n to the matching local subscribers. Slow subscribers drop
// notifications rather than block the caller.
func (h *Hub) Deliver(n domain.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.quizzes[n.QuizID] {
		if n.ParticipantID != "" && n.ParticipantID != sub.participantID {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			h.logger.Warn("subscriber buffer full, notification dropped",
				"quiz_id", n.QuizID, "participant_id", sub.participantID, "type", n.Type)
		}
	}
}

// Subscribers returns the number of local clients of quizID.
func (h *Hub) Subscribers(quizID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.quizzes[quizID])
}

func (h *Hub) SendToParticipant(_ context.Context, quizID, participantID string, p domain.Participation) error {
	h.Deliver(domain.Notification{
		Type:          domain.NotificationParticipation,
		QuizID:        quizID,
		ParticipantID: participantID,
		Payload:       p,
	})
	return nil
}

func (h *Hub) BroadcastQuizStart(_ context.Context, quiz domain.Quiz) error {
	h.Deliver(domain.Notification{
		Type:    domain.NotificationQuizStart,
		QuizID:  quiz.ID,
		Payload: quiz,
	})
	return nil
}
