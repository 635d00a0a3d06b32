package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/domain"
)

// Message types on the client channel.
const (
	msgQuiz          = "quiz"
	msgSubmission    = "submission"
	msgParticipation = domain.NotificationParticipation
	msgError         = "error"
)

type WSHandler struct {
	service  *app.QuizScheduleService
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizScheduleService, hub *Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		hub:     hub,
		logger:  logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(msg string) outboundMessage {
	return outboundMessage{Type: msgError, Payload: errorPayload{Message: msg}}
}

// ServeWS upgrades the request and binds the connection to one participant of one quiz.
// Clients push submission edits; the node pushes quiz start and participation notifications.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	ctx := r.Context()

	quiz, err := h.service.GetQuiz(ctx, quizID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err.Error()))
		return
	}

	updates, cancel := h.hub.Subscribe(quizID, userID)
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", "quiz_id", quizID, "participant_id", userID, "error", err)
				failed = true
				_ = conn.Close()
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case n, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: n.Type, Payload: n.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: msgQuiz, Payload: visibleQuiz(quiz, time.Now())}
	if p, ok, err := h.service.GetParticipation(ctx, quizID, userID); err == nil && ok {
		send <- outboundMessage{Type: msgParticipation, Payload: domain.ForParticipant(p)}
	} else if sub, err := h.service.GetSubmission(ctx, quizID, userID); err == nil {
		send <- outboundMessage{Type: msgSubmission, Payload: sub}
	} else {
		send <- errorMessage(err.Error())
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case msgSubmission:
			var sub domain.Submission
			if err := json.Unmarshal(inbound.Payload, &sub); err != nil {
				send <- errorMessage("invalid submission payload")
				continue
			}
			if err := h.service.UpdateSubmission(ctx, quizID, userID, sub); err != nil {
				send <- errorMessage(err.Error())
				continue
			}
			current, err := h.service.GetSubmission(ctx, quizID, userID)
			if err != nil {
				send <- errorMessage(err.Error())
				continue
			}
			send <- outboundMessage{Type: msgSubmission, Payload: current}
		default:
			send <- errorMessage("unsupported message type")
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// visibleQuiz hides questions until the quiz has been released.
func visibleQuiz(quiz domain.Quiz, now time.Time) domain.Quiz {
	out := quiz.ForStudents()
	if !quiz.ReleaseDate.IsZero() && quiz.ReleaseDate.After(now) {
		out.Questions = nil
	}
	return out
}
