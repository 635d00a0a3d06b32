package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/domain"
	"live-quiz-scheduler/internal/infra/memory"
)

func newTestServer(t *testing.T, quiz domain.Quiz) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(nil)
	store := memory.NewStore(map[string]domain.Quiz{quiz.ID: quiz}, map[string]domain.Participant{
		"u1": {Login: "u1", Name: "Alice"},
	})
	service := app.NewQuizScheduleService(app.Deps{
		Sessions:   memory.NewSessionStore(),
		Quizzes:    store,
		Results:    store,
		Dispatcher: hub,
		Statistics: memory.NewStoreStatistics(store),
	})
	server := httptest.NewServer(NewRouter(NewWSHandler(service, hub, nil)))
	t.Cleanup(server.Close)
	return server, hub
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSubmissionFlow(t *testing.T) {
	server, _ := newTestServer(t, sampleQuiz(time.Now().Add(-time.Minute)))
	conn := dial(t, server, "quizId=quiz-1&userId=u1")

	_, quiz := readNext(conn, t, "quiz")
	questions, ok := quiz["questions"].([]any)
	if !ok || len(questions) != 1 {
		t.Fatalf("expected one visible question, got %v", quiz["questions"])
	}
	options := questions[0].(map[string]any)["options"].([]any)
	for _, o := range options {
		if _, leaked := o.(map[string]any)["correct"]; leaked {
			t.Fatalf("correct flag leaked to client: %v", o)
		}
	}

	_, sub := readNext(conn, t, "submission")
	if answers, ok := sub["answers"].([]any); !ok || len(answers) != 0 {
		t.Fatalf("expected empty answers, got %v", sub["answers"])
	}

	update := map[string]any{
		"type": "submission",
		"payload": map[string]any{
			"answers": []map[string]any{{"questionId": "q1", "optionId": "o2"}},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		t.Fatalf("write submission: %v", err)
	}
	_, sub = readNext(conn, t, "submission")
	answers, ok := sub["answers"].([]any)
	if !ok || len(answers) != 1 {
		t.Fatalf("expected stored answer, got %v", sub["answers"])
	}
	if got := answers[0].(map[string]any)["optionId"]; got != "o2" {
		t.Fatalf("expected option o2, got %v", got)
	}
}

func TestWebSocketHidesQuestionsBeforeRelease(t *testing.T) {
	server, _ := newTestServer(t, sampleQuiz(time.Now().Add(time.Hour)))
	conn := dial(t, server, "quizId=quiz-1&userId=u1")

	_, quiz := readNext(conn, t, "quiz")
	if quiz["questions"] != nil {
		t.Fatalf("expected questions hidden before release, got %v", quiz["questions"])
	}
}

func TestWebSocketReceivesQuizStart(t *testing.T) {
	quiz := sampleQuiz(time.Now().Add(-time.Minute))
	server, hub := newTestServer(t, quiz)
	conn := dial(t, server, "quizId=quiz-1&userId=u1")
	readNext(conn, t, "quiz")
	readNext(conn, t, "submission")

	if hub.Subscribers("quiz-1") != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.Subscribers("quiz-1"))
	}
	if err := hub.BroadcastQuizStart(context.Background(), quiz.ForStudents()); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	_, payload := readNext(conn, t, domain.NotificationQuizStart)
	if payload["id"] != "quiz-1" {
		t.Fatalf("expected quiz-1 payload, got %v", payload)
	}
}

func TestWebSocketRejectsMissingParams(t *testing.T) {
	server, _ := newTestServer(t, sampleQuiz(time.Now()))
	resp, err := http.Get(server.URL + "/ws?quizId=quiz-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketUnknownQuiz(t *testing.T) {
	server, _ := newTestServer(t, sampleQuiz(time.Now()))
	conn := dial(t, server, "quizId=missing&userId=u1")
	_, payload := readNext(conn, t, "error")
	if payload["message"] != domain.ErrQuizNotFound.Error() {
		t.Fatalf("expected quiz not found, got %v", payload["message"])
	}
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t, sampleQuiz(time.Now()))
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func sampleQuiz(release time.Time) domain.Quiz {
	return domain.Quiz{
		ID:             "quiz-1",
		Title:          "Arithmetic",
		CourseID:       "course-1",
		ReleaseDate:    release.UTC(),
		Duration:       time.Hour,
		PlannedToStart: true,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5", Correct: false},
				},
				Points: 1,
			},
		},
	}
}
