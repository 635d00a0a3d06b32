package domain

import "encoding/json"

type wireNotification struct {
	Type          string          `json:"type"`
	QuizID        string          `json:"quizId"`
	ParticipantID string          `json:"participantId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// DecodeNotification parses a notification relayed between nodes. The payload
// is kept as raw JSON and re-encoded verbatim when sent to clients.
func DecodeNotification(raw []byte) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(raw, &w); err != nil {
		return Notification{}, err
	}
	return Notification{Type: w.Type, QuizID: w.QuizID, ParticipantID: w.ParticipantID, Payload: w.Payload}, nil
}
