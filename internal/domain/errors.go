package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a quiz session cache does not exist (or was removed).
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a participant cannot be resolved.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrAlreadySubmitted is returned when a participant's submission is already final.
	ErrAlreadySubmitted = errors.New("submission already final")
	// ErrQuizEnded rejects submission updates after the quiz end date.
	ErrQuizEnded = errors.New("quiz has ended")
	// ErrQuizNotStarted rejects work on a quiz whose release date has not passed.
	ErrQuizNotStarted = errors.New("quiz has not started")
)
