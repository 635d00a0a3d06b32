package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"live-quiz-scheduler/internal/domain"
)

// Store is an in-memory durable store: quiz definitions, users and the saved
// participations, submissions and results. Useful for tests and demos.
type Store struct {
	mu             sync.RWMutex
	quizzes        map[string]domain.Quiz
	users          map[string]domain.Participant
	participations map[int64]domain.Participation
	submissions    map[int64]domain.Submission
	results        map[int64]domain.Result
	seq            int64
}

func NewStore(quizzes map[string]domain.Quiz, users map[string]domain.Participant) *Store {
	s := &Store{
		quizzes:        make(map[string]domain.Quiz),
		users:          make(map[string]domain.Participant),
		participations: make(map[int64]domain.Participation),
		submissions:    make(map[int64]domain.Submission),
		results:        make(map[int64]domain.Result),
	}
	for id, quiz := range quizzes {
		s.quizzes[id] = quiz
	}
	for id, user := range users {
		s.users[id] = user
	}
	return s
}

// PutQuiz adds or replaces a quiz definition.
func (s *Store) PutQuiz(quiz domain.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = quiz
}

// DeleteQuiz removes a quiz definition.
func (s *Store) DeleteQuiz(quizID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quizzes, quizID)
}

func (s *Store) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz.Questions = nil
	return quiz, nil
}

func (s *Store) LoadQuizWithQuestions(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz.Questions = append([]domain.Question(nil), quiz.Questions...)
	return quiz, nil
}

func (s *Store) ListPlannedToStart(_ context.Context, since time.Time) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quiz, 0)
	for _, quiz := range s.quizzes {
		if quiz.PlannedToStart && quiz.ReleaseDate.After(since) {
			quiz.Questions = nil
			out = append(out, quiz)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseDate.Before(out[j].ReleaseDate) })
	return out, nil
}

func (s *Store) FindParticipant(_ context.Context, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return user, nil
}

func (s *Store) SaveParticipation(_ context.Context, p domain.Participation) (domain.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextIDLocked()
	}
	stored := p
	stored.Exercise, stored.Submission, stored.Result = nil, nil, nil
	s.participations[p.ID] = stored
	return p, nil
}

func (s *Store) SaveSubmission(_ context.Context, sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.nextIDLocked()
	}
	sub.Answers = append([]domain.SubmittedAnswer(nil), sub.Answers...)
	s.submissions[sub.ID] = sub
	return sub, nil
}

func (s *Store) SaveResult(_ context.Context, result domain.Result) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.ID == 0 {
		result.ID = s.nextIDLocked()
	}
	s.results[result.ID] = result
	return result, nil
}

// Participations returns the saved participations of quizID.
func (s *Store) Participations(quizID string) []domain.Participation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participation, 0)
	for _, p := range s.participations {
		if p.ExerciseID == quizID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Submission returns a saved submission by id.
func (s *Store) Submission(id int64) (domain.Submission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	return sub, ok
}

// Result returns a saved result by id.
func (s *Store) Result(id int64) (domain.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

func (s *Store) nextIDLocked() int64 {
	s.seq++
	return s.seq
}
