package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. It only
// shares state within one process, so it fits single-node deployments and tests.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	mu       sync.Mutex
	removed  bool
	revision int64
	cache    domain.QuizSessionCache
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session),
	}
}

func (s *SessionStore) ReadView(_ context.Context, quizID string) (domain.QuizSessionCache, error) {
	entry, ok := s.get(quizID)
	if !ok {
		return domain.NewQuizSessionCache(quizID), nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return domain.NewQuizSessionCache(quizID), nil
	}
	return entry.cache.Clone(), nil
}

func (s *SessionStore) WriteView(quizID string) app.SessionWriter {
	return &sessionWriter{store: s, quizID: quizID}
}

func (s *SessionStore) ForEachActive(ctx context.Context, fn func(domain.QuizSessionCache) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		entry, ok := s.get(id)
		if !ok {
			continue
		}
		entry.mu.Lock()
		removed := entry.removed
		cache := entry.cache.Clone()
		entry.mu.Unlock()
		if removed {
			continue
		}
		if err := fn(cache); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *SessionStore) Remove(_ context.Context, quizID string) error {
	s.mu.Lock()
	entry, ok := s.sessions[quizID]
	delete(s.sessions, quizID)
	s.mu.Unlock()
	if ok {
		entry.mu.Lock()
		entry.removed = true
		entry.mu.Unlock()
	}
	return nil
}

func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	entries := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for _, entry := range entries {
		entry.mu.Lock()
		entry.removed = true
		entry.mu.Unlock()
	}
	return nil
}

func (s *SessionStore) get(quizID string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[quizID]
	return entry, ok
}

func (s *SessionStore) getOrCreate(quizID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[quizID]; ok {
		return entry
	}
	entry := &session{cache: domain.NewQuizSessionCache(quizID)}
	s.sessions[quizID] = entry
	return entry
}

type sessionWriter struct {
	store  *SessionStore
	quizID string
}

// mutate runs fn under the entry lock. Only creating writes may bring a removed
// quiz back; everything else fails with domain.ErrSessionNotFound.
func (w *sessionWriter) mutate(create bool, fn func(entry *session) error) error {
	for {
		var entry *session
		if create {
			entry = w.store.getOrCreate(w.quizID)
		} else {
			var ok bool
			if entry, ok = w.store.get(w.quizID); !ok {
				return domain.ErrSessionNotFound
			}
		}

		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			if !create {
				return domain.ErrSessionNotFound
			}
			continue
		}
		err := fn(entry)
		entry.mu.Unlock()
		return err
	}
}

func (w *sessionWriter) Snapshot(_ context.Context) (domain.QuizSessionCache, error) {
	var out domain.QuizSessionCache
	err := w.mutate(false, func(entry *session) error {
		out = entry.cache.Clone()
		return nil
	})
	return out, err
}

func (w *sessionWriter) PutSubmission(_ context.Context, participantID string, sub domain.Submission) (int64, error) {
	var revision int64
	err := w.mutate(true, func(entry *session) error {
		if _, ok := entry.cache.Participations[participantID]; ok {
			return domain.ErrAlreadySubmitted
		}
		if current, ok := entry.cache.Submissions[participantID]; ok && current.Submission.Submitted {
			return domain.ErrAlreadySubmitted
		}
		entry.revision++
		revision = entry.revision
		entry.cache.Submissions[participantID] = domain.PendingSubmission{Submission: sub, Revision: revision}
		return nil
	})
	return revision, err
}

func (w *sessionWriter) Promote(_ context.Context, participantID string, revision int64, participation domain.Participation, result domain.Result) (bool, error) {
	superseded := false
	err := w.mutate(false, func(entry *session) error {
		current, ok := entry.cache.Submissions[participantID]
		superseded = !ok || current.Revision != revision
		entry.cache.Participations[participantID] = participation
		entry.cache.Results[result.ID] = result
		delete(entry.cache.Submissions, participantID)
		return nil
	})
	return superseded, err
}

func (w *sessionWriter) RemoveParticipation(_ context.Context, participantID string) error {
	return w.mutate(false, func(entry *session) error {
		delete(entry.cache.Participations, participantID)
		return nil
	})
}

func (w *sessionWriter) RemoveResults(_ context.Context, ids []int64) error {
	return w.mutate(false, func(entry *session) error {
		for _, id := range ids {
			delete(entry.cache.Results, id)
		}
		return nil
	})
}

func (w *sessionWriter) SetExercise(_ context.Context, quiz domain.Quiz) error {
	return w.mutate(true, func(entry *session) error {
		entry.cache.Exercise = &quiz
		return nil
	})
}

func (w *sessionWriter) SetStartTask(_ context.Context, handle domain.TaskHandle) error {
	return w.mutate(true, func(entry *session) error {
		entry.cache.StartTask = &handle
		return nil
	})
}

func (w *sessionWriter) ClearStartTask(_ context.Context, handleID string) error {
	return w.mutate(false, func(entry *session) error {
		if entry.cache.StartTask == nil {
			return nil
		}
		if handleID == "" || entry.cache.StartTask.ID == handleID {
			entry.cache.StartTask = nil
		}
		return nil
	})
}
