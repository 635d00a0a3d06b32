package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/domain"
)

const activeSessionsKey = "quiz:sessions"

// PutSubmission refuses finalized participants, bumps the revision counter and
// registers the quiz as active in one step.
var putSubmissionScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[5], ARGV[2]) == 1 or redis.call('HEXISTS', KEYS[4], ARGV[2]) == 1 then
  return -1
end
local rev = redis.call('INCR', KEYS[6])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[3], ARGV[2], rev)
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[4], ARGV[2], '1')
end
redis.call('SADD', KEYS[1], ARGV[1])
return rev
`)

// Promote returns -1 for a removed quiz, 1 when a newer revision was pending, else 0.
var promoteScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return -1
end
local current = redis.call('HGET', KEYS[3], ARGV[2])
local superseded = 0
if (not current) or current ~= ARGV[3] then
  superseded = 1
end
redis.call('HSET', KEYS[5], ARGV[2], ARGV[4])
redis.call('HSET', KEYS[6], ARGV[5], ARGV[6])
redis.call('HDEL', KEYS[2], ARGV[2])
redis.call('HDEL', KEYS[3], ARGV[2])
redis.call('HDEL', KEYS[4], ARGV[2])
return superseded
`)

var guardedHDelScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return -1
end
for i = 2, #ARGV do
  redis.call('HDEL', KEYS[2], ARGV[i])
end
return 0
`)

var clearStartTaskScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return -1
end
local current = redis.call('HGET', KEYS[2], 'id')
if current and (ARGV[2] == '' or current == ARGV[2]) then
  redis.call('DEL', KEYS[2])
  return 1
end
return 0
`)

// SessionStore keeps quiz session caches in Redis so every node sees the same
// pending work. Data in it is not durable until the drain has saved it: a
// flushed Redis loses buffered submissions.
//
// Reads through ReadView are served from a short-lived node-local copy; local
// writes invalidate it, remote writes become visible after the TTL.
type SessionStore struct {
	client  *redis.Client
	nearTTL time.Duration
	sf      singleflight.Group

	mu   sync.Mutex
	rnd  *rand.Rand
	near map[string]nearEntry
	now  func() time.Time
}

type nearEntry struct {
	cache     domain.QuizSessionCache
	expiresAt time.Time
}

func NewSessionStore(client *redis.Client, nearTTL time.Duration) *SessionStore {
	return &SessionStore{
		client:  client,
		nearTTL: nearTTL,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		near:    make(map[string]nearEntry),
		now:     time.Now,
	}
}

func (s *SessionStore) ReadView(ctx context.Context, quizID string) (domain.QuizSessionCache, error) {
	if cache, ok := s.nearGet(quizID); ok {
		return cache, nil
	}

	result, err, _ := s.sf.Do(quizID, func() (interface{}, error) {
		if cache, ok := s.nearGet(quizID); ok {
			return cache, nil
		}
		cache, err := s.load(ctx, quizID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.NewQuizSessionCache(quizID), nil
		}
		if err != nil {
			return domain.QuizSessionCache{}, err
		}
		s.nearPut(quizID, cache)
		return cache, nil
	})
	if err != nil {
		return domain.QuizSessionCache{}, err
	}
	return result.(domain.QuizSessionCache).Clone(), nil
}

func (s *SessionStore) WriteView(quizID string) app.SessionWriter {
	return &sessionWriter{store: s, quizID: quizID, keys: keysFor(quizID)}
}

func (s *SessionStore) ForEachActive(ctx context.Context, fn func(domain.QuizSessionCache) error) error {
	ids, err := s.client.SMembers(ctx, activeSessionsKey).Result()
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cache, err := s.load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(cache); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionStore) Remove(ctx context.Context, quizID string) error {
	k := keysFor(quizID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, activeSessionsKey, quizID)
		pipe.Del(ctx, k.all()...)
		return nil
	})
	s.invalidate(quizID)
	if err != nil {
		return fmt.Errorf("remove session %s: %w", quizID, err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, activeSessionsKey).Result()
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	for _, id := range ids {
		if err := s.Remove(ctx, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.near = make(map[string]nearEntry)
	s.mu.Unlock()
	return nil
}

// load reads the authoritative state of a quiz in one MULTI/EXEC.
func (s *SessionStore) load(ctx context.Context, quizID string) (domain.QuizSessionCache, error) {
	k := keysFor(quizID)
	var (
		member         *redis.BoolCmd
		submissions    *redis.MapStringStringCmd
		revisions      *redis.MapStringStringCmd
		participations *redis.MapStringStringCmd
		results        *redis.MapStringStringCmd
		exercise       *redis.StringCmd
		start          *redis.MapStringStringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		member = pipe.SIsMember(ctx, activeSessionsKey, quizID)
		submissions = pipe.HGetAll(ctx, k.submissions)
		revisions = pipe.HGetAll(ctx, k.revisions)
		participations = pipe.HGetAll(ctx, k.participations)
		results = pipe.HGetAll(ctx, k.results)
		exercise = pipe.Get(ctx, k.exercise)
		start = pipe.HGetAll(ctx, k.start)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.QuizSessionCache{}, fmt.Errorf("load session %s: %w", quizID, err)
	}
	if !member.Val() {
		return domain.QuizSessionCache{}, domain.ErrSessionNotFound
	}

	cache := domain.NewQuizSessionCache(quizID)
	revs := revisions.Val()
	for participantID, raw := range submissions.Val() {
		var sub domain.Submission
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return domain.QuizSessionCache{}, fmt.Errorf("decode submission %s/%s: %w", quizID, participantID, err)
		}
		rev, _ := strconv.ParseInt(revs[participantID], 10, 64)
		cache.Submissions[participantID] = domain.PendingSubmission{Submission: sub, Revision: rev}
	}
	for participantID, raw := range participations.Val() {
		var p domain.Participation
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return domain.QuizSessionCache{}, fmt.Errorf("decode participation %s/%s: %w", quizID, participantID, err)
		}
		cache.Participations[participantID] = p
	}
	for _, raw := range results.Val() {
		var r domain.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return domain.QuizSessionCache{}, fmt.Errorf("decode result %s: %w", quizID, err)
		}
		cache.Results[r.ID] = r
	}
	if raw, err := exercise.Bytes(); err == nil {
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err != nil {
			return domain.QuizSessionCache{}, fmt.Errorf("decode exercise %s: %w", quizID, err)
		}
		cache.Exercise = &quiz
	}
	if fields := start.Val(); fields["id"] != "" {
		handle := domain.TaskHandle{Key: fields["key"], ID: fields["id"]}
		if ms, err := strconv.ParseInt(fields["fire_at"], 10, 64); err == nil {
			handle.FireAt = time.UnixMilli(ms).UTC()
		}
		cache.StartTask = &handle
	}
	return cache, nil
}

func (s *SessionStore) nearGet(quizID string) (domain.QuizSessionCache, bool) {
	if s.nearTTL <= 0 {
		return domain.QuizSessionCache{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.near[quizID]
	if !ok || !entry.expiresAt.After(s.now()) {
		return domain.QuizSessionCache{}, false
	}
	return entry.cache.Clone(), true
}

func (s *SessionStore) nearPut(quizID string, cache domain.QuizSessionCache) {
	if s.nearTTL <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.near[quizID] = nearEntry{cache: cache, expiresAt: s.now().Add(s.ttlWithJitterLocked())}
}

func (s *SessionStore) invalidate(quizID string) {
	s.mu.Lock()
	delete(s.near, quizID)
	s.mu.Unlock()
}

func (s *SessionStore) ttlWithJitterLocked() time.Duration {
	jitterMax := int64(s.nearTTL) / 10
	return s.nearTTL + time.Duration(s.rnd.Int63n(jitterMax+1))
}

type sessionKeys struct {
	submissions    string
	revisions      string
	sealed         string
	participations string
	results        string
	exercise       string
	start          string
	seq            string
}

func keysFor(quizID string) sessionKeys {
	prefix := "quiz:session:" + quizID + ":"
	return sessionKeys{
		submissions:    prefix + "submissions",
		revisions:      prefix + "revisions",
		sealed:         prefix + "sealed",
		participations: prefix + "participations",
		results:        prefix + "results",
		exercise:       prefix + "exercise",
		start:          prefix + "start",
		seq:            prefix + "seq",
	}
}

func (k sessionKeys) all() []string {
	return []string{k.submissions, k.revisions, k.sealed, k.participations, k.results, k.exercise, k.start, k.seq}
}

type sessionWriter struct {
	store  *SessionStore
	quizID string
	keys   sessionKeys
}

func (w *sessionWriter) Snapshot(ctx context.Context) (domain.QuizSessionCache, error) {
	return w.store.load(ctx, w.quizID)
}

func (w *sessionWriter) PutSubmission(ctx context.Context, participantID string, sub domain.Submission) (int64, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return 0, fmt.Errorf("encode submission: %w", err)
	}
	submitted := "0"
	if sub.Submitted {
		submitted = "1"
	}
	defer w.store.invalidate(w.quizID)

	rev, err := putSubmissionScript.Run(ctx, w.store.client,
		[]string{activeSessionsKey, w.keys.submissions, w.keys.revisions, w.keys.sealed, w.keys.participations, w.keys.seq},
		w.quizID, participantID, raw, submitted,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("put submission %s/%s: %w", w.quizID, participantID, err)
	}
	if rev < 0 {
		return 0, domain.ErrAlreadySubmitted
	}
	return rev, nil
}

func (w *sessionWriter) Promote(ctx context.Context, participantID string, revision int64, participation domain.Participation, result domain.Result) (bool, error) {
	rawParticipation, err := json.Marshal(participation)
	if err != nil {
		return false, fmt.Errorf("encode participation: %w", err)
	}
	rawResult, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}
	defer w.store.invalidate(w.quizID)

	status, err := promoteScript.Run(ctx, w.store.client,
		[]string{activeSessionsKey, w.keys.submissions, w.keys.revisions, w.keys.sealed, w.keys.participations, w.keys.results},
		w.quizID, participantID, strconv.FormatInt(revision, 10), rawParticipation, strconv.FormatInt(result.ID, 10), rawResult,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("promote %s/%s: %w", w.quizID, participantID, err)
	}
	if status < 0 {
		return false, domain.ErrSessionNotFound
	}
	return status == 1, nil
}

func (w *sessionWriter) RemoveParticipation(ctx context.Context, participantID string) error {
	return w.guardedHDel(ctx, w.keys.participations, participantID)
}

func (w *sessionWriter) RemoveResults(ctx context.Context, ids []int64) error {
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	return w.guardedHDel(ctx, w.keys.results, fields...)
}

func (w *sessionWriter) guardedHDel(ctx context.Context, key string, fields ...string) error {
	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, w.quizID)
	for _, f := range fields {
		args = append(args, f)
	}
	defer w.store.invalidate(w.quizID)

	status, err := guardedHDelScript.Run(ctx, w.store.client, []string{activeSessionsKey, key}, args...).Int64()
	if err != nil {
		return fmt.Errorf("update session %s: %w", w.quizID, err)
	}
	if status < 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (w *sessionWriter) SetExercise(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("encode exercise: %w", err)
	}
	defer w.store.invalidate(w.quizID)

	_, err = w.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, w.keys.exercise, raw, 0)
		pipe.SAdd(ctx, activeSessionsKey, w.quizID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set exercise %s: %w", w.quizID, err)
	}
	return nil
}

func (w *sessionWriter) SetStartTask(ctx context.Context, handle domain.TaskHandle) error {
	defer w.store.invalidate(w.quizID)

	_, err := w.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, w.keys.start)
		pipe.HSet(ctx, w.keys.start, "key", handle.Key, "id", handle.ID, "fire_at", handle.FireAt.UnixMilli())
		pipe.SAdd(ctx, activeSessionsKey, w.quizID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set start task %s: %w", w.quizID, err)
	}
	return nil
}

func (w *sessionWriter) ClearStartTask(ctx context.Context, handleID string) error {
	defer w.store.invalidate(w.quizID)

	status, err := clearStartTaskScript.Run(ctx, w.store.client, []string{activeSessionsKey, w.keys.start}, w.quizID, handleID).Int64()
	if err != nil {
		return fmt.Errorf("clear start task %s: %w", w.quizID, err)
	}
	if status < 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
