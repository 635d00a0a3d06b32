package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/domain"
)

// QuizCache caches the minimal quiz lookups of the drain with a TTL to avoid
// a durable read per quiz and cycle. Question loads and listings pass through.
type QuizCache struct {
	app.QuizLoader
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	err       error
	expiresAt time.Time
}

func NewQuizCache(loader app.QuizLoader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		QuizLoader: loader,
		ttl:        ttl,
		clock:      time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:      make(map[string]cachedQuiz),
	}
}

// LoadQuiz serves from the cache while fresh. A missing quiz is cached as well
// so a deleted quiz does not cost a lookup per cycle.
func (c *QuizCache) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if c.ttl <= 0 {
		return c.QuizLoader.LoadQuiz(ctx, quizID)
	}
	if entry, ok := c.fresh(quizID); ok {
		return entry.quiz, entry.err
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if entry, ok := c.fresh(quizID); ok {
			return entry.quiz, entry.err
		}

		quiz, err := c.QuizLoader.LoadQuiz(ctx, quizID)
		if err != nil && !errors.Is(err, domain.ErrQuizNotFound) {
			return domain.Quiz{}, err
		}

		c.mu.Lock()
		c.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			err:       err,
			expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
		}
		c.mu.Unlock()
		return quiz, err
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) fresh(quizID string) (cachedQuiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return cachedQuiz{}, false
	}
	return entry, true
}

func (c *QuizCache) ttlWithJitterLocked() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
