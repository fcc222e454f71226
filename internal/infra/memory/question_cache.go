package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-session-service/internal/domain"
)

// QuestionSource fetches question content from a backing store.
type QuestionSource interface {
	Sample(ctx context.Context, n int) ([]domain.Question, error)
	GetByID(ctx context.Context, id string) (domain.Question, error)
}

// QuestionCache caches questions by id with TTL to avoid repeated DB hits.
// Running games look up the same ids over and over.
type QuestionCache struct {
	source QuestionSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuestion
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionCache(source QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestion),
	}
}

// Sample always asks the source so new games get a fresh draw, and warms the
// cache with what it returns.
func (c *QuestionCache) Sample(ctx context.Context, n int) ([]domain.Question, error) {
	questions, err := c.source.Sample(ctx, n)
	if err != nil {
		return nil, err
	}
	now := c.clock()
	c.mu.Lock()
	for _, q := range questions {
		c.cache[q.ID] = cachedQuestion{question: q, expiresAt: now.Add(c.ttlWithJitter())}
	}
	c.mu.Unlock()
	return questions, nil
}

func (c *QuestionCache) GetByID(ctx context.Context, id string) (domain.Question, error) {
	if q, ok := c.lookup(id, c.clock()); ok {
		return q, nil
	}

	result, err, _ := c.sf.Do(id, func() (interface{}, error) {
		now := c.clock()
		if q, ok := c.lookup(id, now); ok {
			return q, nil
		}

		q, err := c.source.GetByID(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}

		c.mu.Lock()
		c.cache[id] = cachedQuestion{question: q, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (c *QuestionCache) lookup(id string, now time.Time) (domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[id]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Question{}, false
	}
	return entry.question, true
}

// ttlWithJitter must be called with c.mu held.
func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
