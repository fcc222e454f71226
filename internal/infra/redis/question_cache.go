package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-session-service/internal/domain"
)

// QuestionSource fetches question content from a backing store.
type QuestionSource interface {
	Sample(ctx context.Context, n int) ([]domain.Question, error)
	GetByID(ctx context.Context, id string) (domain.Question, error)
}

// QuestionCache caches questions in Redis and falls back to the source on a
// miss. Questions are stored as: SET trivia:question:{id} {json}
type QuestionCache struct {
	client *redis.Client
	source QuestionSource
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionCache(client *redis.Client, source QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample goes to the source and writes the drawn questions through.
func (c *QuestionCache) Sample(ctx context.Context, n int) ([]domain.Question, error) {
	questions, err := c.source.Sample(ctx, n)
	if err != nil {
		return nil, err
	}
	pipe := c.client.Pipeline()
	for _, q := range questions {
		c.put(ctx, pipe, q)
	}
	// cache writes are best effort
	_, _ = pipe.Exec(ctx)
	return questions, nil
}

func (c *QuestionCache) GetByID(ctx context.Context, id string) (domain.Question, error) {
	if q, ok := c.get(ctx, id); ok {
		return q, nil
	}

	result, err, _ := c.sf.Do(id, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if q, ok := c.get(ctx, id); ok {
			return q, nil
		}
		q, err := c.source.GetByID(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}
		pipe := c.client.Pipeline()
		c.put(ctx, pipe, q)
		_, _ = pipe.Exec(ctx)
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (c *QuestionCache) get(ctx context.Context, id string) (domain.Question, bool) {
	// a Redis outage degrades to a miss
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return domain.Question{}, false
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, false
	}
	return q, true
}

func (c *QuestionCache) put(ctx context.Context, pipe redis.Pipeliner, q domain.Question) {
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	pipe.Set(ctx, c.key(q.ID), data, c.ttlWithJitter())
}

func (c *QuestionCache) key(id string) string {
	return "trivia:question:" + id
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
