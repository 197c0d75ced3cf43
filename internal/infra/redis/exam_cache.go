package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"exam-runner/internal/app"
	"exam-runner/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ExamCache stores exam payloads as JSON (exam:{id}:payload) and falls back
// to a loader on cache miss. Redis failures degrade to a direct load.
type ExamCache struct {
	client *redis.Client
	loader app.ExamFetcher
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewExamCache(client *redis.Client, loader app.ExamFetcher, ttl time.Duration, log zerolog.Logger) *ExamCache {
	return &ExamCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_exam_cache").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ExamCache) FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error) {
	if exam, ok := c.cached(ctx, id); ok {
		return exam, nil
	}

	result, err, _ := c.sf.Do(id.String(), func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		if exam, ok := c.cached(ctx, id); ok {
			return exam, nil
		}

		exam, err := c.loader.FetchExam(ctx, id)
		if err != nil {
			return domain.Exam{}, err
		}

		raw, err := json.Marshal(exam)
		if err == nil {
			err = c.client.Set(ctx, examPayloadKey(id), raw, c.ttlWithJitter()).Err()
		}
		if err != nil {
			c.log.Warn().Err(err).Stringer("exam", id).Msg("cache exam payload failed")
		}
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

// Invalidate drops a cached exam payload.
func (c *ExamCache) Invalidate(ctx context.Context, id domain.ExamID) error {
	return c.client.Del(ctx, examPayloadKey(id)).Err()
}

func (c *ExamCache) cached(ctx context.Context, id domain.ExamID) (domain.Exam, bool) {
	raw, err := c.client.Get(ctx, examPayloadKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Stringer("exam", id).Msg("read exam payload failed")
		}
		return domain.Exam{}, false
	}
	var exam domain.Exam
	if err := json.Unmarshal(raw, &exam); err != nil {
		c.log.Warn().Err(err).Stringer("exam", id).Msg("corrupt exam payload")
		return domain.Exam{}, false
	}
	return exam, true
}

func (c *ExamCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
