package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-runner/internal/app"
	"exam-runner/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ExamCache caches exams with TTL to avoid repeated gateway round trips.
type ExamCache struct {
	loader app.ExamFetcher
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[domain.ExamID]cachedExam
}

type cachedExam struct {
	exam      domain.Exam
	expiresAt time.Time
}

func NewExamCache(loader app.ExamFetcher, ttl time.Duration) *ExamCache {
	return &ExamCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.ExamID]cachedExam),
	}
}

func (c *ExamCache) FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error) {
	if exam, ok := c.lookup(id); ok {
		return exam, nil
	}

	result, err, _ := c.sf.Do(id.String(), func() (interface{}, error) {
		if exam, ok := c.lookup(id); ok {
			return exam, nil
		}

		exam, err := c.loader.FetchExam(ctx, id)
		if err != nil {
			return domain.Exam{}, err
		}

		if ttl := c.ttlWithJitter(); ttl > 0 {
			c.mu.Lock()
			c.cache[id] = cachedExam{exam: exam, expiresAt: c.clock().Add(ttl)}
			c.mu.Unlock()
		}
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

// Invalidate drops a cached exam.
func (c *ExamCache) Invalidate(id domain.ExamID) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

func (c *ExamCache) lookup(id domain.ExamID) (domain.Exam, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[id]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Exam{}, false
	}
	return entry.exam, true
}

// StaticExamLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticExamLoader struct {
	exams map[domain.ExamID]domain.Exam
}

func NewStaticExamLoader(exams map[domain.ExamID]domain.Exam) *StaticExamLoader {
	return &StaticExamLoader{exams: exams}
}

func (l *StaticExamLoader) FetchExam(_ context.Context, id domain.ExamID) (domain.Exam, error) {
	if exam, ok := l.exams[id]; ok {
		return exam, nil
	}
	return domain.Exam{}, domain.ErrExamNotFound
}

func (c *ExamCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
