package redis

import (
	"context"
	"fmt"
	"time"

	"exam-runner/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DraftStore mirrors answers into a hash per attempt:
// HSET exam:{examID}:draft:{owner} {questionID} {answer}
type DraftStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	return &DraftStore{client: client, ttl: ttl}
}

func (d *DraftStore) SaveAnswer(ctx context.Context, examID domain.ExamID, owner string, questionID domain.QuestionID, answer string) error {
	key := draftKey(examID, owner)
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key, questionID.String(), answer)
	if d.ttl > 0 {
		pipe.Expire(ctx, key, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save draft answer: %w", err)
	}
	return nil
}

func (d *DraftStore) LoadDraft(ctx context.Context, examID domain.ExamID, owner string) (map[domain.QuestionID]string, error) {
	raw, err := d.client.HGetAll(ctx, draftKey(examID, owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	out := make(map[domain.QuestionID]string, len(raw))
	for field, answer := range raw {
		q, err := domain.ParseQuestionID(field)
		if err != nil {
			continue
		}
		out[q] = answer
	}
	return out, nil
}

func (d *DraftStore) ClearDraft(ctx context.Context, examID domain.ExamID, owner string) error {
	return d.client.Del(ctx, draftKey(examID, owner)).Err()
}
