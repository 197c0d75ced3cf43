package memory

import (
	"context"
	"sync"

	"exam-runner/internal/domain"
)

type draftKey struct {
	examID domain.ExamID
	owner  string
}

// DraftStore keeps draft answers in process memory.
type DraftStore struct {
	mu     sync.Mutex
	drafts map[draftKey]map[domain.QuestionID]string
}

func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[draftKey]map[domain.QuestionID]string)}
}

func (d *DraftStore) SaveAnswer(_ context.Context, examID domain.ExamID, owner string, questionID domain.QuestionID, answer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := draftKey{examID, owner}
	if d.drafts[key] == nil {
		d.drafts[key] = make(map[domain.QuestionID]string)
	}
	d.drafts[key][questionID] = answer
	return nil
}

func (d *DraftStore) LoadDraft(_ context.Context, examID domain.ExamID, owner string) (map[domain.QuestionID]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	saved := d.drafts[draftKey{examID, owner}]
	out := make(map[domain.QuestionID]string, len(saved))
	for q, a := range saved {
		out[q] = a
	}
	return out, nil
}

func (d *DraftStore) ClearDraft(_ context.Context, examID domain.ExamID, owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, draftKey{examID, owner})
	return nil
}
