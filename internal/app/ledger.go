package app

import "exam-runner/internal/domain"

// Ledger records the currently selected option per question of one exam.
// It is owned by a Session and is not safe for concurrent use on its own.
type Ledger struct {
	exam    domain.Exam
	answers map[domain.QuestionID]string
}

func NewLedger(exam domain.Exam) *Ledger {
	return &Ledger{exam: exam, answers: make(map[domain.QuestionID]string)}
}

// Set upserts the answer for a question. The backend re-validates, but
// unknown questions and options are rejected here too.
func (l *Ledger) Set(questionID domain.QuestionID, option string) error {
	q, ok := l.exam.Question(questionID)
	if !ok {
		return domain.ErrUnknownQuestion
	}
	if !q.HasOption(option) {
		return domain.ErrUnknownOption
	}
	l.answers[questionID] = option
	return nil
}

// Get returns the selected option; ok is false for unanswered questions.
func (l *Ledger) Get(questionID domain.QuestionID) (string, bool) {
	answer, ok := l.answers[questionID]
	return answer, ok
}

// Len is the number of answered questions.
func (l *Ledger) Len() int {
	return len(l.answers)
}

// Payload builds the submission body in exam question order. Unanswered
// questions are omitted.
func (l *Ledger) Payload() domain.SubmissionPayload {
	answers := make([]domain.Answer, 0, len(l.answers))
	for _, q := range l.exam.Questions {
		if a, ok := l.answers[q.ID]; ok {
			answers = append(answers, domain.Answer{QuestionID: q.ID, Answer: a})
		}
	}
	return domain.SubmissionPayload{ExamID: l.exam.ID, Answers: answers}
}

// Snapshot copies the current answers.
func (l *Ledger) Snapshot() map[domain.QuestionID]string {
	out := make(map[domain.QuestionID]string, len(l.answers))
	for k, v := range l.answers {
		out[k] = v
	}
	return out
}

// Restore applies previously saved answers, skipping any that no longer
// match the exam. It returns how many were applied.
func (l *Ledger) Restore(saved map[domain.QuestionID]string) int {
	applied := 0
	for q, a := range saved {
		if l.Set(q, a) == nil {
			applied++
		}
	}
	return applied
}
