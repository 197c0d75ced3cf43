package postgres

import (
	"context"
	"fmt"

	"exam-runner/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ReceiptJournal records accepted submissions in Postgres.
type ReceiptJournal struct {
	pool *pgxpool.Pool
}

func NewReceiptJournal(pool *pgxpool.Pool) *ReceiptJournal {
	return &ReceiptJournal{pool: pool}
}

// Record stores a receipt together with the exam summary needed for analytics.
// Recording the same receipt twice is a no-op.
func (j *ReceiptJournal) Record(ctx context.Context, exam domain.Exam, receipt domain.SubmissionReceipt) error {
	_, err := j.pool.Exec(ctx, `
INSERT INTO submission_receipts
	(receipt_id, exam_id, student_id, exam_title, exam_description, exam_total_marks, total_marks, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (exam_id, receipt_id) DO NOTHING`,
		receipt.ID, int64(receipt.ExamID), receipt.StudentID, exam.Title, exam.Description,
		exam.TotalMarks(), receipt.TotalMarks, receipt.SubmissionTime,
	)
	if err != nil {
		return fmt.Errorf("record receipt: %w", err)
	}
	return nil
}

// List returns journaled submissions, newest first.
func (j *ReceiptJournal) List(ctx context.Context) ([]domain.ExamResult, error) {
	rows, err := j.pool.Query(ctx, `
SELECT receipt_id, exam_id, student_id, exam_title, exam_description, exam_total_marks, total_marks, submitted_at
FROM submission_receipts
ORDER BY submitted_at DESC, receipt_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var results []domain.ExamResult
	for rows.Next() {
		var (
			r      domain.ExamResult
			examID int64
		)
		if err := rows.Scan(&r.ID, &examID, &r.StudentID, &r.Exam.Title, &r.Exam.Description,
			&r.Exam.TotalMarks, &r.TotalMarks, &r.SubmissionTime); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.ExamID = domain.ExamID(examID)
		r.IsSubmitted = true
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return results, nil
}
