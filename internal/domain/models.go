package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExamID identifies an exam on the backend.
type ExamID int64

// QuestionID identifies a question within an exam.
type QuestionID int64

func (id ExamID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id QuestionID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseExamID converts a route or CLI argument into an ExamID.
func ParseExamID(raw string) (ExamID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidExamID
	}
	return ExamID(n), nil
}

// ParseQuestionID converts a ledger key back into a QuestionID.
func ParseQuestionID(raw string) (QuestionID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrUnknownQuestion
	}
	return QuestionID(n), nil
}

// Question models a multiple-choice question. CorrectAnswer is only populated
// for teacher views; sessions never rely on it.
type Question struct {
	ID            QuestionID `json:"id"`
	ExamID        ExamID     `json:"exam_id,omitempty"`
	Text          string     `json:"question_text"`
	Options       []string   `json:"options"`
	Marks         int        `json:"marks"`
	CorrectAnswer string     `json:"correct_answer,omitempty"`
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Exam is a timed set of questions with a scheduled window.
type Exam struct {
	ID              ExamID     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	FacultyID       int64      `json:"faculty_id,omitempty"`
	IsActive        bool       `json:"is_active"`
	Status          string     `json:"status,omitempty"`
	Questions       []Question `json:"questions"`
}

// DurationSeconds is the countdown length of a session on this exam.
func (e Exam) DurationSeconds() int {
	if e.DurationMinutes <= 0 {
		return 0
	}
	return e.DurationMinutes * 60
}

// TotalMarks sums the marks of every question.
func (e Exam) TotalMarks() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Marks
	}
	return total
}

// Question looks up a question by id.
func (e Exam) Question(id QuestionID) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// CheckWindow returns ErrExamNotStarted or ErrExamEnded when now is outside
// the scheduled window. Zero timestamps are treated as unbounded.
func (e Exam) CheckWindow(now time.Time) error {
	if !e.StartTime.IsZero() && now.Before(e.StartTime) {
		return ErrExamNotStarted
	}
	if !e.EndTime.IsZero() && now.After(e.EndTime) {
		return ErrExamEnded
	}
	return nil
}

// Answer is one (question, selected option) pair of a submission.
type Answer struct {
	QuestionID QuestionID `json:"question_id"`
	Answer     string     `json:"answer"`
}

// SubmissionPayload is the body of POST /exams/{id}/submit.
type SubmissionPayload struct {
	ExamID  ExamID   `json:"exam_id"`
	Answers []Answer `json:"answers"`
}

// SubmissionReceipt is what the backend returns for an accepted submission.
type SubmissionReceipt struct {
	ID             int64     `json:"id"`
	ExamID         ExamID    `json:"exam_id"`
	StudentID      int64     `json:"student_id"`
	SubmissionTime time.Time `json:"submission_time"`
	TotalMarks     int       `json:"total_marks"`
	IsSubmitted    bool      `json:"is_submitted"`
}

// ExamResult is a graded submission as listed by GET /exams/results.
type ExamResult struct {
	ID             int64      `json:"id"`
	ExamID         ExamID     `json:"exam_id"`
	StudentID      int64      `json:"student_id"`
	StudentName    string     `json:"student_name,omitempty"`
	SubmissionTime time.Time  `json:"submission_time"`
	TotalMarks     int        `json:"total_marks"`
	IsSubmitted    bool       `json:"is_submitted"`
	Exam           ResultExam `json:"exam"`
}

// ResultExam is the exam summary embedded in an ExamResult.
type ResultExam struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TotalMarks  int    `json:"total_marks"`
}

// Percentage of the exam's marks obtained; 0 when the exam has no marks.
func (r ExamResult) Percentage() float64 {
	if r.Exam.TotalMarks <= 0 {
		return 0
	}
	return float64(r.TotalMarks) * 100 / float64(r.Exam.TotalMarks)
}

// ExamFilter narrows GET /exams.
type ExamFilter struct {
	Upcoming bool
	Previous bool
	Skip     int
	Limit    int
}

// NewExam is the body of POST /exams. CorrectAnswer must be one of Options.
type NewExam struct {
	Title           string        `json:"title" validate:"required"`
	Description     string        `json:"description"`
	StartTime       time.Time     `json:"start_time" validate:"required"`
	EndTime         time.Time     `json:"end_time" validate:"required,gtfield=StartTime"`
	DurationMinutes int           `json:"duration_minutes" validate:"gt=0"`
	Questions       []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

// CheckAnswers reports a question whose correct answer is not one of its options.
func (e NewExam) CheckAnswers() error {
	for i, q := range e.Questions {
		if !(Question{Options: q.Options}).HasOption(q.CorrectAnswer) {
			return fmt.Errorf("question %d: correct answer %q: %w", i+1, q.CorrectAnswer, ErrUnknownOption)
		}
	}
	return nil
}

type NewQuestion struct {
	Text          string   `json:"question_text" validate:"required"`
	Marks         int      `json:"marks" validate:"gt=0"`
	Options       []string `json:"options" validate:"min=2,dive,required"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
}

// Submission is one student's graded attempt as listed by
// GET /exams/{id}/submissions.
type Submission struct {
	ID             int64             `json:"id"`
	ExamID         ExamID            `json:"exam_id"`
	StudentID      int64             `json:"student_id"`
	SubmissionTime time.Time         `json:"submission_time"`
	TotalMarks     int               `json:"total_marks"`
	IsSubmitted    bool              `json:"is_submitted"`
	Answers        []SubmittedAnswer `json:"answers"`
}

type SubmittedAnswer struct {
	ID            int64      `json:"id"`
	SubmissionID  int64      `json:"submission_id"`
	QuestionID    QuestionID `json:"question_id"`
	Answer        string     `json:"answer"`
	MarksObtained int        `json:"marks_obtained"`
}

// ExamAnalytics is the backend's per-exam report, GET /exams/{id}/analytics.
// Marks are raw marks; the pass mark is 40% of the exam's total.
type ExamAnalytics struct {
	ExamID           ExamID             `json:"exam_id"`
	TotalSubmissions int                `json:"total_submissions"`
	AverageMarks     float64            `json:"average_marks"`
	HighestMarks     float64            `json:"highest_marks"`
	LowestMarks      float64            `json:"lowest_marks"`
	PassPercentage   float64            `json:"pass_percentage"`
	Questions        []QuestionAnalysis `json:"question_wise_analysis"`
}

type QuestionAnalysis struct {
	QuestionID        QuestionID `json:"question_id"`
	Text              string     `json:"question_text"`
	CorrectAnswers    int        `json:"correct_answers"`
	TotalAttempts     int        `json:"total_attempts"`
	CorrectPercentage float64    `json:"correct_percentage"`
}
