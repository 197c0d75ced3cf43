package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseExamID(t *testing.T) {
	id, err := ParseExamID(" 42 ")
	if err != nil || id != 42 {
		t.Fatalf("expected 42, got %d (%v)", id, err)
	}
	for _, raw := range []string{"", "abc", "0", "-3", "1.5"} {
		if _, err := ParseExamID(raw); !errors.Is(err, ErrInvalidExamID) {
			t.Fatalf("expected invalid exam id for %q, got %v", raw, err)
		}
	}
}

func TestExamHelpers(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	exam := Exam{
		ID:              1,
		DurationMinutes: 2,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Questions: []Question{
			{ID: 1, Options: []string{"a", "b"}, Marks: 2},
			{ID: 2, Options: []string{"c"}, Marks: 3},
		},
	}
	if exam.DurationSeconds() != 120 {
		t.Fatalf("expected 120 seconds, got %d", exam.DurationSeconds())
	}
	if exam.TotalMarks() != 5 {
		t.Fatalf("expected 5 marks, got %d", exam.TotalMarks())
	}
	q, ok := exam.Question(2)
	if !ok || !q.HasOption("c") || q.HasOption("a") {
		t.Fatalf("unexpected question lookup %+v", q)
	}
	if err := exam.CheckWindow(start.Add(-time.Minute)); !errors.Is(err, ErrExamNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
	if err := exam.CheckWindow(start.Add(2 * time.Hour)); !errors.Is(err, ErrExamEnded) {
		t.Fatalf("expected ended, got %v", err)
	}
	if err := exam.CheckWindow(start.Add(time.Minute)); err != nil {
		t.Fatalf("expected open window, got %v", err)
	}
}

func TestViewerPermissions(t *testing.T) {
	if !Student("s1").Can(OpTakeExam) {
		t.Fatalf("students take exams")
	}
	if err := Teacher("t1").Require(OpTakeExam); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected teachers to be forbidden from taking exams, got %v", err)
	}
	if !Teacher("t1").Can(OpViewAnalytics) || Student("s1").Can(OpViewResults) {
		t.Fatalf("unexpected analytics permissions")
	}
}
