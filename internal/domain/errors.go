package domain

import "errors"

var (
	// ErrInvalidExamID is returned before any network call when an exam id cannot be parsed.
	ErrInvalidExamID = errors.New("invalid exam id")
	// ErrExamNotFound indicates the backend has no exam with the requested id.
	ErrExamNotFound = errors.New("exam not found")
	// ErrNetwork wraps transport failures and 5xx responses; these are retryable.
	ErrNetwork = errors.New("network error")
	// ErrValidation indicates the backend rejected a submission.
	ErrValidation = errors.New("submission rejected")
	// ErrAlreadySubmitted indicates the backend already holds a submission for this attempt.
	ErrAlreadySubmitted = errors.New("exam already submitted")
	// ErrUnauthorized is returned for 401/403 responses.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("exam session not found")
	// ErrSessionClosed is returned when a session was torn down before an operation completed.
	ErrSessionClosed = errors.New("exam session closed")
	// ErrNotOpen is returned for ledger mutations or submits outside the OPEN state.
	ErrNotOpen = errors.New("exam session is not open")
	// ErrSubmitInFlight is returned when a submission is already outstanding.
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrRetriesExhausted is returned once the retry budget is spent.
	ErrRetriesExhausted = errors.New("submission retries exhausted")
	// ErrForbidden is returned when the viewer may not perform an operation.
	ErrForbidden = errors.New("operation not permitted for viewer")

	// ErrUnknownQuestion indicates an answer for a question that is not part of the exam.
	ErrUnknownQuestion = errors.New("question not found")
	// ErrUnknownOption indicates an answer that is not one of the question's options.
	ErrUnknownOption = errors.New("option not found")
	// ErrExamNotStarted is returned when the exam window has not opened yet.
	ErrExamNotStarted = errors.New("exam has not started yet")
	// ErrExamEnded is returned when the exam window has closed.
	ErrExamEnded = errors.New("exam has ended")
)

// IsRejected reports whether err is a submission failure that must not be retried.
func IsRejected(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrAlreadySubmitted) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrExamNotFound)
}
