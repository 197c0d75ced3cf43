package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exam-runner/internal/clock"
	"exam-runner/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of an exam session.
type State string

const (
	StateLoading           State = "LOADING"
	StateOpen              State = "OPEN"
	StateSubmitting        State = "SUBMITTING"
	StateExpiredSubmitting State = "EXPIRED_SUBMITTING"
	StateSubmitted         State = "SUBMITTED"
	StateLoadFailed        State = "LOAD_FAILED"
	StateSubmitFailed      State = "SUBMIT_FAILED"
	StateAbandoned         State = "ABANDONED"
)

// ExamGateway is the subset of the backend the session talks to.
type ExamGateway interface {
	FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error)
	SubmitExam(ctx context.Context, id domain.ExamID, payload domain.SubmissionPayload) (domain.SubmissionReceipt, error)
}

// RetryPolicy bounds submission attempts. MaxAttempts counts the first try.
// Backoff is the pause between automatic retries after the timer expires.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// EventType labels session events.
type EventType string

const (
	EventTick    EventType = "tick"
	EventState   EventType = "state"
	EventReceipt EventType = "receipt"
	EventError   EventType = "error"
)

// Event is pushed to subscribers on every tick and transition.
type Event struct {
	Type      EventType                 `json:"type"`
	SessionID string                    `json:"sessionId"`
	State     State                     `json:"state"`
	Remaining int                       `json:"remaining"`
	Display   string                    `json:"display"`
	Receipt   *domain.SubmissionReceipt `json:"receipt,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID        string                    `json:"id"`
	ExamID    domain.ExamID             `json:"examId"`
	State     State                     `json:"state"`
	Remaining int                       `json:"remaining"`
	Display   string                    `json:"display"`
	Answered  int                       `json:"answered"`
	Questions int                       `json:"questions"`
	Attempts  int                       `json:"attempts"`
	Retryable bool                      `json:"retryable"`
	Receipt   *domain.SubmissionReceipt `json:"receipt,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// SessionOptions configures a Session. Zero values are usable: a wall-clock
// Ticker, a single submission attempt and no logging.
type SessionOptions struct {
	// Owner is the subject of the viewer taking the exam; Token is sent with
	// every backend call, including the background submit on expiry.
	Owner         string
	Token         string
	Clock         clock.Clock
	Retry         RetryPolicy
	EnforceWindow bool
	Now           func() time.Time
	Logger        *zerolog.Logger
	// OnSubmitted runs once, outside the session lock, after SUBMITTED.
	OnSubmitted func(s *Session, receipt domain.SubmissionReceipt)
	// OnFinished runs once, outside the lock, when a submission leaves the
	// session in SUBMITTED or a non-retryable SUBMIT_FAILED.
	OnFinished func(s *Session)
}

// Session is one attempt at one exam. Tick callbacks, user calls and network
// completions are serialized by mu; gateway calls run without holding it.
type Session struct {
	id            string
	examID        domain.ExamID
	owner         string
	token         string
	gateway       ExamGateway
	clock         clock.Clock
	retry         RetryPolicy
	enforceWindow bool
	now           func() time.Time
	log           zerolog.Logger
	onSubmitted   func(*Session, domain.SubmissionReceipt)
	onFinished    func(*Session)

	mu          sync.RWMutex
	state       State
	exam        domain.Exam
	ledger      *Ledger
	remaining   int
	closed      bool
	finished    bool
	inFlight    bool
	attempts    int
	retryable   bool
	payload     *domain.SubmissionPayload
	receipt     *domain.SubmissionReceipt
	lastErr     error
	subscribers map[chan Event]struct{}
	done        chan struct{}
}

// NewSession creates a session in LOADING. Call Load to fetch the exam.
func NewSession(id string, examID domain.ExamID, gateway ExamGateway, opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.NewTicker()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	return &Session{
		id:            id,
		examID:        examID,
		owner:         opts.Owner,
		token:         opts.Token,
		gateway:       gateway,
		clock:         opts.Clock,
		retry:         opts.Retry,
		enforceWindow: opts.EnforceWindow,
		now:           opts.Now,
		log:           base.With().Str("session", id).Stringer("exam", examID).Logger(),
		onSubmitted:   opts.OnSubmitted,
		onFinished:    opts.OnFinished,
		state:         StateLoading,
		subscribers:   make(map[chan Event]struct{}),
		done:          make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) ExamID() domain.ExamID { return s.examID }
func (s *Session) Owner() string         { return s.owner }
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Exam returns the fetched exam. It is the zero value until Load succeeds.
func (s *Session) Exam() domain.Exam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exam
}

// Load fetches the exam and opens the session. A result that arrives after
// Close is discarded and ErrSessionClosed is returned.
func (s *Session) Load(ctx context.Context) error {
	s.mu.RLock()
	if s.state != StateLoading || s.closed {
		s.mu.RUnlock()
		return domain.ErrSessionClosed
	}
	s.mu.RUnlock()

	exam, err := s.gateway.FetchExam(domain.WithToken(ctx, s.token), s.examID)

	s.mu.Lock()
	if s.closed || s.state != StateLoading {
		s.mu.Unlock()
		s.log.Debug().Msg("discarding exam fetched for a closed session")
		return domain.ErrSessionClosed
	}
	if err == nil && s.enforceWindow {
		err = exam.CheckWindow(s.now())
	}
	if err != nil {
		s.lastErr = err
		s.setStateLocked(StateLoadFailed)
		s.finishLocked()
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("exam load failed")
		return fmt.Errorf("load exam %s: %w", s.examID, err)
	}
	s.exam = exam
	s.ledger = NewLedger(exam)
	s.remaining = exam.DurationSeconds()
	s.setStateLocked(StateOpen)
	remaining := s.remaining
	s.mu.Unlock()

	s.log.Info().Int("questions", len(exam.Questions)).Int("seconds", remaining).Msg("exam session open")

	if err := s.clock.Start(remaining, s.onTick); err != nil {
		return fmt.Errorf("start clock: %w", err)
	}
	// The session may have left OPEN before the clock was running.
	if s.State() != StateOpen {
		s.clock.Stop()
	}
	return nil
}

// SetAnswer records the selected option for a question while OPEN.
func (s *Session) SetAnswer(questionID domain.QuestionID, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return domain.ErrNotOpen
	}
	return s.ledger.Set(questionID, option)
}

// Answer returns the selected option; ok is false when unanswered.
func (s *Session) Answer(questionID domain.QuestionID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return "", false
	}
	return s.ledger.Get(questionID)
}

// Answers copies the current ledger.
func (s *Session) Answers() map[domain.QuestionID]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Snapshot()
}

// Restore applies saved draft answers while OPEN.
func (s *Session) Restore(saved map[domain.QuestionID]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return 0
	}
	return s.ledger.Restore(saved)
}

// Submit sends the ledger to the backend. From OPEN it stops the clock and
// freezes the payload; from a retryable SUBMIT_FAILED it re-sends the same
// payload. Calls while a submission is outstanding return ErrSubmitInFlight.
func (s *Session) Submit(ctx context.Context) (domain.SubmissionReceipt, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return domain.SubmissionReceipt{}, domain.ErrSubmitInFlight
	}
	switch s.state {
	case StateOpen:
		s.clock.Stop()
		s.freezeLocked()
	case StateSubmitFailed:
		if !s.retryable {
			err := s.lastErr
			s.mu.Unlock()
			if domain.IsRejected(err) {
				return domain.SubmissionReceipt{}, err
			}
			return domain.SubmissionReceipt{}, domain.ErrRetriesExhausted
		}
	default:
		s.mu.Unlock()
		return domain.SubmissionReceipt{}, domain.ErrNotOpen
	}
	s.setStateLocked(StateSubmitting)
	s.inFlight = true
	s.attempts++
	payload := *s.payload
	s.mu.Unlock()

	s.log.Info().Int("answers", len(payload.Answers)).Msg("submitting exam")
	receipt, err := s.gateway.SubmitExam(domain.WithToken(ctx, s.token), s.examID, payload)
	return s.complete(receipt, err)
}

// Close tears the session down: the clock is stopped and an open or loading
// session becomes ABANDONED. A submission already in flight is left to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.clock.Stop()
	switch {
	case s.state == StateLoading, s.state == StateOpen:
		s.setStateLocked(StateAbandoned)
		s.finishLocked()
	case s.state == StateSubmitFailed && s.retryable:
		s.retryable = false
		s.finishLocked()
	}
	s.mu.Unlock()
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Wait blocks until the session reaches a terminal state or ctx is done.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Subscribe returns a channel of session events, starting with a state
// event. The caller must invoke the returned cancel function to avoid leaks.
// The channel is closed once the session reaches a terminal state.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	ch <- s.eventLocked(EventState)
	if s.finished {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	if s.state != StateOpen || remaining > s.remaining {
		s.mu.Unlock()
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	s.remaining = remaining
	s.broadcastLocked(s.eventLocked(EventTick))
	if remaining > 0 {
		s.mu.Unlock()
		return
	}

	s.clock.Stop()
	s.freezeLocked()
	s.setStateLocked(StateExpiredSubmitting)
	s.inFlight = true
	payload := *s.payload
	s.mu.Unlock()

	s.log.Info().Int("answers", len(payload.Answers)).Msg("time expired, submitting exam")
	go s.submitExpired(payload)
}

// submitExpired retries transient failures up to the policy limit; losing
// a timed-out submission is visible to the test-taker.
func (s *Session) submitExpired(payload domain.SubmissionPayload) {
	ctx := domain.WithToken(context.Background(), s.token)
	var receipt domain.SubmissionReceipt

	op := func() error {
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		r, err := s.gateway.SubmitExam(ctx, s.examID, payload)
		if err != nil {
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("expired submission failed")
			if domain.IsRejected(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		receipt = r
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retry.Backoff), uint64(s.retry.attempts()-1))
	err := backoff.Retry(op, policy)
	_, _ = s.complete(receipt, err)
}

func (s *Session) complete(receipt domain.SubmissionReceipt, err error) (domain.SubmissionReceipt, error) {
	s.mu.Lock()
	s.inFlight = false
	if err != nil {
		s.lastErr = err
		s.retryable = !s.closed && !domain.IsRejected(err) && s.attempts < s.retry.attempts()
		s.setStateLocked(StateSubmitFailed)
		s.broadcastLocked(s.eventLocked(EventError))
		if !s.retryable {
			s.finishLocked()
		}
		retryable := s.retryable
		s.mu.Unlock()
		s.log.Error().Err(err).Bool("retryable", retryable).Msg("exam submission failed")
		if !retryable && s.onFinished != nil {
			s.onFinished(s)
		}
		return domain.SubmissionReceipt{}, err
	}

	s.receipt = &receipt
	s.lastErr = nil
	s.retryable = false
	s.setStateLocked(StateSubmitted)
	s.broadcastLocked(s.eventLocked(EventReceipt))
	s.finishLocked()
	hook := s.onSubmitted
	s.mu.Unlock()

	s.log.Info().Int("total_marks", receipt.TotalMarks).Msg("exam submitted")
	if hook != nil {
		hook(s, receipt)
	}
	if s.onFinished != nil {
		s.onFinished(s)
	}
	return receipt, nil
}

// freezeLocked captures the payload once; retries reuse it.
func (s *Session) freezeLocked() {
	if s.payload == nil {
		p := s.ledger.Payload()
		s.payload = &p
	}
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.broadcastLocked(s.eventLocked(EventState))
}

// finishLocked marks a terminal state: done is closed and subscribers are released.
func (s *Session) finishLocked() {
	if s.finished {
		return
	}
	s.finished = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	close(s.done)
}

func (s *Session) broadcastLocked(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop the oldest queued event so a slow reader never blocks the timer.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (s *Session) eventLocked(typ EventType) Event {
	ev := Event{
		Type:      typ,
		SessionID: s.id,
		State:     s.state,
		Remaining: s.remaining,
		Display:   clock.FormatTime(s.remaining),
		Receipt:   s.receipt,
	}
	if s.lastErr != nil {
		ev.Error = s.lastErr.Error()
	}
	return ev
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		ExamID:    s.examID,
		State:     s.state,
		Remaining: s.remaining,
		Display:   clock.FormatTime(s.remaining),
		Questions: len(s.exam.Questions),
		Attempts:  s.attempts,
		Retryable: s.retryable,
		Receipt:   s.receipt,
	}
	if s.ledger != nil {
		snap.Answered = s.ledger.Len()
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}
