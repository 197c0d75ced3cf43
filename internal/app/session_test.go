package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam-runner/internal/app"
	"exam-runner/internal/clock"
	"exam-runner/internal/domain"
)

func TestExpiryAutoSubmitsOnce(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: vc})

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.State() != app.StateOpen {
		t.Fatalf("expected OPEN, got %s", s.State())
	}
	if err := s.SetAnswer(1, "4"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if n := vc.Advance(59); n != 59 {
		t.Fatalf("expected 59 ticks, got %d", n)
	}
	if s.State() != app.StateOpen || s.Snapshot().Display != "0:01" {
		t.Fatalf("expected OPEN at 0:01, got %+v", s.Snapshot())
	}
	vc.Advance(1)

	snap := waitDone(t, s)
	if snap.State != app.StateSubmitted {
		t.Fatalf("expected SUBMITTED, got %+v", snap)
	}
	if vc.Delivered() != 61 {
		t.Fatalf("expected 61 ticks including the zero tick, got %d", vc.Delivered())
	}
	if vc.Advance(5) != 0 {
		t.Fatalf("clock must not tick after expiry")
	}
	calls := gw.submitted()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one submit, got %d", len(calls))
	}
	if len(calls[0].Answers) != 1 || calls[0].Answers[0].QuestionID != 1 {
		t.Fatalf("expected partial payload with question 1, got %+v", calls[0])
	}
	if err := s.SetAnswer(2, "Paris"); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("ledger must be frozen after submit, got %v", err)
	}
}

func TestExpiryWithNoAnswersSubmitsEmptyPayload(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: vc})
	_ = s.Load(context.Background())

	vc.Advance(60)
	waitDone(t, s)

	calls := gw.submitted()
	if len(calls) != 1 || len(calls[0].Answers) != 0 || calls[0].ExamID != 7 {
		t.Fatalf("expected one empty submission for exam 7, got %+v", calls)
	}
}

func TestLoadFailureNeverSubmits(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.fetchErr = domain.ErrNetwork
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: vc})

	if err := s.Load(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if s.State() != app.StateLoadFailed {
		t.Fatalf("expected LOAD_FAILED, got %s", s.State())
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("expected submit to be refused, got %v", err)
	}
	if vc.Starts() != 0 || len(gw.submitted()) != 0 || gw.fetchCount() != 1 {
		t.Fatalf("no clock and no submit expected after load failure")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("LOAD_FAILED is terminal")
	}
}

func TestManualSubmitStopsClockAndSendsAnsweredOnly(t *testing.T) {
	exam := sampleExam(1)
	gw := newFakeGateway(exam)
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: vc})
	_ = s.Load(context.Background())

	_ = s.SetAnswer(1, "3")
	_ = s.SetAnswer(1, "4")
	_ = s.SetAnswer(3, "Blue")
	vc.Advance(30)
	if got := s.Snapshot().Remaining; got != 30 {
		t.Fatalf("expected 30s remaining, got %d", got)
	}

	receipt, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.TotalMarks != 2 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if vc.Running() || vc.Advance(10) != 0 {
		t.Fatalf("clock must be stopped after submit")
	}

	calls := gw.submitted()
	if len(calls) != 1 {
		t.Fatalf("expected one submit, got %d", len(calls))
	}
	want := []domain.Answer{{QuestionID: 1, Answer: "4"}, {QuestionID: 3, Answer: "Blue"}}
	if len(calls[0].Answers) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls[0].Answers)
	}
	for i := range want {
		if calls[0].Answers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls[0].Answers)
		}
	}
	if s.State() != app.StateSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", s.State())
	}
}

func TestDoubleSubmitCallsGatewayOnce(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.block = make(chan struct{})
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: clock.NewVirtual()})
	_ = s.Load(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Submit(context.Background()); err != nil {
			t.Errorf("first submit: %v", err)
		}
	}()
	<-gw.entered

	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrSubmitInFlight) {
		t.Fatalf("expected in-flight guard, got %v", err)
	}
	close(gw.block)
	wg.Wait()

	if n := len(gw.submitted()); n != 1 {
		t.Fatalf("expected one gateway submit, got %d", n)
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("submitted session refuses further submits, got %v", err)
	}
}

func TestManualSubmitDuringExpirySubmitIsNoop(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.block = make(chan struct{})
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: vc})
	_ = s.Load(context.Background())

	vc.Advance(60)
	<-gw.entered
	if s.State() != app.StateExpiredSubmitting {
		t.Fatalf("expected EXPIRED_SUBMITTING, got %s", s.State())
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrSubmitInFlight) {
		t.Fatalf("expected in-flight guard, got %v", err)
	}
	close(gw.block)
	waitDone(t, s)
	if n := len(gw.submitted()); n != 1 {
		t.Fatalf("expected one gateway submit, got %d", n)
	}
}

func TestTransientFailureAllowsBoundedRetries(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.submitErrs = []error{domain.ErrNetwork, domain.ErrNetwork, domain.ErrNetwork}
	s := app.NewSession("s1", 7, gw, app.SessionOptions{
		Clock: clock.NewVirtual(),
		Retry: app.RetryPolicy{MaxAttempts: 2},
	})
	_ = s.Load(context.Background())
	_ = s.SetAnswer(2, "Paris")

	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != app.StateSubmitFailed || !snap.Retryable {
		t.Fatalf("expected retryable SUBMIT_FAILED, got %+v", snap)
	}
	if err := s.SetAnswer(1, "4"); !errors.Is(err, domain.ErrNotOpen) {
		t.Fatalf("ledger must stay frozen during retries, got %v", err)
	}

	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected second network error, got %v", err)
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("expected retries exhausted, got %v", err)
	}

	calls := gw.submitted()
	if len(calls) != 2 {
		t.Fatalf("expected two attempts, got %d", len(calls))
	}
	if len(calls[1].Answers) != 1 || calls[1].Answers[0] != calls[0].Answers[0] {
		t.Fatalf("retry must resend the same payload: %+v", calls)
	}
}

func TestRetryAfterTransientFailureSucceeds(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.submitErrs = []error{domain.ErrNetwork}
	s := app.NewSession("s1", 7, gw, app.SessionOptions{
		Clock: clock.NewVirtual(),
		Retry: app.RetryPolicy{MaxAttempts: 3},
	})
	_ = s.Load(context.Background())

	_, _ = s.Submit(context.Background())
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.State() != app.StateSubmitted || s.Snapshot().Attempts != 2 {
		t.Fatalf("expected SUBMITTED after two attempts, got %+v", s.Snapshot())
	}
}

func TestRejectedSubmitIsTerminal(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.submitErrs = []error{domain.ErrAlreadySubmitted}
	s := app.NewSession("s1", 7, gw, app.SessionOptions{
		Clock: clock.NewVirtual(),
		Retry: app.RetryPolicy{MaxAttempts: 5},
	})
	_ = s.Load(context.Background())

	_, _ = s.Submit(context.Background())
	if snap := s.Snapshot(); snap.State != app.StateSubmitFailed || snap.Retryable {
		t.Fatalf("expected terminal SUBMIT_FAILED, got %+v", snap)
	}
	if _, err := s.Submit(context.Background()); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected rejection to be reported again, got %v", err)
	}
	if len(gw.submitted()) != 1 {
		t.Fatalf("rejected submissions must not be retried")
	}
}

func TestExpiryRetriesTransientFailures(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.submitErrs = []error{domain.ErrNetwork, domain.ErrNetwork}
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{
		Clock: vc,
		Retry: app.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
	_ = s.Load(context.Background())
	vc.Advance(60)

	snap := waitDone(t, s)
	if snap.State != app.StateSubmitted || snap.Attempts != 3 {
		t.Fatalf("expected SUBMITTED on third attempt, got %+v", snap)
	}
	if len(gw.submitted()) != 3 {
		t.Fatalf("expected three attempts, got %d", len(gw.submitted()))
	}
}

func TestExpiryStopsOnRejection(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.submitErrs = []error{domain.ErrValidation}
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{
		Clock: vc,
		Retry: app.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	})
	_ = s.Load(context.Background())
	vc.Advance(60)

	snap := waitDone(t, s)
	if snap.State != app.StateSubmitFailed || snap.Retryable {
		t.Fatalf("expected terminal failure, got %+v", snap)
	}
	if len(gw.submitted()) != 1 {
		t.Fatalf("rejection must not be retried")
	}
}

func TestCloseDiscardsLateFetch(t *testing.T) {
	gw := newFakeGateway(sampleExam(1))
	gw.fetchBlock = make(chan struct{})
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: vc})

	errc := make(chan error, 1)
	go func() { errc <- s.Load(context.Background()) }()
	<-gw.fetchEntered
	s.Close()
	close(gw.fetchBlock)

	if err := <-errc; !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected late fetch to be discarded, got %v", err)
	}
	if s.State() != app.StateAbandoned || vc.Starts() != 0 {
		t.Fatalf("expected ABANDONED with no clock, got %s starts=%d", s.State(), vc.Starts())
	}
}

func TestCloseStopsClock(t *testing.T) {
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, newFakeGateway(sampleExam(1)), app.SessionOptions{Clock: vc})
	_ = s.Load(context.Background())
	vc.Advance(5)
	s.Close()

	if vc.Running() || vc.Advance(100) != 0 {
		t.Fatalf("clock kept running after close")
	}
	if s.State() != app.StateAbandoned {
		t.Fatalf("expected ABANDONED, got %s", s.State())
	}
}

func TestZeroDurationExpiresImmediately(t *testing.T) {
	gw := newFakeGateway(sampleExam(0))
	s := app.NewSession("s1", 7, gw, app.SessionOptions{Clock: clock.NewVirtual()})
	_ = s.Load(context.Background())
	if snap := waitDone(t, s); snap.State != app.StateSubmitted {
		t.Fatalf("expected immediate submission, got %+v", snap)
	}
}

func TestEnforceWindowRejectsEndedExam(t *testing.T) {
	exam := sampleExam(1)
	now := exam.EndTime.Add(time.Minute)
	s := app.NewSession("s1", 7, newFakeGateway(exam), app.SessionOptions{
		Clock:         clock.NewVirtual(),
		EnforceWindow: true,
		Now:           func() time.Time { return now },
	})
	if err := s.Load(context.Background()); !errors.Is(err, domain.ErrExamEnded) {
		t.Fatalf("expected exam ended, got %v", err)
	}
	if s.State() != app.StateLoadFailed {
		t.Fatalf("expected LOAD_FAILED, got %s", s.State())
	}
}

func TestSubscribeReceivesTicksAndReceipt(t *testing.T) {
	vc := clock.NewVirtual()
	s := app.NewSession("s1", 7, newFakeGateway(sampleExam(1)), app.SessionOptions{Clock: vc})
	events, cancel := s.Subscribe()
	defer cancel()

	if ev := <-events; ev.Type != app.EventState || ev.State != app.StateLoading {
		t.Fatalf("expected initial LOADING state event, got %+v", ev)
	}
	_ = s.Load(context.Background())
	vc.Advance(1)
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var sawTick, sawReceipt bool
	for ev := range events {
		switch ev.Type {
		case app.EventTick:
			if ev.Remaining == 59 && ev.Display == "0:59" {
				sawTick = true
			}
		case app.EventReceipt:
			sawReceipt = ev.Receipt != nil
		}
	}
	if !sawTick || !sawReceipt {
		t.Fatalf("expected tick and receipt events, tick=%v receipt=%v", sawTick, sawReceipt)
	}
}

func TestOnSubmittedHookRuns(t *testing.T) {
	var got domain.SubmissionReceipt
	s := app.NewSession("s1", 7, newFakeGateway(sampleExam(1)), app.SessionOptions{
		Clock:       clock.NewVirtual(),
		OnSubmitted: func(_ *app.Session, r domain.SubmissionReceipt) { got = r },
	})
	_ = s.Load(context.Background())
	_, _ = s.Submit(context.Background())
	if got.ExamID != 7 {
		t.Fatalf("expected hook with receipt, got %+v", got)
	}
}

func waitDone(t *testing.T, s *app.Session) app.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("session did not finish: %v (%+v)", err, snap)
	}
	return snap
}

type fakeGateway struct {
	mu         sync.Mutex
	exam       domain.Exam
	fetchErr   error
	submitErrs []error
	submits    []domain.SubmissionPayload
	fetches    int
	tokens     []string

	block        chan struct{}
	entered      chan struct{}
	fetchBlock   chan struct{}
	fetchEntered chan struct{}
}

func newFakeGateway(exam domain.Exam) *fakeGateway {
	return &fakeGateway{
		exam:         exam,
		entered:      make(chan struct{}, 16),
		fetchEntered: make(chan struct{}, 16),
	}
}

func (g *fakeGateway) FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error) {
	g.mu.Lock()
	g.fetches++
	g.tokens = append(g.tokens, domain.TokenFrom(ctx))
	g.mu.Unlock()
	g.fetchEntered <- struct{}{}
	if g.fetchBlock != nil {
		<-g.fetchBlock
	}
	if g.fetchErr != nil {
		return domain.Exam{}, g.fetchErr
	}
	exam := g.exam
	exam.ID = id
	return exam, nil
}

func (g *fakeGateway) SubmitExam(ctx context.Context, id domain.ExamID, payload domain.SubmissionPayload) (domain.SubmissionReceipt, error) {
	g.mu.Lock()
	g.submits = append(g.submits, payload)
	g.tokens = append(g.tokens, domain.TokenFrom(ctx))
	var err error
	if len(g.submitErrs) > 0 {
		err = g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
	}
	g.mu.Unlock()

	g.entered <- struct{}{}
	if g.block != nil {
		<-g.block
	}
	if err != nil {
		return domain.SubmissionReceipt{}, err
	}
	return domain.SubmissionReceipt{ID: 1, ExamID: id, TotalMarks: 2, IsSubmitted: true}, nil
}

func (g *fakeGateway) submitted() []domain.SubmissionPayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.SubmissionPayload(nil), g.submits...)
}

func (g *fakeGateway) sentTokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.tokens...)
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

func sampleExam(minutes int) domain.Exam {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Exam{
		ID:              7,
		Title:           "Math Midterm",
		StartTime:       start,
		EndTime:         start.Add(2 * time.Hour),
		DurationMinutes: minutes,
		IsActive:        true,
		Questions: []domain.Question{
			{ID: 1, Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Marks: 2},
			{ID: 2, Text: "Capital of France?", Options: []string{"Paris", "Rome"}, Marks: 1},
			{ID: 3, Text: "Color of the sky?", Options: []string{"Blue", "Green"}, Marks: 1},
		},
	}
}
