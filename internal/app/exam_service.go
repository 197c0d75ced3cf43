package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam-runner/internal/clock"
	"exam-runner/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionRepository abstracts where live exam sessions are kept (in-memory, Redis, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
	List() []*Session
}

// ExamFetcher loads exam content, usually through a cache in front of the gateway.
type ExamFetcher interface {
	FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error)
}

// Catalog lists exams and graded results from the backend.
type Catalog interface {
	ListExams(ctx context.Context, filter domain.ExamFilter) ([]domain.Exam, error)
	ListResults(ctx context.Context) ([]domain.ExamResult, error)
}

// ExamAdmin covers the teacher-side backend operations.
type ExamAdmin interface {
	CreateExam(ctx context.Context, exam domain.NewExam) (domain.Exam, error)
	ListSubmissions(ctx context.Context, id domain.ExamID) ([]domain.Submission, error)
	ExamAnalytics(ctx context.Context, id domain.ExamID) (domain.ExamAnalytics, error)
}

// DraftStore mirrors in-progress answers so an attempt survives a relay restart.
type DraftStore interface {
	SaveAnswer(ctx context.Context, examID domain.ExamID, owner string, questionID domain.QuestionID, answer string) error
	LoadDraft(ctx context.Context, examID domain.ExamID, owner string) (map[domain.QuestionID]string, error)
	ClearDraft(ctx context.Context, examID domain.ExamID, owner string) error
}

// ReceiptJournal keeps a local history of accepted submissions.
type ReceiptJournal interface {
	Record(ctx context.Context, exam domain.Exam, receipt domain.SubmissionReceipt) error
}

// ServiceOptions holds the optional collaborators of an ExamService.
type ServiceOptions struct {
	Exams         ExamFetcher
	Catalog       Catalog
	Admin         ExamAdmin
	Drafts        DraftStore
	Journal       ReceiptJournal
	NewClock      func() clock.Clock
	NewID         func() string
	Retry         RetryPolicy
	EnforceWindow bool
	Logger        *zerolog.Logger
}

var (
	errCatalog   = errors.New("exam catalog not configured")
	errExamAdmin = errors.New("exam administration not configured")
)

// ExamService contains the exam-taking use cases.
type ExamService struct {
	sessions SessionRepository
	gateway  ExamGateway
	opts     ServiceOptions
	log      zerolog.Logger
}

func NewExamService(sessions SessionRepository, gateway ExamGateway, opts ServiceOptions) *ExamService {
	if opts.NewClock == nil {
		opts.NewClock = func() clock.Clock { return clock.NewTicker() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.Exams != nil {
		gateway = cachedGateway{exams: opts.Exams, ExamGateway: gateway}
	}
	return &ExamService{
		sessions: sessions,
		gateway:  gateway,
		opts:     opts,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// StartSession opens a new attempt at an exam for a student. The exam id is
// validated before any network call. Saved draft answers are restored.
func (s *ExamService) StartSession(ctx context.Context, viewer domain.Viewer, rawExamID string) (*Session, error) {
	if err := viewer.Require(domain.OpTakeExam); err != nil {
		return nil, err
	}
	examID, err := domain.ParseExamID(rawExamID)
	if err != nil {
		return nil, err
	}

	logger := s.log
	session := NewSession(s.opts.NewID(), examID, s.gateway, SessionOptions{
		Owner:         viewer.Subject,
		Token:         viewer.Token,
		Clock:         s.opts.NewClock(),
		Retry:         s.opts.Retry,
		EnforceWindow: s.opts.EnforceWindow,
		Logger:        &logger,
		OnSubmitted:   s.submitted,
		OnFinished:    s.finished,
	})
	s.sessions.Put(session)

	if err := session.Load(ctx); err != nil {
		s.sessions.Delete(session.ID())
		return nil, err
	}

	if s.opts.Drafts != nil {
		saved, err := s.opts.Drafts.LoadDraft(ctx, examID, viewer.Subject)
		if err != nil {
			s.log.Warn().Err(err).Str("session", session.ID()).Msg("load draft failed")
		} else if len(saved) > 0 {
			n := session.Restore(saved)
			s.log.Info().Str("session", session.ID()).Int("restored", n).Msg("draft answers restored")
		}
	}
	return session, nil
}

// Get returns a session owned by the viewer.
func (s *ExamService) Get(viewer domain.Viewer, sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if session.Owner() != viewer.Subject {
		return nil, domain.ErrForbidden
	}
	return session, nil
}

// Answer records a selection and mirrors it to the draft store.
func (s *ExamService) Answer(ctx context.Context, viewer domain.Viewer, sessionID string, questionID domain.QuestionID, option string) error {
	session, err := s.Get(viewer, sessionID)
	if err != nil {
		return err
	}
	if err := session.SetAnswer(questionID, option); err != nil {
		return err
	}
	if s.opts.Drafts != nil {
		if err := s.opts.Drafts.SaveAnswer(ctx, session.ExamID(), session.Owner(), questionID, option); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Msg("save draft failed")
		}
	}
	return nil
}

// Submit submits (or retries) the session's answers.
func (s *ExamService) Submit(ctx context.Context, viewer domain.Viewer, sessionID string) (domain.SubmissionReceipt, error) {
	session, err := s.Get(viewer, sessionID)
	if err != nil {
		return domain.SubmissionReceipt{}, err
	}
	return session.Submit(ctx)
}

// Subscribe streams session events. The caller must invoke the returned
// cancel function to avoid leaks.
func (s *ExamService) Subscribe(viewer domain.Viewer, sessionID string) (<-chan Event, func(), error) {
	session, err := s.Get(viewer, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Close abandons a session and forgets it. Drafts are kept so the attempt
// can be resumed.
func (s *ExamService) Close(viewer domain.Viewer, sessionID string) error {
	session, err := s.Get(viewer, sessionID)
	if err != nil {
		return err
	}
	session.Close()
	s.sessions.Delete(sessionID)
	return nil
}

// Shutdown closes every live session.
func (s *ExamService) Shutdown() {
	for _, session := range s.sessions.List() {
		session.Close()
		s.sessions.Delete(session.ID())
	}
}

// ListExams returns exams visible to the viewer.
func (s *ExamService) ListExams(ctx context.Context, viewer domain.Viewer, filter domain.ExamFilter) ([]domain.Exam, error) {
	if err := viewer.Require(domain.OpListExams); err != nil {
		return nil, err
	}
	if s.opts.Catalog == nil {
		return nil, errCatalog
	}
	return s.opts.Catalog.ListExams(domain.WithToken(ctx, viewer.Token), filter)
}

// Results returns graded submissions for teachers.
func (s *ExamService) Results(ctx context.Context, viewer domain.Viewer) ([]domain.ExamResult, error) {
	if err := viewer.Require(domain.OpViewResults); err != nil {
		return nil, err
	}
	if s.opts.Catalog == nil {
		return nil, errCatalog
	}
	return s.opts.Catalog.ListResults(domain.WithToken(ctx, viewer.Token))
}

// CreateExam publishes a new exam authored by a teacher.
func (s *ExamService) CreateExam(ctx context.Context, viewer domain.Viewer, exam domain.NewExam) (domain.Exam, error) {
	if err := viewer.Require(domain.OpCreateExam); err != nil {
		return domain.Exam{}, err
	}
	if err := exam.CheckAnswers(); err != nil {
		return domain.Exam{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if s.opts.Admin == nil {
		return domain.Exam{}, errExamAdmin
	}
	created, err := s.opts.Admin.CreateExam(domain.WithToken(ctx, viewer.Token), exam)
	if err != nil {
		return domain.Exam{}, err
	}
	s.log.Info().Stringer("exam", created.ID).Str("by", viewer.Subject).Int("questions", len(created.Questions)).Msg("exam created")
	return created, nil
}

// Submissions lists the graded attempts at one exam.
func (s *ExamService) Submissions(ctx context.Context, viewer domain.Viewer, rawExamID string) ([]domain.Submission, error) {
	if err := viewer.Require(domain.OpViewResults); err != nil {
		return nil, err
	}
	examID, err := domain.ParseExamID(rawExamID)
	if err != nil {
		return nil, err
	}
	if s.opts.Admin == nil {
		return nil, errExamAdmin
	}
	return s.opts.Admin.ListSubmissions(domain.WithToken(ctx, viewer.Token), examID)
}

// ExamAnalytics returns the backend's report for one exam.
func (s *ExamService) ExamAnalytics(ctx context.Context, viewer domain.Viewer, rawExamID string) (domain.ExamAnalytics, error) {
	if err := viewer.Require(domain.OpViewAnalytics); err != nil {
		return domain.ExamAnalytics{}, err
	}
	examID, err := domain.ParseExamID(rawExamID)
	if err != nil {
		return domain.ExamAnalytics{}, err
	}
	if s.opts.Admin == nil {
		return domain.ExamAnalytics{}, errExamAdmin
	}
	return s.opts.Admin.ExamAnalytics(domain.WithToken(ctx, viewer.Token), examID)
}

// finished forgets a session once its submission has settled.
func (s *ExamService) finished(session *Session) {
	s.sessions.Delete(session.ID())
	s.log.Debug().Str("session", session.ID()).Str("state", string(session.State())).Msg("session finished")
}

func (s *ExamService) submitted(session *Session, receipt domain.SubmissionReceipt) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.opts.Journal != nil {
		if err := s.opts.Journal.Record(ctx, session.Exam(), receipt); err != nil {
			s.log.Error().Err(err).Str("session", session.ID()).Msg("journal receipt failed")
		}
	}
	if s.opts.Drafts != nil {
		if err := s.opts.Drafts.ClearDraft(ctx, session.ExamID(), session.Owner()); err != nil {
			s.log.Warn().Err(err).Str("session", session.ID()).Msg("clear draft failed")
		}
	}
}

type cachedGateway struct {
	ExamGateway
	exams ExamFetcher
}

func (g cachedGateway) FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error) {
	return g.exams.FetchExam(ctx, id)
}
