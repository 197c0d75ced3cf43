package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"exam-runner/internal/analytics"
	"exam-runner/internal/app"
	"exam-runner/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler serves the session REST routes.
type Handler struct {
	service  *app.ExamService
	validate *validator.Validate
	log      zerolog.Logger
}

type startRequest struct {
	ExamID json.Number `json:"exam_id" validate:"required"`
}

type answerRequest struct {
	Answer string `json:"answer" validate:"required"`
}

type sessionView struct {
	app.Snapshot
	Exam    *domain.Exam                 `json:"exam,omitempty"`
	Answers map[domain.QuestionID]string `json:"answers,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.StartSession(r.Context(), viewerFrom(r.Context()), req.ExamID.String())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view(session))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(viewerFrom(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(session))
}

func (h *Handler) SetAnswer(w http.ResponseWriter, r *http.Request) {
	questionID, err := domain.ParseQuestionID(chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.service.Answer(r.Context(), viewerFrom(r.Context()), sessionID, questionID, req.Answer); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	receipt, err := h.service.Submit(r.Context(), viewerFrom(r.Context()), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Close(viewerFrom(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ExamFilter{
		Upcoming: q.Get("upcoming") == "true",
		Previous: q.Get("previous") == "true",
	}
	filter.Skip, _ = strconv.Atoi(q.Get("skip"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	exams, err := h.service.ListExams(r.Context(), viewerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

// Results returns graded submissions along with their summary.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())
	if err := viewer.Require(domain.OpViewAnalytics); err != nil {
		writeError(w, err)
		return
	}
	results, err := h.service.Results(r.Context(), viewer)
	if err != nil {
		writeError(w, err)
		return
	}
	pass, _ := strconv.ParseFloat(r.URL.Query().Get("pass"), 64)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"summary": analytics.Summarize(results, pass),
	})
}

// CreateExam publishes an exam authored by a teacher.
func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	var req domain.NewExam
	if !h.decode(w, r, &req) {
		return
	}
	exam, err := h.service.CreateExam(r.Context(), viewerFrom(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exam)
}

func (h *Handler) Submissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.Submissions(r.Context(), viewerFrom(r.Context()), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) ExamAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ExamAnalytics(r.Context(), viewerFrom(r.Context()), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func view(session *app.Session) sessionView {
	v := sessionView{Snapshot: session.Snapshot(), Answers: session.Answers()}
	if exam := session.Exam(); exam.ID != 0 {
		v.Exam = &exam
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidExamID),
		errors.Is(err, domain.ErrUnknownQuestion),
		errors.Is(err, domain.ErrUnknownOption):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrExamNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySubmitted),
		errors.Is(err, domain.ErrExamEnded),
		errors.Is(err, domain.ErrExamNotStarted),
		errors.Is(err, domain.ErrNotOpen),
		errors.Is(err, domain.ErrSubmitInFlight),
		errors.Is(err, domain.ErrRetriesExhausted),
		errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
