// Package gateway is the REST client for the exam backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"exam-runner/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Config describes how to reach the backend. BaseURL includes the API
// prefix, e.g. http://localhost:8000/api/v1.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// APIError is a non-2xx response. Err is one of the domain sentinels.
type APIError struct {
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Err, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Err, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// Client talks to the backend. Requests carry the caller's token when the
// context has one (domain.WithToken) and the configured token otherwise.
type Client struct {
	base      *url.URL
	http      *http.Client
	tokens    oauth2.TokenSource
	userAgent string
	log       zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", cfg.BaseURL)
	}

	h := &http.Client{Timeout: cfg.Timeout}
	var tokens oauth2.TokenSource
	if cfg.Token != "" {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "exam-runner"
	}
	return &Client{
		base:      base,
		http:      h,
		tokens:    tokens,
		userAgent: ua,
		log:       log.With().Str("component", "gateway").Logger(),
	}, nil
}

// FetchExam loads an exam with its questions: GET /exams/{id}.
func (c *Client) FetchExam(ctx context.Context, id domain.ExamID) (domain.Exam, error) {
	var exam domain.Exam
	if err := c.do(ctx, http.MethodGet, "/exams/"+id.String(), nil, nil, &exam); err != nil {
		return domain.Exam{}, fmt.Errorf("fetch exam %s: %w", id, err)
	}
	return exam, nil
}

// SubmitExam posts answers: POST /exams/{id}/submit.
func (c *Client) SubmitExam(ctx context.Context, id domain.ExamID, payload domain.SubmissionPayload) (domain.SubmissionReceipt, error) {
	if payload.Answers == nil {
		payload.Answers = []domain.Answer{}
	}
	var receipt domain.SubmissionReceipt
	if err := c.do(ctx, http.MethodPost, "/exams/"+id.String()+"/submit", nil, payload, &receipt); err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("submit exam %s: %w", id, err)
	}
	return receipt, nil
}

// ListExams lists exams: GET /exams.
func (c *Client) ListExams(ctx context.Context, filter domain.ExamFilter) ([]domain.Exam, error) {
	q := url.Values{}
	if filter.Upcoming {
		q.Set("upcoming", "true")
	}
	if filter.Previous {
		q.Set("previous", "true")
	}
	if filter.Skip > 0 {
		q.Set("skip", strconv.Itoa(filter.Skip))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var exams []domain.Exam
	if err := c.do(ctx, http.MethodGet, "/exams", q, nil, &exams); err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// ListResults lists graded submissions: GET /exams/results.
func (c *Client) ListResults(ctx context.Context) ([]domain.ExamResult, error) {
	var results []domain.ExamResult
	if err := c.do(ctx, http.MethodGet, "/exams/results", nil, nil, &results); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// CreateExam publishes a new exam with its questions: POST /exams.
func (c *Client) CreateExam(ctx context.Context, exam domain.NewExam) (domain.Exam, error) {
	var created domain.Exam
	if err := c.do(ctx, http.MethodPost, "/exams", nil, exam, &created); err != nil {
		return domain.Exam{}, fmt.Errorf("create exam: %w", err)
	}
	return created, nil
}

// ListSubmissions lists graded attempts at one exam: GET /exams/{id}/submissions.
func (c *Client) ListSubmissions(ctx context.Context, id domain.ExamID) ([]domain.Submission, error) {
	var submissions []domain.Submission
	if err := c.do(ctx, http.MethodGet, "/exams/"+id.String()+"/submissions", nil, nil, &submissions); err != nil {
		return nil, fmt.Errorf("list submissions for exam %s: %w", id, err)
	}
	return submissions, nil
}

// ExamAnalytics fetches the per-exam report: GET /exams/{id}/analytics.
func (c *Client) ExamAnalytics(ctx context.Context, id domain.ExamID) (domain.ExamAnalytics, error) {
	var report domain.ExamAnalytics
	if err := c.do(ctx, http.MethodGet, "/exams/"+id.String()+"/analytics", nil, nil, &report); err != nil {
		return domain.ExamAnalytics{}, fmt.Errorf("exam analytics %s: %w", id, err)
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer res.Body.Close()
	c.log.Debug().Str("method", method).Str("path", path).Int("status", res.StatusCode).
		Dur("took", time.Since(started)).Msg("gateway request")

	if res.StatusCode/100 != 2 {
		return decodeError(res)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrNetwork, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if token := domain.TokenFrom(ctx); token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
		return nil
	}
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	tok.SetAuthHeader(req)
	return nil
}

func decodeError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	detail := errorDetail(raw)
	return &APIError{Status: res.StatusCode, Detail: detail, Err: classify(res.StatusCode, detail)}
}

// errorDetail extracts {"detail": ...}; validation errors carry a list.
func errorDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			msgs = append(msgs, it.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return string(body.Detail)
}

func classify(status int, detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case status == http.StatusNotFound:
		return domain.ErrExamNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case status == http.StatusBadRequest && strings.Contains(lower, "already submitted"):
		return domain.ErrAlreadySubmitted
	case status == http.StatusBadRequest && strings.Contains(lower, "has ended"):
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrExamEnded)
	case status == http.StatusBadRequest && strings.Contains(lower, "not started"):
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrExamNotStarted)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return domain.ErrValidation
	default:
		return domain.ErrNetwork
	}
}
