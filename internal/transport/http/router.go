package http

import (
	"net/http"
	"time"

	"exam-runner/internal/app"
	"exam-runner/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Authenticator resolves a verified viewer from a bearer token.
type Authenticator interface {
	Viewer(token string) (domain.Viewer, error)
}

// RouterConfig configures the relay's HTTP surface. Without Auth every
// route except /healthz answers 401.
type RouterConfig struct {
	CORSOrigins []string
	Auth        Authenticator
}

// NewRouter mounts the session REST routes and the websocket channel.
func NewRouter(service *app.ExamService, cfg RouterConfig, log zerolog.Logger) http.Handler {
	h := &Handler{
		service:  service,
		validate: validator.New(),
		log:      log.With().Str("component", "http").Logger(),
	}
	ws := NewWSHandler(service, log)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(requireViewer(cfg.Auth))
		r.Route("/exams", func(r chi.Router) {
			r.Get("/", h.ListExams)
			r.Post("/", h.CreateExam)
			r.Get("/{examID}/submissions", h.Submissions)
			r.Get("/{examID}/analytics", h.ExamAnalytics)
		})
		r.Get("/results", h.Results)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.CloseSession)
				r.Put("/answers/{questionID}", h.SetAnswer)
				r.Post("/submit", h.Submit)
				r.Get("/ws", ws.ServeWS)
			})
		})
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(started)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
