package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter wires the REST and websocket endpoints.
func NewRouter(quizzes *QuizHandler, attempts *AttemptHandler, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", ws.ServeWS)

	r.Route("/quizzes", func(r chi.Router) {
		r.Post("/", quizzes.CreateQuiz)

		r.Route("/{quizID}", func(r chi.Router) {
			r.Get("/", quizzes.GetQuiz)
			r.Patch("/", quizzes.UpdateQuiz)
			r.Post("/publish", quizzes.Publish)
			r.Post("/republish", quizzes.Republish)
			r.Post("/unpublish", quizzes.Unpublish)
			r.Post("/archive", quizzes.Archive)
			r.Get("/changes", quizzes.Changes)

			r.Post("/questions", quizzes.AddQuestion)
			r.Post("/questions/reorder", quizzes.ReorderQuestions)
			r.Put("/questions/{questionID}", quizzes.UpdateQuestion)
			r.Delete("/questions/{questionID}", quizzes.RemoveQuestion)

			r.Get("/history", quizzes.ListHistory)
			r.Post("/history", quizzes.SaveHistory)
			r.Get("/history/{version}", quizzes.GetVersion)
			r.Post("/history/{version}/restore", quizzes.RestoreVersion)

			r.Post("/attempts", attempts.Start)
		})
	})

	r.Route("/attempts/{attemptID}", func(r chi.Router) {
		r.Get("/", attempts.Get)
		r.Get("/content", attempts.Content)
		r.Post("/submit", attempts.Submit)
		r.Get("/result", attempts.Result)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
