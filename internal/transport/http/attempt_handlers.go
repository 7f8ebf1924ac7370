package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizhub/internal/app"
)

// AttemptHandler serves the taker endpoints.
type AttemptHandler struct {
	service *app.AttemptService
}

func NewAttemptHandler(service *app.AttemptService) *AttemptHandler {
	return &AttemptHandler{service: service}
}

type startAttemptRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	AccessCode string `json:"accessCode"`
}

type submittedAnswer struct {
	QuestionID       string          `json:"questionId"`
	Answer           json.RawMessage `json:"answer"`
	TimeTakenSeconds *int            `json:"timeTakenSeconds"`
}

type submitRequest struct {
	Answers []submittedAnswer `json:"answers"`
}

func (s submitRequest) answers() []app.SubmittedAnswer {
	out := make([]app.SubmittedAnswer, 0, len(s.Answers))
	for _, a := range s.Answers {
		out = append(out, app.SubmittedAnswer{QuestionID: a.QuestionID, Answer: a.Answer, TimeTakenSeconds: a.TimeTakenSeconds})
	}
	return out
}

func (h *AttemptHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid json body")
			return
		}
	}
	handle, err := h.service.StartAttempt(r.Context(), app.StartRequest{
		QuizID:     chi.URLParam(r, "quizID"),
		Identity:   requestIdentity(r, req.Name, req.Email),
		AccessCode: req.AccessCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	handle, err := h.service.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"), requestIdentity(r, "", ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *AttemptHandler) Content(w http.ResponseWriter, r *http.Request) {
	content, err := h.service.GetAttemptContent(r.Context(), chi.URLParam(r, "attemptID"), requestIdentity(r, "", ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (h *AttemptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	result, err := h.service.SubmitAnswers(r.Context(), chi.URLParam(r, "attemptID"), requestIdentity(r, "", ""), req.answers())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AttemptHandler) Result(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GetResult(r.Context(), chi.URLParam(r, "attemptID"), requestIdentity(r, "", ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
