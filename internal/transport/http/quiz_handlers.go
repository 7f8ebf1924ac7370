package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quizhub/internal/app"
	"quizhub/internal/domain"
)

// QuizHandler serves the creator endpoints.
type QuizHandler struct {
	service *app.VersioningService
}

func NewQuizHandler(service *app.VersioningService) *QuizHandler {
	return &QuizHandler{service: service}
}

type createQuizRequest struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Settings     domain.Settings   `json:"settings"`
	AccessCode   string            `json:"accessCode"`
	IPRestricted bool              `json:"ipRestricted"`
	AllowedIPs   []string          `json:"allowedIps"`
	Schedule     domain.Schedule   `json:"schedule"`
	References   domain.References `json:"references"`
}

type updateQuizRequest struct {
	ExpectedVersion   int64              `json:"expectedVersion"`
	Title             *string            `json:"title"`
	Description       *string            `json:"description"`
	Settings          *domain.Settings   `json:"settings"`
	Schedule          *domain.Schedule   `json:"schedule"`
	References        *domain.References `json:"references"`
	RequireAccessCode *bool              `json:"requireAccessCode"`
	AccessCode        *string            `json:"accessCode"`
	IPRestricted      *bool              `json:"ipRestricted"`
	AllowedIPs        []string           `json:"allowedIps"`
}

type questionRequest struct {
	ExpectedVersion int64               `json:"expectedVersion"`
	Type            domain.QuestionType `json:"type"`
	Text            string              `json:"text"`
	Explanation     string              `json:"explanation"`
	Points          int                 `json:"points"`
	Data            json.RawMessage     `json:"data"`
	Position        *int                `json:"position"`
}

func (q questionRequest) input() app.QuestionInput {
	return app.QuestionInput{
		Type:        q.Type,
		Text:        q.Text,
		Explanation: q.Explanation,
		Points:      q.Points,
		Data:        q.Data,
		Position:    q.Position,
	}
}

type versionRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

type reorderRequest struct {
	ExpectedVersion int64    `json:"expectedVersion"`
	Order           []string `json:"order"`
}

func (h *QuizHandler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	quiz, err := h.service.CreateQuiz(r.Context(), actorID(r), app.QuizInput{
		Title:        req.Title,
		Description:  req.Description,
		Settings:     req.Settings,
		AccessCode:   req.AccessCode,
		IPRestricted: req.IPRestricted,
		AllowedIPs:   req.AllowedIPs,
		Schedule:     req.Schedule,
		References:   req.References,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *QuizHandler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.GetQuiz(r.Context(), chi.URLParam(r, "quizID"), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *QuizHandler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	var req updateQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	quiz, err := h.service.UpdateQuiz(r.Context(), chi.URLParam(r, "quizID"), actorID(r), req.ExpectedVersion, app.QuizPatch{
		Title:             req.Title,
		Description:       req.Description,
		Settings:          req.Settings,
		Schedule:          req.Schedule,
		References:        req.References,
		RequireAccessCode: req.RequireAccessCode,
		AccessCode:        req.AccessCode,
		IPRestricted:      req.IPRestricted,
		AllowedIPs:        req.AllowedIPs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *QuizHandler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	quiz, err := h.service.AddQuestion(r.Context(), chi.URLParam(r, "quizID"), actorID(r), req.ExpectedVersion, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *QuizHandler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	quiz, err := h.service.UpdateQuestion(r.Context(), chi.URLParam(r, "quizID"), chi.URLParam(r, "questionID"), actorID(r), req.ExpectedVersion, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// RemoveQuestion takes the version token from the expectedVersion query parameter.
func (h *QuizHandler) RemoveQuestion(w http.ResponseWriter, r *http.Request) {
	expected, err := strconv.ParseInt(r.URL.Query().Get("expectedVersion"), 10, 64)
	if err != nil {
		writeBadRequest(w, "expectedVersion query parameter is required")
		return
	}
	quiz, err := h.service.RemoveQuestion(r.Context(), chi.URLParam(r, "quizID"), chi.URLParam(r, "questionID"), actorID(r), expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *QuizHandler) ReorderQuestions(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	quiz, err := h.service.ReorderQuestions(r.Context(), chi.URLParam(r, "quizID"), actorID(r), req.ExpectedVersion, req.Order)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *QuizHandler) Publish(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.Publish(r.Context(), chi.URLParam(r, "quizID"), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"publishedVersion": version})
}

func (h *QuizHandler) Republish(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.UpdatePublishedVersion(r.Context(), chi.URLParam(r, "quizID"), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"publishedVersion": version})
}

func (h *QuizHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unpublish(r.Context(), chi.URLParam(r, "quizID"), actorID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QuizHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Archive(r.Context(), chi.URLParam(r, "quizID"), actorID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QuizHandler) Changes(w http.ResponseWriter, r *http.Request) {
	changed, err := h.service.HasUnpublishedChanges(r.Context(), chi.URLParam(r, "quizID"), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasUnpublishedChanges": changed})
}

func (h *QuizHandler) SaveHistory(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.SaveHistory(r.Context(), chi.URLParam(r, "quizID"), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"version": version})
}

func (h *QuizHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListHistory(r.Context(), chi.URLParam(r, "quizID"), actorID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *QuizHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetVersion(r.Context(), chi.URLParam(r, "quizID"), actorID(r), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *QuizHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	var req versionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	quiz, err := h.service.RestoreVersion(r.Context(), chi.URLParam(r, "quizID"), actorID(r), req.ExpectedVersion, version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeBadRequest(w, "version must be a positive integer")
		return 0, false
	}
	return version, true
}
