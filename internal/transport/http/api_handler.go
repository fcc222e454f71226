package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
)

// APIHandler serves the REST side of the game: create, join and read.
// Everything that changes a running game goes over the websocket.
type APIHandler struct {
	service *app.GameService
	logger  logrus.FieldLogger
}

func NewAPIHandler(service *app.GameService, logger logrus.FieldLogger) *APIHandler {
	return &APIHandler{service: service, logger: logger}
}

// Register mounts the API routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", h.createGame)
	mux.HandleFunc("GET /api/games/{code}", h.getGame)
	mux.HandleFunc("POST /api/games/{code}/join", h.joinGame)
	mux.HandleFunc("GET /api/games/{code}/questions/{index}", h.getQuestion)
}

type createGameRequest struct {
	HostNickname  string `json:"hostNickname"`
	QuestionCount *int   `json:"questionCount"`
}

type joinGameRequest struct {
	Nickname string `json:"nickname"`
}

type joinGameResponse struct {
	ParticipantID string `json:"participantId"`
}

type errorBody struct {
	Error domain.ErrorEvent `json:"error"`
}

var errMalformedBody = domain.Reject(domain.ReasonBadRequest, "malformed request body")

func (h *APIHandler) createGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errMalformedBody)
		return
	}
	count := domain.DefaultQuestionCount
	if req.QuestionCount != nil {
		count = *req.QuestionCount
	}

	created, err := h.service.CreateSession(r.Context(), req.HostNickname, count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) getGame(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetSession(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *APIHandler) joinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errMalformedBody)
		return
	}
	id, err := h.service.JoinSession(r.Context(), r.PathValue("code"), req.Nickname)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinGameResponse{ParticipantID: id})
}

func (h *APIHandler) getQuestion(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, r, domain.ErrInvalidIndex)
		return
	}
	question, err := h.service.QuestionAt(r.Context(), r.PathValue("code"), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(domain.ReasonOf(err))
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: domain.ErrorEventFrom(err)})
}

func statusFor(reason domain.Reason) int {
	switch reason {
	case domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonNotHost:
		return http.StatusForbidden
	case domain.ReasonAlreadyStarted, domain.ReasonNicknameTaken, domain.ReasonGameCompleted,
		domain.ReasonNotInProgress, domain.ReasonAlreadyAnswered:
		return http.StatusConflict
	case domain.ReasonInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
