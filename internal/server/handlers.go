package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/chat"
	"github.com/nwilkes/taskpilot/internal/store"
)

const maxBodyBytes = 64 << 10

type handlers struct {
	pipeline *chat.Pipeline
	store    *store.Store
	logger   zerolog.Logger
}

// chatRequest is the POST /{user_id}/chat body.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidParameter, "malformed request body", err))
		return
	}

	result, err := h.pipeline.ProcessTurn(r.Context(), chat.TurnRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conversations, err := h.store.ListConversations(r.Context(), userID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversation_id"))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInvalidParameter, "malformed conversation id", err))
		return
	}

	messages, err := h.store.History(r.Context(), convID, userID,
		queryInt(r, "limit", store.MaxHistoryLimit), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathUserID parses the path user id. The auth middleware has already
// required it to match the token subject.
func pathUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeInvalidParameter, "malformed user id", err)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	env := apperr.ToEnvelope(err)
	writeJSON(w, apperr.HTTPStatus(env.ErrorCode), env)
}
