package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/apperr"
)

// Resolver turns an utterance into a structured intent. The classifier
// itself is an external collaborator; only its contract lives here.
type Resolver interface {
	Resolve(ctx context.Context, utterance string, history []HistoryEntry) (Intent, error)
}

// HistoryEntry is the minimal context the resolver receives per prior
// message.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPResolver calls the NLU service over HTTP JSON.
type HTTPResolver struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewHTTPResolver creates a resolver client for the given base URL.
func NewHTTPResolver(baseURL string, httpClient *http.Client, logger zerolog.Logger) *HTTPResolver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPResolver{
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger.With().Str("component", "intent").Logger(),
	}
}

type resolveRequest struct {
	Utterance string         `json:"utterance"`
	History   []HistoryEntry `json:"history,omitempty"`
}

// Resolve classifies one utterance. Malformed or low-confidence results
// degrade to the unknown intent rather than failing the turn: the user
// still gets a clarification response.
func (r *HTTPResolver) Resolve(ctx context.Context, utterance string, history []HistoryEntry) (Intent, error) {
	body, err := json.Marshal(resolveRequest{Utterance: utterance, History: history})
	if err != nil {
		return Intent{}, apperr.Wrap(apperr.CodeInvalidParameter, "encoding resolve request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return Intent{}, apperr.Wrap(apperr.CodeInvalidParameter, "building resolve request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Intent{}, apperr.Wrap(apperr.CodeTimeout, "intent resolution deadline exceeded", err)
		}
		return Intent{}, apperr.Wrap(apperr.CodeUnavailable, "intent resolver unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Intent{}, apperr.Wrap(apperr.CodeUnavailable, "reading resolver response", err)
	}
	if resp.StatusCode >= 400 {
		return Intent{}, apperr.Newf(apperr.CodeUnavailable, "intent resolver returned %d", resp.StatusCode)
	}

	var resolved Intent
	if err := json.Unmarshal(payload, &resolved); err != nil {
		r.logger.Warn().Err(err).Msg("resolver returned malformed intent, treating as unknown")
		return Intent{Name: Unknown}, nil
	}
	if resolved.Name == "" {
		resolved.Name = Unknown
	}
	return resolved, nil
}
