// Package chat runs the turn pipeline: conversation resolution, history
// loading under a token budget, intent execution and transcript persistence.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/store"
)

// Token estimation constants. The heuristic is content length over four
// plus a flat per-message role overhead; precision does not matter as long
// as truncation errs toward keeping the newest messages.
const (
	charsPerToken    = 4
	roleOverheadToks = 4
)

// ManagerConfig bounds history loading.
type ManagerConfig struct {
	HistoryLimit  int
	MaxTokens     int
	ReserveTokens int
}

// Manager resolves conversations and loads bounded history.
type Manager struct {
	store  *store.Store
	cfg    ManagerConfig
	logger zerolog.Logger
}

// NewManager creates a conversation manager.
func NewManager(st *store.Store, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  st,
		cfg:    cfg,
		logger: logger.With().Str("component", "chat").Logger(),
	}
}

// Resolve returns the conversation for this turn: a fresh one when no id is
// supplied, otherwise the referenced conversation after an ownership check.
func (m *Manager) Resolve(ctx context.Context, conversationID string, userID uuid.UUID) (*store.Conversation, error) {
	if conversationID == "" {
		return m.store.CreateConversation(ctx, userID)
	}

	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidParameter, "malformed conversation id", err)
	}
	return m.store.GetConversation(ctx, convID, userID)
}

// LoadHistory fetches the newest window of the conversation's messages,
// ascending, and truncates from the oldest end until the estimated cost
// fits the budget. The newest messages are never sacrificed for older ones.
func (m *Manager) LoadHistory(ctx context.Context, convID, userID uuid.UUID) ([]store.Message, bool, error) {
	messages, err := m.store.RecentHistory(ctx, convID, userID, m.cfg.HistoryLimit)
	if err != nil {
		return nil, false, err
	}

	budget := m.cfg.MaxTokens - m.cfg.ReserveTokens
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg)
	}

	dropped := 0
	for total > budget && dropped < len(messages) {
		total -= estimateTokens(messages[dropped])
		dropped++
	}

	if dropped > 0 {
		m.logger.Debug().
			Str("conversation_id", convID.String()).
			Int("dropped", dropped).
			Int("kept", len(messages)-dropped).
			Msg("history truncated to fit token budget")
	}
	return messages[dropped:], dropped > 0, nil
}

// estimateTokens is the per-message cost heuristic.
func estimateTokens(msg store.Message) int {
	return len(msg.Content)/charsPerToken + roleOverheadToks
}

// StaleConversations reports conversations idle past the threshold.
// Reporting only; nothing is deleted.
func (m *Manager) StaleConversations(ctx context.Context, threshold time.Duration) ([]store.Conversation, error) {
	return m.store.StaleConversations(ctx, threshold)
}
