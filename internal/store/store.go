package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nwilkes/taskpilot/internal/apperr"
)

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 100

// Store is the persistence layer for conversations and messages.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Store and runs schema migration.
func New(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "migrating schema", err)
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}, nil
}

// CreateConversation starts a new conversation owned by userID.
func (s *Store) CreateConversation(ctx context.Context, userID uuid.UUID) (*Conversation, error) {
	now := s.now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "creating conversation", err)
	}
	s.logger.Debug().
		Str("conversation_id", conv.ID.String()).
		Str("user_id", userID.String()).
		Msg("conversation created")
	return conv, nil
}

// GetConversation fetches a conversation the caller owns. A conversation
// that does not exist and one owned by someone else are indistinguishable to
// the caller: both return unauthorized_access.
func (s *Store) GetConversation(ctx context.Context, convID, userID uuid.UUID) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", convID, userID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.CodeUnauthorized, "conversation not accessible")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "fetching conversation", err)
	}
	return &conv, nil
}

// AppendTurn commits one chat turn: exactly one user message followed by
// exactly one assistant message, atomically. The conversation's version must
// equal expectedVersion or the write is rejected with conflict; this is how
// concurrent turns on the same conversation are serialized without a global
// lock.
func (s *Store) AppendTurn(ctx context.Context, convID, userID uuid.UUID, expectedVersion int64, userMsg, assistantMsg *Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Version bump doubles as the ownership check: the predicate
		// includes user_id, so a foreign conversation updates zero rows.
		res := tx.Model(&Conversation{}).
			Where("id = ? AND user_id = ? AND version = ?", convID, userID, expectedVersion).
			Updates(map[string]any{
				"version":    expectedVersion + 1,
				"updated_at": s.now().UTC(),
			})
		if res.Error != nil {
			return apperr.Wrap(apperr.CodeDatabaseError, "updating conversation version", res.Error)
		}
		if res.RowsAffected == 0 {
			// Distinguish a stale version from a foreign conversation.
			var count int64
			if err := tx.Model(&Conversation{}).
				Where("id = ? AND user_id = ?", convID, userID).
				Count(&count).Error; err != nil {
				return apperr.Wrap(apperr.CodeDatabaseError, "checking conversation ownership", err)
			}
			if count == 0 {
				return apperr.New(apperr.CodeUnauthorized, "conversation not accessible")
			}
			return apperr.New(apperr.CodeConflict, "conversation modified concurrently")
		}

		now := s.now().UTC()
		s.prepareMessage(userMsg, convID, userID, RoleUser, now)
		// The assistant message is strictly later so the pair orders
		// correctly under the (conversation_id, created_at) index.
		s.prepareMessage(assistantMsg, convID, userID, RoleAssistant, now.Add(time.Microsecond))

		if err := tx.Create(userMsg).Error; err != nil {
			return apperr.Wrap(apperr.CodeDatabaseError, "storing user message", err)
		}
		if err := tx.Create(assistantMsg).Error; err != nil {
			return apperr.Wrap(apperr.CodeDatabaseError, "storing assistant message", err)
		}
		return nil
	})
}

func (s *Store) prepareMessage(msg *Message, convID, userID uuid.UUID, role string, at time.Time) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.ConversationID = convID
	msg.UserID = userID
	msg.Role = role
	msg.CreatedAt = at
}

// History returns messages for a conversation the caller owns, ascending by
// created_at. limit is capped at MaxHistoryLimit.
func (s *Store) History(ctx context.Context, convID, userID uuid.UUID, limit, offset int) ([]Message, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	// Ownership first; the message query below still repeats the user_id
	// predicate rather than trusting the earlier read.
	if _, err := s.GetConversation(ctx, convID, userID); err != nil {
		return nil, err
	}

	var messages []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "fetching history", err)
	}
	return messages, nil
}

// RecentHistory returns the newest limit messages of a conversation the
// caller owns, in ascending order. This is the window the turn pipeline
// works from: when a conversation outgrows the limit, the oldest messages
// fall out, never the newest.
func (s *Store) RecentHistory(ctx context.Context, convID, userID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, err := s.GetConversation(ctx, convID, userID); err != nil {
		return nil, err
	}

	var messages []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "fetching recent history", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListConversations returns the caller's most recently active conversations.
func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "listing conversations", err)
	}
	return convs, nil
}

// StaleConversations reports conversations with no activity since the
// cutoff. Reporting only: nothing is ever deleted here.
func (s *Store) StaleConversations(ctx context.Context, olderThan time.Duration) ([]Conversation, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Find(&convs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "finding stale conversations", err)
	}
	return convs, nil
}
