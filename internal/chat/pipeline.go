package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/intent"
	"github.com/nwilkes/taskpilot/internal/metrics"
	"github.com/nwilkes/taskpilot/internal/orchestrator"
	"github.com/nwilkes/taskpilot/internal/store"
)

// TurnRequest is one authenticated chat turn. ConversationID may be empty
// to start a new conversation.
type TurnRequest struct {
	UserID         uuid.UUID
	ConversationID string
	Message        string
}

// TurnResult is the structured outcome every turn produces.
type TurnResult struct {
	ConversationID string                  `json:"conversation_id"`
	Response       string                  `json:"response"`
	ToolCalls      []orchestrator.ToolCall `json:"tool_calls"`
}

// Pipeline drives a turn through its lifecycle as a linear sequence of
// stages sharing one cancellation context. Each stage advances the turn
// state machine; the turn always ends Responded or Rejected.
type Pipeline struct {
	manager   *Manager
	orch      *orchestrator.Orchestrator
	resolver  intent.Resolver
	responder Responder
	store     *store.Store
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewPipeline wires the turn pipeline.
func NewPipeline(manager *Manager, orch *orchestrator.Orchestrator, resolver intent.Resolver, responder Responder, st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		manager:   manager,
		orch:      orch,
		resolver:  resolver,
		responder: responder,
		store:     st,
		metrics:   m,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessTurn executes one chat turn. The caller has already passed the
// request gate, so the turn enters Authenticated immediately. Errors are
// returned only for turns that could not produce a transcript (rejections
// and persistence failures); everything else resolves into a structured
// TurnResult.
func (p *Pipeline) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	turn := NewTurn()
	p.advance(turn, StateAuthenticated)

	if req.Message == "" {
		p.advance(turn, StateRejected)
		return nil, apperr.New(apperr.CodeInvalidParameter, "message must not be empty")
	}

	conv, err := p.manager.Resolve(ctx, req.ConversationID, req.UserID)
	if err != nil {
		p.advance(turn, StateRejected)
		return nil, err
	}

	history, truncated, err := p.manager.LoadHistory(ctx, conv.ID, req.UserID)
	if err != nil {
		p.advance(turn, StateRejected)
		return nil, err
	}
	p.advance(turn, StateContextLoaded)
	if truncated && p.metrics != nil {
		p.metrics.HistoryTruncated.Inc()
	}

	resolved := p.resolveIntent(ctx, req.Message, history)
	p.advance(turn, StateIntentResolved)

	userMsgID := uuid.New()
	var chain *orchestrator.Chain
	if resolved.Actionable() {
		p.advance(turn, StateExecuting)
		chain = p.orch.Execute(ctx, orchestrator.UserContext{
			UserID:         req.UserID.String(),
			ConversationID: conv.ID.String(),
			MessageID:      userMsgID.String(),
		}, resolved, priorToolCalls(history))

		// A rate-limited first step never executed anything: the turn is
		// rejected outright, with nothing worth persisting.
		if chain.Status == orchestrator.ChainFailed &&
			apperr.CodeOf(chain.Failure) == apperr.CodeRateLimited &&
			completedCalls(chain) == 0 {
			p.advance(turn, StateRejected)
			p.observe(StateRejected, start)
			return nil, chain.Failure
		}

		p.advance(turn, chainState(chain))
	} else {
		p.advance(turn, StateSuccess)
	}

	response := p.responder.Respond(resolved, chain)

	result := &TurnResult{
		ConversationID: conv.ID.String(),
		Response:       response,
		ToolCalls:      []orchestrator.ToolCall{},
	}
	if chain != nil {
		result.ToolCalls = chain.Calls
	}

	if err := p.persistTurn(ctx, conv, req, userMsgID, response, result.ToolCalls); err != nil {
		p.logger.Error().
			Err(err).
			Str("conversation_id", conv.ID.String()).
			Msg("turn transcript not persisted")
		p.observe(StateFailed, start)
		return nil, err
	}
	p.advance(turn, StatePersisted)

	p.advance(turn, StateResponded)
	p.observe(turnOutcome(chain), start)
	return result, nil
}

// resolveIntent classifies the utterance. Resolver failures degrade to the
// unknown intent: the user gets a clarification rather than a dropped turn.
func (p *Pipeline) resolveIntent(ctx context.Context, message string, history []store.Message) intent.Intent {
	entries := make([]intent.HistoryEntry, 0, len(history))
	for _, msg := range history {
		entries = append(entries, intent.HistoryEntry{Role: msg.Role, Content: msg.Content})
	}

	resolved, err := p.resolver.Resolve(ctx, message, entries)
	if err != nil {
		p.logger.Warn().Err(err).Msg("intent resolution failed, answering with clarification")
		return intent.Intent{Name: intent.Unknown}
	}
	return resolved
}

// persistTurn commits the user/assistant pair. One optimistic-concurrency
// conflict is absorbed by refreshing the version and retrying; a second
// conflict is surfaced to the caller.
func (p *Pipeline) persistTurn(ctx context.Context, conv *store.Conversation, req TurnRequest, userMsgID uuid.UUID, response string, calls []orchestrator.ToolCall) error {
	encoded, err := json.Marshal(calls)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "encoding tool calls", err)
	}

	version := conv.Version
	for attempt := 0; attempt < 2; attempt++ {
		userMsg := &store.Message{ID: userMsgID, Content: req.Message}
		assistantMsg := &store.Message{Content: response, ToolCalls: encoded}

		err = p.store.AppendTurn(ctx, conv.ID, req.UserID, version, userMsg, assistantMsg)
		if err == nil {
			return nil
		}
		if apperr.CodeOf(err) != apperr.CodeConflict || attempt == 1 {
			return err
		}

		if p.metrics != nil {
			p.metrics.VersionConflicts.Inc()
		}
		refreshed, refreshErr := p.store.GetConversation(ctx, conv.ID, req.UserID)
		if refreshErr != nil {
			return refreshErr
		}
		version = refreshed.Version
	}
	return err
}

// advance moves the turn along its lifecycle. An invalid edge is a bug in
// the pipeline's own sequencing, so it is logged loudly rather than dropped.
func (p *Pipeline) advance(turn *Turn, to TurnState) {
	if err := turn.Transition(to); err != nil {
		p.logger.Error().Err(err).Msg("turn lifecycle out of sequence")
	}
}

func (p *Pipeline) observe(outcome TurnState, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveTurn(string(outcome), time.Since(start))
	}
}

func priorToolCalls(history []store.Message) []orchestrator.ToolCall {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != store.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		var calls []orchestrator.ToolCall
		if err := json.Unmarshal(msg.ToolCalls, &calls); err != nil {
			return nil
		}
		return calls
	}
	return nil
}

func completedCalls(chain *orchestrator.Chain) int {
	n := 0
	for _, call := range chain.Calls {
		if call.Error == nil {
			n++
		}
	}
	return n
}

func chainState(chain *orchestrator.Chain) TurnState {
	switch chain.Status {
	case orchestrator.ChainSuccess:
		return StateSuccess
	case orchestrator.ChainPartial:
		return StatePartial
	default:
		return StateFailed
	}
}

func turnOutcome(chain *orchestrator.Chain) TurnState {
	if chain == nil {
		return StateSuccess
	}
	return chainState(chain)
}
