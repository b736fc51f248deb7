package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/apperr"
	"github.com/nwilkes/taskpilot/internal/intent"
	"github.com/nwilkes/taskpilot/internal/metrics"
	"github.com/nwilkes/taskpilot/internal/ratelimit"
	"github.com/nwilkes/taskpilot/internal/tasks"
)

// Config bounds individual calls and whole chains.
type Config struct {
	// ToolTimeout caps one tool invocation.
	ToolTimeout time.Duration
	// ChainTimeout caps the whole chain; exceeding it aborts the
	// remaining steps and marks the chain PARTIAL.
	ChainTimeout time.Duration
}

// DefaultConfig matches the service policy.
func DefaultConfig() Config {
	return Config{
		ToolTimeout:  2500 * time.Millisecond,
		ChainTimeout: 7500 * time.Millisecond,
	}
}

// chainFunc executes the chain pattern for one intent.
type chainFunc func(ctx context.Context, userCtx UserContext, in intent.Intent, prior []ToolCall, chain *Chain) error

// Orchestrator turns intents into tool chains. Dispatch is an explicit
// table keyed by intent name.
type Orchestrator struct {
	backend  tasks.Backend
	limiter  *ratelimit.Limiter
	breaker  *ratelimit.Breaker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	cfg      Config
	handlers map[intent.Name]chainFunc
	sleep    func(context.Context, time.Duration) error
}

// New creates an orchestrator. metrics may be nil in tests.
func New(backend tasks.Backend, limiter *ratelimit.Limiter, breaker *ratelimit.Breaker, m *metrics.Metrics, logger zerolog.Logger, cfg Config) *Orchestrator {
	if cfg.ToolTimeout <= 0 || cfg.ChainTimeout <= 0 {
		cfg = DefaultConfig()
	}
	o := &Orchestrator{
		backend: backend,
		limiter: limiter,
		breaker: breaker,
		metrics: m,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		cfg:     cfg,
		sleep:   sleepCtx,
	}
	o.handlers = map[intent.Name]chainFunc{
		intent.AddTask:      o.runAddTask,
		intent.ListTasks:    o.runListTasks,
		intent.CompleteTask: o.runFindAndComplete,
		intent.DeleteTask:   o.runFindAndDelete,
		intent.UpdateTask:   o.runFindAndUpdate,
		intent.TaskSummary:  o.runTaskSummary,
	}
	return o
}

// Execute runs the chain for a recognized intent. prior carries the
// previous turn's tool calls for pronoun reference resolution. The returned
// chain always reflects every attempted call, whatever the outcome.
func (o *Orchestrator) Execute(ctx context.Context, userCtx UserContext, in intent.Intent, prior []ToolCall) *Chain {
	chain := &Chain{Status: ChainSuccess}

	handler, ok := o.handlers[in.Name]
	if !ok {
		chain.Status = ChainFailed
		chain.Failure = apperr.Newf(apperr.CodeInvalidParameter, "unsupported intent %q", in.Name)
		return chain
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ChainTimeout)
	defer cancel()

	if err := handler(ctx, userCtx, in, prior, chain); err != nil {
		chain.Failure = err
		if chain.Status == ChainSuccess {
			chain.Status = ChainFailed
		}
		o.logger.Warn().
			Err(err).
			Str("intent", string(in.Name)).
			Str("user_id", userCtx.UserID).
			Str("chain_status", string(chain.Status)).
			Msg("chain did not complete")
	}
	return chain
}

// invoke runs one tool call under the gate order: rate limit, circuit
// breaker, then the call itself with retry for transient failures. Every
// attempt outcome is recorded on the chain.
func (o *Orchestrator) invoke(ctx context.Context, userCtx UserContext, tool string, params map[string]any, fn func(ctx context.Context) (any, error)) (any, error) {
	if ok, resetIn := o.limiter.Allow(userCtx.UserID, tool); !ok {
		if o.metrics != nil {
			o.metrics.RateLimitRejects.WithLabelValues(tool).Inc()
		}
		return nil, apperr.Newf(apperr.CodeRateLimited, "rate limit exceeded for %s", tool).
			WithDetail("reset_in_seconds", int(resetIn.Seconds())+boolToInt(resetIn%time.Second > 0))
	}

	if !o.breaker.Allow(tool) {
		return nil, apperr.Newf(apperr.CodeUnavailable, "%s temporarily unavailable", tool)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
		result, err := fn(callCtx)
		cancel()

		if o.metrics != nil {
			status := "success"
			if err != nil {
				status = string(apperr.CodeOf(err))
			}
			o.metrics.ObserveToolCall(tool, status, time.Since(start))
		}

		if err == nil {
			o.breaker.Record(tool, true)
			return result, nil
		}

		// A repeated mutation answering "already applied" means the
		// first attempt landed; the idempotency key matched, so this
		// is success, not a state error.
		if attempt > 1 && apperr.CodeOf(err) == apperr.CodeInvalidState && tasks.MutatingTools[tool] {
			o.breaker.Record(tool, true)
			return map[string]any{"status": "already_applied"}, nil
		}

		o.breaker.Record(tool, false)
		lastErr = err

		if !apperr.IsRetryable(err) || attempt == maxAttempts {
			break
		}
		if err := o.sleep(ctx, backoffDelay(attempt)); err != nil {
			// Chain deadline hit while backing off.
			return nil, apperr.Wrap(apperr.CodeTimeout, "chain deadline exceeded during retry", err)
		}
	}
	return nil, lastErr
}

// record appends a call outcome to the chain.
func (o *Orchestrator) record(chain *Chain, tool string, params map[string]any, result any, err error) {
	call := ToolCall{Tool: tool, Parameters: params}
	if err != nil {
		env := apperr.ToEnvelope(err)
		call.Error = &env
		call.Status = "error"
	} else {
		call.Result = result
		call.Status = resultStatus(result)
	}
	chain.Calls = append(chain.Calls, call)
}

// resultStatus surfaces the backend's own status word so clients can tell
// created from completed from deleted without digging into the result.
func resultStatus(result any) string {
	switch v := result.(type) {
	case *tasks.MutationResult:
		if v.Status != "" {
			return v.Status
		}
	case map[string]any:
		if s, ok := v["status"].(string); ok && s != "" {
			return s
		}
	}
	return "ok"
}

// chainInterrupted classifies an error that should turn the chain PARTIAL:
// the chain deadline expired after at least one completed step.
func chainInterrupted(ctx context.Context, err error, completed int) bool {
	if completed == 0 {
		return false
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || apperr.CodeOf(err) == apperr.CodeTimeout
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
