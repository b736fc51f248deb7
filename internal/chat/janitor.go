package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nwilkes/taskpilot/internal/metrics"
	"github.com/nwilkes/taskpilot/internal/ratelimit"
)

const (
	// DefaultJanitorInterval is how often stale state is swept.
	DefaultJanitorInterval = 1 * time.Minute

	// bucketMaxAge is how long an idle rate-limit bucket is kept around.
	bucketMaxAge = 10 * time.Minute
)

// Janitor periodically reports stale conversations and drops idle
// rate-limit buckets. Stale conversations are never deleted, only
// surfaced through logs and metrics.
type Janitor struct {
	manager        *Manager
	limiter        *ratelimit.Limiter
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	interval       time.Duration
	staleThreshold time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewJanitor creates a janitor sweeping at the default interval.
func NewJanitor(manager *Manager, limiter *ratelimit.Limiter, m *metrics.Metrics, logger zerolog.Logger, staleThreshold time.Duration) *Janitor {
	return NewJanitorWithInterval(manager, limiter, m, logger, staleThreshold, DefaultJanitorInterval)
}

// NewJanitorWithInterval creates a janitor with a custom sweep interval.
func NewJanitorWithInterval(manager *Manager, limiter *ratelimit.Limiter, m *metrics.Metrics, logger zerolog.Logger, staleThreshold, interval time.Duration) *Janitor {
	return &Janitor{
		manager:        manager,
		limiter:        limiter,
		metrics:        m,
		logger:         logger.With().Str("component", "janitor").Logger(),
		interval:       interval,
		staleThreshold: staleThreshold,
	}
}

// Start begins periodic sweeps. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.run(sweepCtx)

	return nil
}

// Stop cancels the sweep loop and waits for it to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel := j.cancel
	done := j.done
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the sweep loop is active.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Janitor) run(ctx context.Context) {
	defer func() {
		j.mu.Lock()
		j.running = false
		if j.done != nil {
			close(j.done)
		}
		j.mu.Unlock()
	}()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("janitor stopping")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	start := time.Now()

	if j.limiter != nil {
		if removed := j.limiter.CleanupStale(bucketMaxAge); removed > 0 {
			j.logger.Debug().Int("removed", removed).Msg("dropped idle rate-limit buckets")
		}
	}

	stale, err := j.manager.StaleConversations(ctx, j.staleThreshold)
	if err != nil {
		j.logger.Warn().Err(err).Msg("stale conversation sweep failed")
		return
	}
	if j.metrics != nil {
		j.metrics.StaleConversations.Set(float64(len(stale)))
	}
	if len(stale) > 0 {
		j.logger.Info().
			Int("stale", len(stale)).
			Dur("duration", time.Since(start)).
			Msg("stale conversations detected")
	}
}
