// Package main is the taskpilot entry point: a chat frontend that turns
// natural language into task operations against a CRUD backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nwilkes/taskpilot/internal/auth"
	"github.com/nwilkes/taskpilot/internal/chat"
	"github.com/nwilkes/taskpilot/internal/config"
	"github.com/nwilkes/taskpilot/internal/intent"
	"github.com/nwilkes/taskpilot/internal/logger"
	"github.com/nwilkes/taskpilot/internal/metrics"
	"github.com/nwilkes/taskpilot/internal/orchestrator"
	"github.com/nwilkes/taskpilot/internal/ratelimit"
	"github.com/nwilkes/taskpilot/internal/server"
	"github.com/nwilkes/taskpilot/internal/store"
	"github.com/nwilkes/taskpilot/internal/tasks"
)

const backendHTTPTimeout = 10 * time.Second

func main() {
	os.Exit(runMain())
}

func runMain() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "taskpilot: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Str("listen_addr", cfg.ListenAddr).Msg("taskpilot starting")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	st, err := store.New(db, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	limiter := ratelimit.NewLimiter(nil)
	breaker := ratelimit.NewBreaker(ratelimit.DefaultBreakerConfig())
	breaker.OnStateChange(func(tool string, state ratelimit.CircuitState) {
		m.CircuitState.WithLabelValues(tool).Set(float64(state))
		log.Warn().Str("tool", tool).Stringer("state", state).Msg("circuit state changed")
	})

	httpClient := &http.Client{Timeout: backendHTTPTimeout}
	backend := tasks.NewClient(cfg.TaskBackendURL, httpClient, log)
	resolver := intent.NewHTTPResolver(cfg.IntentResolverURL, httpClient, log)

	orch := orchestrator.New(backend, limiter, breaker, m, log, orchestrator.Config{
		ToolTimeout:  cfg.ToolTimeout,
		ChainTimeout: cfg.ChainTimeout,
	})
	manager := chat.NewManager(st, chat.ManagerConfig{
		HistoryLimit:  cfg.HistoryLimit,
		MaxTokens:     cfg.MaxTokens,
		ReserveTokens: cfg.ReserveTokens,
	}, log)
	pipeline := chat.NewPipeline(manager, orch, resolver, chat.NewTemplateResponder(), st, m, log)

	janitor := chat.NewJanitor(manager, limiter, m, log, cfg.StaleThreshold)
	if err := janitor.Start(ctx); err != nil {
		return err
	}
	defer janitor.Stop()

	gate := auth.NewGate([]byte(cfg.JWTSecret))
	srv := server.New(cfg.ListenAddr, gate, pipeline, st, registry, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
