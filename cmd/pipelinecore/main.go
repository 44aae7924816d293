// Command pipelinecore wires concrete adapters behind the pipeline
// execution core's ports and exposes the four use cases for an
// embedding caller (a worker loop, a queue consumer, or an operator
// script) to drive. It owns process lifecycle only: config load,
// logger construction, telemetry shutdown. No business logic lives
// here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipelinecore/pipelinecore/agent"
	"github.com/pipelinecore/pipelinecore/audit"
	"github.com/pipelinecore/pipelinecore/billing"
	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/cost"
	"github.com/pipelinecore/pipelinecore/ports"
	"github.com/pipelinecore/pipelinecore/retryscheduler"
	"github.com/pipelinecore/pipelinecore/store/memory"
	"github.com/pipelinecore/pipelinecore/store/redisstore"
	"github.com/pipelinecore/pipelinecore/telemetry"
	"github.com/pipelinecore/pipelinecore/usecase"
)

// App bundles the four wired use cases for an embedding caller.
type App struct {
	Validate *usecase.ValidateUseCase
	RunStep  *usecase.RunStepUseCase
	Cancel   *usecase.CancelUseCase
	Replay   *usecase.ReplayUseCase

	logger       core.Logger
	telemetry    *telemetry.Provider
	redisClients []*core.RedisClient
}

// Shutdown flushes telemetry and closes any open connections.
func (a *App) Shutdown(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Error("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
	for _, rc := range a.redisClients {
		if err := rc.Close(); err != nil && a.logger != nil {
			a.logger.Error("redis shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Build wires every adapter behind the ports per cfg and returns a
// ready-to-drive App.
func Build(ctx context.Context, cfg *core.Config) (*App, error) {
	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)

	var (
		taskRepo     ports.TaskRepository
		runRepo      ports.PipelineRunRepository
		stepRepo     ports.PipelineStepRunRepository
		dlRepo       ports.DeadLetterEventRepository
		agentRepo    ports.AgentRunRepository = memory.NewAgentRunRepository()
		artifactRepo ports.ArtifactRepository = memory.NewArtifactRepository()
		redisClients []*core.RedisClient
	)

	switch cfg.Store.Backend {
	case "redis":
		stateClient, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Store.RedisURL,
			DB:        core.RedisDBPipelineState,
			Namespace: cfg.Store.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("pipelinecore: failed to connect redis: %w", err)
		}
		redisClients = append(redisClients, stateClient)

		// The dead letter queue gets its own DB (RedisDBDeadLetter) so
		// its key space is isolated from pipeline run/step state, per
		// the DB allocation this client enforces.
		deadLetterClient, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Store.RedisURL,
			DB:        core.RedisDBDeadLetter,
			Namespace: cfg.Store.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("pipelinecore: failed to connect dead-letter redis: %w", err)
		}
		redisClients = append(redisClients, deadLetterClient)

		runRepo = redisstore.NewPipelineRunRepository(stateClient)
		stepRepo = redisstore.NewPipelineStepRunRepository(stateClient)
		dlRepo = redisstore.NewDeadLetterEventRepository(deadLetterClient)
		// Task lookup has no Redis adapter: tasks are owned by an
		// upstream system this repository does not persist. A real
		// deployment would inject an HTTP/gRPC TaskRepository here;
		// the in-memory fake stands in until that adapter exists.
		taskRepo = memory.NewTaskRepository()
	default:
		runRepo = memory.NewPipelineRunRepository()
		stepRepo = memory.NewPipelineStepRunRepository()
		dlRepo = memory.NewDeadLetterEventRepository()
		taskRepo = memory.NewTaskRepository()
	}

	billingClient, err := billing.New(billing.Config{
		BaseURL:       cfg.Billing.BaseURL,
		Timeout:       cfg.Billing.Timeout,
		RetryAttempts: cfg.Billing.RetryAttempts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipelinecore: failed to build billing client: %w", err)
	}

	agentClient, err := agent.New(agent.Config{
		BaseURL:       cfg.Agent.BaseURL,
		Timeout:       cfg.Agent.Timeout,
		RetryAttempts: cfg.Agent.RetryAttempts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipelinecore: failed to build agent client: %w", err)
	}

	auditSink := audit.New(logger)
	estimator := cost.NewEstimator()
	clock := core.RealClock{}

	var tp *telemetry.Provider
	var tel core.Telemetry
	if cfg.Telemetry.Enabled {
		tp, err = telemetry.New(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Endpoint:     cfg.Telemetry.Endpoint,
			Insecure:     cfg.Telemetry.Insecure,
			SamplingRate: cfg.Telemetry.SamplingRate,
		})
		if err != nil {
			return nil, fmt.Errorf("pipelinecore: failed to build telemetry provider: %w", err)
		}
		tel = tp
	}

	maxRetries := cfg.Pipeline.MaxRetries

	runStep := &usecase.RunStepUseCase{
		Tasks:       taskRepo,
		Runs:        runRepo,
		Steps:       stepRepo,
		AgentRuns:   agentRepo,
		Artifacts:   artifactRepo,
		DeadLetters: dlRepo,
		Billing:     billingClient,
		Agent:       agentClient,
		Clock:       clock,
		Logger:      logger,
		Telemetry:   tel,
		MaxRetries:  maxRetries,
	}
	// RetryQueue is wired as a field assignment rather than in the
	// struct literal above so its onRetry callback can be extended
	// later to close over runStep without restructuring this
	// constructor.
	runStep.RetryQueue = retryscheduler.New(
		cfg.Resilience.Retry.InitialInterval,
		cfg.Resilience.Retry.MaxInterval,
		cfg.Resilience.Retry.Multiplier,
		func(ctx context.Context, stepRunID string, retryCount int) {
			logger.Info("retry fired", map[string]interface{}{"step_run_id": stepRunID, "retry_count": retryCount})
		},
		logger,
	)

	cancel := &usecase.CancelUseCase{
		Runs:      runRepo,
		Steps:     stepRepo,
		Audit:     auditSink,
		Clock:     clock,
		Logger:    logger,
		Telemetry: tel,
	}

	replay := &usecase.ReplayUseCase{
		Tasks:     taskRepo,
		Runs:      runRepo,
		Steps:     stepRepo,
		Audit:     auditSink,
		Clock:     clock,
		Logger:    logger,
		Telemetry: tel,
	}

	validate := &usecase.ValidateUseCase{
		Tasks:     taskRepo,
		Billing:   billingClient,
		Cost:      estimator,
		Logger:    logger,
		Telemetry: tel,
	}

	return &App{
		Validate:     validate,
		RunStep:      runStep,
		Cancel:       cancel,
		Replay:       replay,
		logger:       logger,
		telemetry:    tp,
		redisClients: redisClients,
	}, nil
}

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipelinecore: config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipelinecore: build error: %v\n", err)
		os.Exit(1)
	}
	defer app.Shutdown(context.Background())

	app.logger.Info("pipelinecore started", map[string]interface{}{
		"store_backend": cfg.Store.Backend,
	})

	<-ctx.Done()
	app.logger.Info("pipelinecore shutting down", nil)
}
