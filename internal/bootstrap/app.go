package bootstrap

import (
	"time"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/admin"
	"agent-backend/internal/executor"
	"agent-backend/internal/files"
	"agent-backend/internal/providers"
	"agent-backend/internal/queue"
	"agent-backend/internal/scheduler"
	"agent-backend/internal/server"
	"agent-backend/internal/sessions"
	"agent-backend/internal/shared/config"
	"agent-backend/internal/shared/server/middleware"
	"agent-backend/internal/shared/telemetry"
	"agent-backend/internal/workspace"
)

// App holds the wired application.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	Store     *sessions.Store
	Sandbox   *workspace.Sandbox
	Queue     *queue.Memory
	Scheduler *scheduler.Scheduler
	Executor  executor.Executor
	Policy    providers.Policy
}

// Options allow tests to override collaborators: a scripted executor and
// a deterministic clock and id sequence.
type Options struct {
	Executor executor.Executor
	Now      func() time.Time
	NewID    func() string
}

// Build wires the store, sandbox, scheduler, and router. The scheduler is
// not started; call App.Start.
func Build(cfg config.Config, opts Options) (*App, error) {
	policy, err := providers.Load(cfg.ProviderPolicyFile)
	if err != nil {
		return nil, err
	}
	if cfg.LLMModel != "" {
		policy.DefaultModel = cfg.LLMModel
	}

	sandbox := workspace.New(cfg.WorkspaceDir)
	runQueue := queue.NewMemory(cfg.RunQueueSize)

	store := sessions.NewStore(sessions.Options{
		Now:               opts.Now,
		NewID:             opts.NewID,
		MaxRunsPerSession: cfg.SessionMaxRuns,
		Queue:             runQueue,
		Sandbox:           sandbox,
		Cost:              policy.CostFor,
	})

	exec := opts.Executor
	if exec == nil {
		if cfg.LLMAPIKey != "" {
			exec = executor.NewOpenAIExecutor(cfg.LLMBaseURL, cfg.LLMAPIKey, policy.DefaultModel, policy)
		} else {
			telemetry.Warn("bootstrap.no_llm_key", map[string]any{"fallback": "local executor"})
			exec = executor.NewLocalExecutor(policy.DefaultModel)
		}
	}

	sched := scheduler.New(store, exec, runQueue, cfg.RunWorkers)

	sessionHandler := sessions.NewHandler(store)
	fileHandler := files.NewHandler(store, sandbox, cfg.MaxUploadBytes, cfg.AllowedMimeTypes)
	adminHandler := admin.NewHandler(store, policy, cfg.ArtifactTTL, cfg.SessionTTL)

	router := server.NewRouter(server.RouterDeps{
		Config:         cfg,
		SessionHandler: sessionHandler,
		FileHandler:    fileHandler,
		AdminHandler:   adminHandler,
		RateLimiter:    middleware.NewRateLimiter(opts.Now),
	})

	return &App{
		Config:    cfg,
		Router:    router,
		Store:     store,
		Sandbox:   sandbox,
		Queue:     runQueue,
		Scheduler: sched,
		Executor:  exec,
		Policy:    policy,
	}, nil
}

// Start launches background workers.
func (a *App) Start() {
	a.Scheduler.Start()
}

// Stop drains the scheduler.
func (a *App) Stop() {
	a.Scheduler.Stop()
}
