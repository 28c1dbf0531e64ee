// -----------------------------------------------------------------------
// Last Modified: Friday, 2nd October 2026 9:41:53 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/handlers"
	"github.com/ternarybob/agentstream/internal/interfaces"
	"github.com/ternarybob/agentstream/internal/logs"
	"github.com/ternarybob/agentstream/internal/services/agents"
	"github.com/ternarybob/agentstream/internal/services/artifacts"
	"github.com/ternarybob/agentstream/internal/services/automation"
	"github.com/ternarybob/agentstream/internal/services/classifier"
	"github.com/ternarybob/agentstream/internal/services/events"
	"github.com/ternarybob/agentstream/internal/services/llm"
	"github.com/ternarybob/agentstream/internal/services/retention"
	"github.com/ternarybob/agentstream/internal/services/testcases"
	"github.com/ternarybob/agentstream/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc
	done      chan struct{} // Closed when the broadcaster returns

	// Event plumbing
	Bus         *events.Bus
	Registry    *events.Registry
	Broadcaster *events.Broadcaster
	LogConsumer *logs.Consumer

	// Storage
	DB         *badger.BadgerDB
	RunStorage interfaces.RunStorage

	// Services
	LLMService   interfaces.LLMService // nil when no provider key is configured
	Artifacts    *artifacts.Store
	Engine       *automation.Engine
	AgentManager *agents.Manager
	Details      *testcases.Generator
	Retention    *retention.Scheduler

	// HTTP handlers
	APIHandler   *handlers.APIHandler
	AgentHandler *handlers.AgentHandler
	WSHandler    *handlers.WebSocketHandler
	SSEHandler   *handlers.SSEHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
		done:      make(chan struct{}),
	}

	app.initEvents()

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Debug().
		Str("artifacts_dir", cfg.Agent.ArtifactsDir).
		Str("llm_provider", string(cfg.LLM.DefaultProvider)).
		Bool("llm_available", app.LLMService != nil).
		Msg("Application initialized")

	return app, nil
}

// initEvents starts the bus, the broadcaster and the log consumer
func (a *App) initEvents() {
	a.Bus = events.NewBus(a.Config.Events.QueueSize)
	a.Registry = events.NewRegistry()
	a.Broadcaster = events.NewBroadcaster(a.Bus, a.Registry, a.Config.Events.SendConcurrency, a.Logger)

	common.SafeGo(a.Logger, "broadcaster", func() {
		defer close(a.done)
		if err := a.Broadcaster.Run(a.ctx); err != nil {
			a.Logger.Error().Err(err).Msg("Broadcaster stopped with error")
		}
	})

	// Session-correlated log entries are republished on their session feed
	a.LogConsumer = logs.NewConsumer(a.Bus, a.Logger, a.Config.Logging.MinEventLevel)
	a.Logger.SetChannel("context", a.LogConsumer.GetChannel())
	a.LogConsumer.Start()
}

func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}

	a.DB = db
	a.RunStorage = badger.NewRunStorage(db, a.Logger)

	a.Logger.Info().Str("path", a.Config.Storage.Badger.Path).Msg("Run storage initialized")
	return nil
}

func (a *App) initServices() error {
	// LLM is required by the planner; a missing key leaves the server up for observers and history
	llmService, err := llm.NewLLMService(a.ctx, a.Config, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("LLM service unavailable - agents cannot be started")
	} else {
		a.LLMService = llmService
	}

	a.Artifacts = artifacts.NewStore(a.Config.Agent.ArtifactsDir, a.Logger)

	var planner interfaces.LLMService = a.LLMService
	if planner == nil {
		planner = llm.Unavailable(err)
	}
	a.Engine = automation.NewEngine(automation.NewConfig(a.Config.Agent), planner, nil, a.Logger)

	a.AgentManager = agents.NewManager(agents.ManagerOptions{
		Engine:      a.Engine,
		Ports:       agents.FreePortAllocator{},
		Publisher:   a.Bus,
		Registry:    a.Registry,
		Storage:     a.RunStorage,
		Artifacts:   a.Artifacts,
		SessionLogs: a.LogConsumer,
		Logger:      a.Logger,
		Config: agents.ManagerConfig{
			MaxSteps:      a.Config.Agent.MaxSteps,
			Headless:      a.Config.Agent.Headless,
			ProfileDir:    a.Config.Agent.ProfileDir,
			AnswerTimeout: common.ParseDuration(a.Config.Agent.AnswerTimeout, 10*time.Minute),
			Stream: classifier.StreamConfig{
				DrainInterval: common.ParseDuration(a.Config.Classifier.DrainInterval, classifier.DefaultDrainInterval),
				Burst:         a.Config.Classifier.Burst,
			},
		},
	})

	if a.LLMService != nil {
		a.Details = testcases.NewGenerator(a.LLMService, a.Artifacts, a.Logger)
	}

	if a.Config.Retention.Enabled {
		a.Retention = retention.NewScheduler(a.RunStorage, a.Config.Retention, a.Logger)
		if err := a.Retention.Start(a.Config.Retention.Schedule); err != nil {
			return fmt.Errorf("failed to start retention scheduler: %w", err)
		}
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Registry, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Registry, a.Logger, &a.Config.WebSocket)
	a.SSEHandler = handlers.NewSSEHandler(a.Registry, a.AgentManager, a.Logger, &a.Config.WebSocket)

	// A nil *Generator must not become a non-nil interface
	var details handlers.DetailsGenerator
	if a.Details != nil {
		details = a.Details
	}
	a.AgentHandler = handlers.NewAgentHandler(a.AgentManager, details, a.Logger)
}

// Close stops agents, background services and storage in dependency order
func (a *App) Close() error {
	if a.AgentManager != nil {
		grace := common.ParseDuration(a.Config.Agent.ShutdownGrace, 10*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if err := a.AgentManager.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Agents did not stop within the shutdown grace period")
		}
		cancel()
	}

	if a.Retention != nil {
		a.Retention.Stop()
	}

	// Let the broadcaster drain terminal events before the bus goes away
	if a.Bus != nil {
		a.Bus.Close()
		select {
		case <-a.done:
		case <-time.After(2 * time.Second):
			a.Logger.Warn().Msg("Broadcaster did not drain in time")
		}
	}
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.RunStorage != nil {
		if err := a.RunStorage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close run storage")
			return err
		}
		a.Logger.Info().Msg("Run storage closed")
	}

	return nil
}
