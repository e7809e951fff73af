// Package app is the host-level composition root. It owns startup ordering,
// holds the process-lifetime services, and hands request-scoped resources to
// the HTTP and WebSocket layers. Every getter fails loudly: a missing
// critical service after startup is a configuration fault, never a silent
// nil.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/netra-ai/netra/pkg/agent"
	"github.com/netra-ai/netra/pkg/auth"
	"github.com/netra-ai/netra/pkg/config"
	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/execution"
	"github.com/netra-ai/netra/pkg/faults"
	"github.com/netra-ai/netra/pkg/llm"
	"github.com/netra-ai/netra/pkg/services"
	"github.com/netra-ai/netra/pkg/ws"
)

// Route labels for provider-mode resolution.
const (
	RouteWebSocket = "websocket"
	RouteThreads   = "threads"
)

// Components are the externally constructed dependencies the app hosts: the
// things that open sockets or hold credentials. Everything else is built
// internally during Startup.
type Components struct {
	DB        *database.Client
	LLM       llm.Manager
	Validator auth.CredentialValidator
	Tools     *agent.Dispatcher
}

// App hosts the backend. One instance per process.
type App struct {
	cfg *config.Config

	startupInProgress atomic.Bool
	startupComplete   atomic.Bool

	db          *database.Client
	sessions    *database.SessionFactory
	contexts    *execution.Manager
	threads     *services.ThreadService
	llm         llm.Manager
	tools       *agent.Dispatcher
	supervisors *agent.SupervisorFactory
	connections *ws.ConnectionManager
	handler     *ws.AgentMessageHandler

	engineSingleton *SingletonProvider[*agent.SupervisorFactory]
	bridgeSingleton *SingletonProvider[ws.Notifier]
}

// New creates an unstarted app.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Startup wires the process-lifetime services in dependency order. Getters
// called while this runs report a retryable startup-in-progress condition;
// once it returns, every critical service is either present or the process
// should not be serving.
func (a *App) Startup(ctx context.Context, comps Components) error {
	a.startupInProgress.Store(true)
	defer a.startupInProgress.Store(false)

	if comps.DB == nil {
		return faults.New(faults.KindConfiguration, faults.CodeServiceMissing,
			"database client is required for startup")
	}
	if comps.LLM == nil {
		return faults.New(faults.KindConfiguration, faults.CodeServiceMissing,
			"LLM manager is required for startup")
	}
	if comps.Tools == nil {
		return faults.New(faults.KindConfiguration, faults.CodeServiceMissing,
			"tool dispatcher is required for startup")
	}

	a.db = comps.DB
	a.llm = comps.LLM
	a.tools = comps.Tools
	a.sessions = database.NewSessionFactory(comps.DB, comps.Validator)

	a.contexts = execution.NewManager(a.cfg.Session.ContextTTL.Std())
	if interval := a.cfg.Session.SweepInterval.Std(); interval > 0 {
		a.contexts.StartSweeper(ctx, interval)
	}

	a.threads = services.NewThreadService()
	supervisors, err := agent.NewSupervisorFactory(a.llm, a.threads, a.tools, "")
	if err != nil {
		return faults.Wrap(err, faults.KindConfiguration, faults.CodeServiceMissing,
			"failed to build supervisor factory")
	}
	a.supervisors = supervisors
	a.connections = ws.NewConnectionManager(a.cfg.WebSocket.WriteTimeout.Std())

	// The handler goes back through the providers on every message, so the
	// configured execution-engine and bridge modes are what actually serve.
	a.handler = ws.NewAgentMessageHandler(a.contexts, a.sessions, a.resolveEngine, a.resolveBridge)

	a.engineSingleton = NewSingletonProvider(func(*execution.UserExecutionContext) (*agent.SupervisorFactory, error) {
		return a.supervisors, nil
	})
	a.bridgeSingleton = NewSingletonProvider(func(*execution.UserExecutionContext) (ws.Notifier, error) {
		return a.connections, nil
	})

	a.startupComplete.Store(true)
	slog.Info("Application startup complete",
		"execution_engine_mode", a.cfg.Features.ExecutionEngine,
		"websocket_bridge_mode", a.cfg.Features.WebSocketBridge)
	return nil
}

// ready gates every getter on startup state. During startup the condition is
// transient and callers should retry; before or after a failed startup it is
// the same retryable signal, because a supervisor restart is the fix either
// way.
func (a *App) ready() error {
	if a.startupComplete.Load() {
		return nil
	}
	return faults.New(faults.KindTransient, faults.CodeStartupInProgress,
		"application startup has not completed").
		WithHint("retry shortly")
}

// critical wraps the nil check every critical-service getter performs.
func critical[T comparable](a *App, name string, v T) (T, error) {
	var zero T
	if err := a.ready(); err != nil {
		return zero, err
	}
	if v == zero {
		return zero, faults.Newf(faults.KindConfiguration, faults.CodeServiceMissing,
			"critical service %s is missing after startup", name)
	}
	return v, nil
}

// SessionFactory returns the request-scoped session factory.
func (a *App) SessionFactory() (*database.SessionFactory, error) {
	return critical(a, "session_factory", a.sessions)
}

// ContextManager returns the execution-context manager.
func (a *App) ContextManager() (*execution.Manager, error) {
	return critical(a, "context_manager", a.contexts)
}

// ThreadService returns the thread persistence service.
func (a *App) ThreadService() (*services.ThreadService, error) {
	return critical(a, "thread_service", a.threads)
}

// Connections returns the WebSocket connection manager.
func (a *App) Connections() (*ws.ConnectionManager, error) {
	return critical(a, "connection_manager", a.connections)
}

// MessageHandler returns the WebSocket agent message handler.
func (a *App) MessageHandler() (*ws.AgentMessageHandler, error) {
	return critical(a, "message_handler", a.handler)
}

// DB returns the database client.
func (a *App) DB() (*database.Client, error) {
	return critical(a, "database", a.db)
}

// Config returns the resolved runtime configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// ExecutionEngineProvider resolves the supervisor-factory provider for a
// route, honoring per-route mode overrides.
func (a *App) ExecutionEngineProvider(route string) (ResourceProvider[*agent.SupervisorFactory], error) {
	if _, err := critical(a, "execution_engine", a.supervisors); err != nil {
		return nil, err
	}
	mode := a.cfg.Features.ModeForRoute(route, a.cfg.Features.ExecutionEngine)
	if mode == config.ProviderModeFactory {
		return NewFactoryProvider(func(*execution.UserExecutionContext) (*agent.SupervisorFactory, error) {
			// Per-request factory: nothing in it can carry state between
			// users.
			return agent.NewSupervisorFactory(a.llm, a.threads, a.tools, "")
		}), nil
	}
	return a.engineSingleton, nil
}

// WebSocketBridgeProvider resolves the notifier provider for a route.
func (a *App) WebSocketBridgeProvider(route string) (ResourceProvider[ws.Notifier], error) {
	if _, err := critical(a, "websocket_bridge", a.connections); err != nil {
		return nil, err
	}
	mode := a.cfg.Features.ModeForRoute(route, a.cfg.Features.WebSocketBridge)
	if mode == config.ProviderModeFactory {
		return NewFactoryProvider(func(*execution.UserExecutionContext) (ws.Notifier, error) {
			// Delivery still goes through the shared connection registry;
			// factory mode only guarantees a fresh handle per request.
			return a.connections, nil
		}), nil
	}
	return a.bridgeSingleton, nil
}

// resolveEngine is the EngineResolver handed to the WebSocket handler. It
// consults the provider on every call so the configured mode, including
// per-route overrides, decides what serves each message.
func (a *App) resolveEngine(execCtx *execution.UserExecutionContext) (*agent.SupervisorFactory, error) {
	provider, err := a.ExecutionEngineProvider(RouteWebSocket)
	if err != nil {
		return nil, err
	}
	return provider.Get(execCtx)
}

// resolveBridge is the BridgeResolver handed to the WebSocket handler.
func (a *App) resolveBridge(execCtx *execution.UserExecutionContext) (ws.Notifier, error) {
	provider, err := a.WebSocketBridgeProvider(RouteWebSocket)
	if err != nil {
		return nil, err
	}
	return provider.Get(execCtx)
}

// RequestScopedDBSession opens a session bound to (user, request). The caller
// owns it and must Close it before the request ends.
func (a *App) RequestScopedDBSession(ctx context.Context, userID, requestID string) (*database.RequestScopedSession, error) {
	factory, err := a.SessionFactory()
	if err != nil {
		return nil, err
	}
	return factory.Acquire(ctx, userID, requestID)
}

// UserScopedDBSession opens a session bound to (user, request) and then
// re-checks isolation for that specific user before handing it out. Defense
// in depth: the factory already tags the session, but a caller about to share
// the handle gets a second chance to catch a cross-user mixup.
func (a *App) UserScopedDBSession(ctx context.Context, userID, requestID, threadID string) (*database.RequestScopedSession, error) {
	factory, err := a.SessionFactory()
	if err != nil {
		return nil, err
	}
	session, err := factory.GetIsolatedSession(ctx, userID, requestID, threadID)
	if err != nil {
		return nil, err
	}
	if err := session.ValidateRequestScoped(userID); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			slog.Warn("Session close after failed isolation check failed",
				"request_id", requestID, "error", closeErr)
		}
		return nil, err
	}
	return session, nil
}

// RequestScopedUserContext resolves an execution context with continuity. An
// unavailable context manager is reported as such rather than as a generic
// nil dereference.
func (a *App) RequestScopedUserContext(userID, threadID, runID string) (*execution.UserExecutionContext, error) {
	manager, err := a.ContextManager()
	if err != nil {
		return nil, err
	}
	execCtx, err := manager.GetUserExecutionContext(userID, threadID, runID)
	if err != nil {
		return nil, faults.Wrap(err, faults.KindConfiguration, faults.CodeContextUnavailable,
			fmt.Sprintf("failed to resolve execution context for user %s", userID))
	}
	return execCtx, nil
}

// RequestScopedSupervisor builds a supervisor and its session for one
// execution context. The returned session is owned by the caller: Close it
// on every exit path. A session that fails the isolation check is refused
// and released before returning.
func (a *App) RequestScopedSupervisor(ctx context.Context, execCtx *execution.UserExecutionContext) (*agent.Supervisor, *database.RequestScopedSession, error) {
	if _, err := critical(a, "execution_engine", a.supervisors); err != nil {
		return nil, nil, err
	}
	factory, err := a.SessionFactory()
	if err != nil {
		return nil, nil, err
	}

	session, err := factory.GetIsolatedSession(ctx, execCtx.UserID, execCtx.RequestID, execCtx.ThreadID)
	if err != nil {
		return nil, nil, err
	}

	supervisor, err := a.supervisors.NewSupervisor(execCtx, session)
	if err != nil {
		if closeErr := session.Close(); closeErr != nil {
			slog.Warn("Session close after refused supervisor failed",
				"request_id", execCtx.RequestID, "error", closeErr)
		}
		return nil, nil, err
	}
	return supervisor, session, nil
}

// Shutdown releases process-lifetime resources.
func (a *App) Shutdown() error {
	a.startupComplete.Store(false)
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
