package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundscape/internal/ai"
	"soundscape/internal/api"
	"soundscape/internal/config"
	"soundscape/internal/hub"
	"soundscape/internal/memory"
	"soundscape/internal/session"
	"soundscape/internal/websocket"
)

// Application wires and runs all components. Initialization follows
// dependency order: store, AI client, registry, hub, coordinator, API,
// HTTP. Shutdown reverses it.
type Application struct {
	config      *config.Config
	logger      *logrus.Logger
	store       *memory.Store
	registry    *websocket.Registry
	messageHub  *hub.Hub
	coordinator *session.Coordinator
	httpServer  *http.Server

	sweeperCancel context.CancelFunc
}

func NewApplication(cfg *config.Config, logger *logrus.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := memory.NewStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	aiClient := ai.NewClient(cfg.AI, logger)
	registry := websocket.NewRegistry()
	messageHub := hub.NewHub(registry, logger)

	// The coordinator broadcasts through the hub and the hub dispatches
	// session events to the coordinator, so the hub link is set after both
	// exist.
	coordinator := session.NewCoordinator(aiClient, messageHub, cfg.Session.IdleTTL, logger)
	messageHub.SetCoordinator(coordinator)

	apiServer := api.NewServer(coordinator, store, registry, logger)
	wsHandler := websocket.NewHandler(messageHub, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	apiServer.MountRoutes(engine)
	engine.GET("/ws", gin.WrapF(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      logger,
		store:       store,
		registry:    registry,
		messageHub:  messageHub,
		coordinator: coordinator,
		httpServer:  httpServer,
	}, nil
}

// Start brings up background processing, the idle-session sweeper, and the
// HTTP listener. It returns once the listener is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	app.logger.WithField("addr", app.httpServer.Addr).Info("starting soundscape")

	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	sweeperCtx, cancel := context.WithCancel(context.Background())
	app.sweeperCancel = cancel
	app.coordinator.StartSweeper(sweeperCtx, app.config.Session.SweepInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.shutdownBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("soundscape started")
		return nil
	case <-ctx.Done():
		app.shutdownBackground()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP listener, hub,
// sweeper, store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down soundscape")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.WithError(err).Warn("http server shutdown error")
	}

	app.shutdownBackground()

	if err := app.store.Close(); err != nil {
		app.logger.WithError(err).Warn("memory store shutdown error")
	}

	app.logger.Info("soundscape shutdown complete")
	return nil
}

func (app *Application) shutdownBackground() {
	if err := app.messageHub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		app.logger.WithError(err).Warn("hub shutdown error")
	}
	if app.sweeperCancel != nil {
		app.sweeperCancel()
	}
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
