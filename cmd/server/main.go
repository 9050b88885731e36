package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/adapters/gemini"
	"github.com/drobiss/ChatOnWrist-sub000/adapters/mockprovider"
	"github.com/drobiss/ChatOnWrist-sub000/adapters/openai"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
	"github.com/drobiss/ChatOnWrist-sub000/internal/api"
	"github.com/drobiss/ChatOnWrist-sub000/internal/auth"
	"github.com/drobiss/ChatOnWrist-sub000/internal/config"
	"github.com/drobiss/ChatOnWrist-sub000/internal/relay"
	"github.com/drobiss/ChatOnWrist-sub000/internal/stream"
	"github.com/drobiss/ChatOnWrist-sub000/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load(logger)

	// Select the upstream realtime provider
	provider := buildProvider(cfg, logger)

	sessionCfg := repositories.SessionConfig{
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		SampleRate:        cfg.SampleRate,
		MaxResponseTokens: cfg.MaxResponseTokens,
	}
	registry := relay.NewRegistry(provider, sessionCfg, relay.Options{
		HistoryMax:      cfg.HistoryMax,
		PendingQueueMax: cfg.PendingQueueMax,
		CloseGrace:      cfg.CloseGrace,
	}, logger)

	authenticator := auth.NewAuthenticator([]byte(cfg.JWTSecret))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Transports over the shared relay core
	hub := websocket.NewHub(registry, logger)
	go hub.Run()
	streamHandler := stream.NewHandler(registry, logger)

	api.InitRoutes(e, hub, streamHandler, authenticator, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay server started",
		zap.String("port", cfg.Port),
		zap.String("provider", cfg.Provider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End live sessions before closing the listener so upstream
	// connections are not leaked.
	registry.Drain(ctx)

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildProvider picks the upstream adapter from configuration.
func buildProvider(cfg config.Config, logger *zap.Logger) repositories.RealtimeProvider {
	switch cfg.Provider {
	case "gemini":
		provider, err := gemini.NewProvider(context.Background(), cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("failed to initialize Gemini provider", zap.Error(err))
		}
		return provider

	case "mock":
		logger.Warn("Using mock upstream provider")
		return mockprovider.NewProvider(logger)

	default:
		provider, err := openai.NewProvider(openai.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}, logger)
		if err != nil {
			logger.Fatal("failed to initialize OpenAI provider", zap.Error(err))
		}
		return provider
	}
}
