// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/config"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/handler"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/intent"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/llm"
	natsclient "github.com/capitalize-ai/lifeos-orchestrator/internal/nats"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/node"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/service"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/store"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lifeos-orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("env", cfg.Env))

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "lifeos-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the conversation store
	st, err := store.Open(store.Driver(cfg.StoreDriver), cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	log.Info("store opened", zap.String("driver", cfg.StoreDriver))

	var opts []orchestrator.Option
	opts = append(opts, orchestrator.WithProfileSource(store.NewProfileSource(st, cfg.ProfileWindow)))

	// Connect the event feed
	var feed handler.ConnChecker
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		publisher := natsclient.NewEventPublisher(natsClient.JetStream(), log)
		if err := publisher.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		opts = append(opts, orchestrator.WithEventSink(publisher))
		feed = natsClient
	} else {
		log.Info("NATS_URL not set, turn events disabled")
	}

	// Initialize the generation backend
	provider := llm.Provider(cfg.LLMProvider)
	if provider != llm.ProviderNone && cfg.APIKey() == "" {
		log.Warn("no API key for LLM provider, running on rule-based fallbacks", zap.String("provider", cfg.LLMProvider))
		provider = llm.ProviderNone
	}
	client, err := llm.NewClient(provider, llm.ClientConfig{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
	})
	if err != nil {
		log.Warn("failed to create LLM client, running on rule-based fallbacks", zap.Error(err))
		client = nil
	}
	gateway := llm.NewGateway(client, llm.GatewayConfig{
		Model:       cfg.LLMModel,
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
		RetryBase:   cfg.LLMRetryBase,
		RateLimit:   cfg.LLMRateLimit,
		RateBurst:   cfg.LLMRateBurst,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	}, log)
	log.Info("generation backend ready", zap.String("provider", gateway.Provider()), zap.Bool("available", gateway.Available()))

	// Initialize the turn pipeline
	orch := orchestrator.New(st,
		intent.NewClassifier(gateway, cfg.ClassifierHistory, log),
		node.NewSet(gateway),
		node.NewPersonalizer(gateway),
		orchestrator.Config{HistoryTurns: cfg.HistoryTurns},
		log,
		opts...,
	)

	// Initialize services and handlers
	sessionSvc := service.NewSessionService(st, orch, log)
	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.NewHealthHandler(st, feed), handler.NewSessionHandler(sessionSvc, log), log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
