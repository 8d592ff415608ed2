// Package main is the entry point for the conversation orchestration engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/catalog"
	"github.com/capitalize-ai/conversation-orchestrator/internal/channel"
	"github.com/capitalize-ai/conversation-orchestrator/internal/config"
	"github.com/capitalize-ai/conversation-orchestrator/internal/dispatch"
	"github.com/capitalize-ai/conversation-orchestrator/internal/handler"
	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	natsclient "github.com/capitalize-ai/conversation-orchestrator/internal/nats"
	"github.com/capitalize-ai/conversation-orchestrator/internal/notify"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/internal/service"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/internal/tenant"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/tracing"
)

func main() {
	// Local development convenience; ignored when the file is absent.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting orchestration engine")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// DynamoDB
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Error("failed to load AWS config", zap.Error(err))
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = &cfg.DynamoEndpoint
		}
	})
	db, err := store.New(dynamoClient, cfg.DynamoTablePrefix)
	if err != nil {
		log.Error("failed to create store", zap.Error(err))
		os.Exit(1)
	}

	// NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}
	jsConsumer, err := streamManager.EnsureConsumer(ctx, natsclient.ConsumerConfig{
		AckWait:    cfg.NotifyAckWait,
		MaxDeliver: cfg.NotifyMaxDeliver,
	})
	if err != nil {
		log.Error("failed to ensure consumer", zap.Error(err))
		os.Exit(1)
	}

	// Model providers
	var openaiClient, anthropicClient llm.Client
	if cfg.OpenAIAPIKey != "" {
		if c, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey); err != nil {
			log.Warn("failed to create OpenAI client", zap.Error(err))
		} else {
			openaiClient = c
		}
	}
	if cfg.AnthropicAPIKey != "" {
		if c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey); err != nil {
			log.Warn("failed to create Anthropic client", zap.Error(err))
		} else {
			anthropicClient = c
		}
	}
	factory := llm.NewFactory(openaiClient, anthropicClient)

	// Pipeline
	resolver := tenant.NewResolver(db)
	dispatcher := dispatch.New(db, log)
	engine := orchestrator.NewEngine(factory, orchestrator.NewRegistry(), log)
	transport := channel.NewClient(cfg.ChannelBaseURL)

	catalogFor := func(tc *model.TenantConfig) catalog.Service {
		base := tc.CatalogBaseURL
		if base == "" {
			base = cfg.CatalogBaseURL
		}
		if base == "" {
			return nil
		}
		return catalog.NewClient(base, cfg.CatalogAPIKey)
	}

	inbound := service.NewInbound(db, dispatcher, engine, transport, catalogFor, log)

	// Notification consumer
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumer := notify.NewConsumer(jsConsumer, db, resolver, log)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(consumerCtx)
	}()

	// Handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	webhookHandler := handler.NewWebhookHandler(resolver, inbound, cfg.WebhookVerifyToken, cfg.WebhookAppSecret, log)
	opsHandler := handler.NewOpsHandler(db, resolver, log)

	// Router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Channel webhook; authenticated by signature, not JWT
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Receive)

	// Operator API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{participantID}", func(r chi.Router) {
			r.Get("/", opsHandler.GetConversation)
			r.Get("/messages", opsHandler.GetMessages)

			// Lifecycle changes need an explicit write scope on the token.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope("conversations:write"))
				r.Post("/transfer", opsHandler.Transfer)
				r.Post("/close", opsHandler.Close)
				r.Post("/inactive", opsHandler.MarkInactive)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	stopConsumer()
	<-consumerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
