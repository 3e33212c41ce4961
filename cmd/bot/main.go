package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/dispatch"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/integrations/gateway"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/integrations/openai"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/integrations/paramstore"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/repository"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/usecase"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, relying on the environment")
	}

	// ---- Configuration (read only here) ----
	sessionsTable := mustEnv("SESSIONS_TABLE")
	inventoryTable := mustEnv("INVENTORY_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	gatewayURL := mustEnv("GATEWAY_URL")
	queueSize := envInt("SENDER_QUEUE_SIZE", 32)

	logger, err := zap.NewProduction()
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Fatal("failed to create SSM client", zap.Error(err))
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	sessions, err := repository.NewSessionStore(dynamoClient, sessionsTable)
	if err != nil {
		logger.Fatal("failed to create session store", zap.Error(err))
	}
	inventory, err := repository.NewInventoryStore(dynamoClient, inventoryTable)
	if err != nil {
		logger.Fatal("failed to create inventory store", zap.Error(err))
	}
	nluClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		logger.Fatal("failed to create OpenAI client", zap.Error(err))
	}
	channel, err := gateway.New(gatewayURL, logger.Named("gateway"))
	if err != nil {
		logger.Fatal("failed to create gateway client", zap.Error(err))
	}

	// ---- Dialogue controller ----
	converse, err := usecase.NewConverseService(ssmClient, nluClient, sessions, inventory, channel, logger.Named("converse"), paramPrefix)
	if err != nil {
		logger.Fatal("failed to create converse service", zap.Error(err))
	}

	dispatcher, err := dispatch.New(func(ctx context.Context, msg domain.InboundMessage) {
		converse.HandleMessage(ctx, msg)
	}, queueSize, logger.Named("dispatch"))
	if err != nil {
		logger.Fatal("failed to create dispatcher", zap.Error(err))
	}

	// ---- Run ----
	if err := channel.Connect(ctx); err != nil {
		logger.Fatal("failed to connect to gateway", zap.Error(err))
	}

	subErr := make(chan error, 1)
	go func() {
		subErr <- channel.Subscribe(ctx, dispatcher.Submit)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-subErr:
		if err != nil {
			logger.Error("gateway subscription ended", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := channel.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", zap.Error(err))
	}
	dispatcher.Stop()
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
