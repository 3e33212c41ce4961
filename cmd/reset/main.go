package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/Bahanack-GY/NimmoAutoChatbot/handler"
	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/repository"
)

func main() {
	ctx := context.Background()

	sessionsTable := os.Getenv("SESSIONS_TABLE")
	if sessionsTable == "" {
		slog.Error("required environment variable is not set", "key", "SESSIONS_TABLE")
		os.Exit(1)
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	sessions, err := repository.NewSessionStore(awsdynamodb.NewFromConfig(cfg), sessionsTable)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewResetHandler(sessions)
	if err != nil {
		slog.Error("failed to create reset handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
