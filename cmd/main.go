package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"wellbeing-agent/handler"
	"wellbeing-agent/internal/app"
	"wellbeing-agent/internal/config"
	"wellbeing-agent/internal/integrations/paramstore"
	"wellbeing-agent/internal/normalize"
	"wellbeing-agent/internal/repository"
	"wellbeing-agent/internal/speech"
	"wellbeing-agent/internal/usecase"
)

// paramCacheTTL bounds how long SSM values are reused by a warm container.
const paramCacheTTL = 15 * time.Minute

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fail("invalid environment", err)
	}
	if err := cfg.Validate(); err != nil {
		fail("invalid configuration", err)
	}
	if err := cfg.RequireLambda(); err != nil {
		fail("missing configuration", err)
	}
	logger := app.NewLogger(os.Stdout, cfg.Level(), true)
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fail("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fail("failed to create SSM client", err)
	}
	params, err := paramstore.NewCache(ssmClient, paramCacheTTL)
	if err != nil {
		fail("failed to create parameter cache", err)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fail("failed to create state client", err)
	}

	// ---- Engine ----
	engine, err := app.NewEngine(ctx, cfg, params, logger)
	if err != nil {
		fail("failed to build response engine", err)
	}
	// Pin at cold start; a failure here is retried lazily on the first turn.
	if model, err := engine.Selector.Pin(ctx); err != nil {
		logger.Warn("model pin at startup failed", "err", err)
	} else {
		logger.Info("model pinned", "model", model)
	}

	chatService, err := usecase.NewChatService(engine.Orchestrator, stateClient, cfg.HistoryLimit, cfg.MaxMessageLength, logger)
	if err != nil {
		fail("failed to create chat service", err)
	}
	speaker, err := speech.NewSpeaker(speech.PlaceholderSynthesizer{}, normalize.New(normalize.DefaultAbbreviations), speech.DefaultSynthesisTimeout)
	if err != nil {
		fail("failed to create speaker", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, speaker, speech.PlaceholderTranscriber{}, logger)
	if err != nil {
		fail("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fail(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
