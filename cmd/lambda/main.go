package main

import (
	"context"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/time/rate"

	"site-assistant/handler"
	"site-assistant/internal/integrations/paramstore"
	"site-assistant/internal/repository"
	"site-assistant/internal/sequencer"
	"site-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	stateTable := os.Getenv("STATE_TABLE")
	paramPrefix := os.Getenv("PARAM_PREFIX")
	svcCfg := usecase.Config{
		Timings:       sequencer.DefaultTimings().Scaled(envScale("TIMING_SCALE", 1)),
		SessionTTL:    envDuration("SESSION_TTL", 24*time.Hour),
		MaxMessageLen: envInt("MAX_MESSAGE_LENGTH", 2000),
		SubmitRate:    rate.Limit(envFloat("SUBMIT_RATE_PER_SEC", 2)),
		SubmitBurst:   envInt("SUBMIT_BURST", 5),
		ParamPrefix:   paramPrefix,
	}

	// ---- Clients ----
	var store usecase.SessionStore = repository.NewMemoryStore()
	var params usecase.ParamGetter
	if stateTable != "" || paramPrefix != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		if stateTable != "" {
			stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
			if err != nil {
				slog.Error("failed to create state client", "err", err)
				os.Exit(1)
			}
			store = stateClient
		}
		if paramPrefix != "" {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
			if err != nil {
				slog.Error("failed to create SSM client", "err", err)
				os.Exit(1)
			}
			params = ssmClient
		}
	}
	slog.Info("starting", "dynamodb", stateTable != "", "ssm", paramPrefix != "", "session_ttl", svcCfg.SessionTTL.String())

	// ---- Handler ----
	chatService, err := usecase.NewChatService(store, params, svcCfg)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number, using default", "key", key, "value", v)
		return def
	}
	return f
}

// envScale reads a positive, finite multiplier.
func envScale(key string, def float64) float64 {
	f := envFloat(key, def)
	if !(f > 0) || math.IsInf(f, 0) {
		slog.Warn("scale must be positive and finite, using default", "key", key, "value", os.Getenv(key))
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return def
	}
	return d
}
