// Package main provides the Lambda entry point for the submission stage.
//
// Invoked by an EventBridge schedule (every minute). Each invocation claims
// up to MessagesPerFunctionExecution notifications, chunks them into jobs of
// FilesPerTranscriptionJob files, routes each job to a speech endpoint and
// submits it. Rejected files are re-queued with backoff or failed.
//
// Endpoint keys are loaded from SSM Parameter Store at cold start when they
// are not set in the environment.
//
// Memory: 256 MB
// Timeout: 10 minutes
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/ingest"
	"github.com/fpang/speech-ingestion/internal/lambdaboot"
	"github.com/fpang/speech-ingestion/internal/logging"
	"github.com/fpang/speech-ingestion/internal/metrics"
	"github.com/fpang/speech-ingestion/internal/speech"
)

var coldStart = true

var (
	cfg      *config.Config
	backends ingest.Backends
)

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	cfg = lambdaboot.LoadConfig()
	if err := lambdaboot.LoadEndpointKeys(context.Background(), awsClients.SSM, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load endpoint keys")
	}

	backends = ingest.Backends{
		Queue:    lambdaboot.InitQueue(awsClients.Config, cfg.Queue.URL),
		Objects:  lambdaboot.InitStore(awsClients.Config, cfg),
		Provider: speech.NewClient(),
	}
	if jobs := lambdaboot.InitDynamoOptional(awsClients.Config, cfg.Records.JobsTable); jobs != nil {
		backends.Jobs = jobs
		backends.Dispositions = jobs
	}
	if pub := lambdaboot.InitEventsOptional(awsClients.Config, cfg.Records.EventBus); pub != nil {
		backends.Events = pub
	}

	startup := lambdaboot.StartupLog("submit-lambda", initStart).
		Queue("notifications", cfg.Queue.URL).
		S3Bucket("audioInput", cfg.Storage.AudioInput).
		S3Bucket("errorFiles", cfg.Storage.ErrorFiles).
		S3Bucket("errorReports", cfg.Storage.ErrorReports).
		DynamoTable("jobs", cfg.Records.JobsTable).
		EventBus("completions", cfg.Records.EventBus).
		Config("routing", cfg.RoutingPolicy())
	for _, ep := range cfg.Endpoints {
		startup.SSMParam("key."+ep.Name, ep.KeyParam)
	}
	startup.Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, _ events.CloudWatchEvent) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "submit-lambda").Msg("Cold start, first invocation")
	}

	b := backends
	b.Metrics = metrics.New().Dimension("Stage", "submit")
	orch, err := ingest.FromConfig(cfg, b, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to assemble pipeline")
		return err
	}

	// A returned error means the queue was unreachable; the next scheduled
	// invocation tries again.
	_, err = orch.Run(ctx)
	return err
}
