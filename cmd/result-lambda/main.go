// Package main provides the Lambda entry point for the result stage.
//
// Triggered by S3 ObjectCreated events on the provider output bucket. Each
// JSON artifact is either a transcript (copied to the results container,
// audio marked processed) or a job report (failed entries get a diagnostic,
// audio marked failed). Anything else is left in place and logged.
//
// Memory: 256 MB
// Timeout: 2 minutes
package main

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/ingest"
	"github.com/fpang/speech-ingestion/internal/lambdaboot"
	"github.com/fpang/speech-ingestion/internal/logging"
	"github.com/fpang/speech-ingestion/internal/metrics"
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
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatal().Err(err).Msg("Invalid storage configuration")
	}

	backends = ingest.Backends{Objects: lambdaboot.InitStore(awsClients.Config, cfg)}
	if records := lambdaboot.InitDynamoOptional(awsClients.Config, cfg.Records.JobsTable); records != nil {
		backends.Dispositions = records
	}
	if pub := lambdaboot.InitEventsOptional(awsClients.Config, cfg.Records.EventBus); pub != nil {
		backends.Events = pub
	}

	lambdaboot.StartupLog("result-lambda", initStart).
		S3Bucket("providerOutput", cfg.Storage.ProviderOutput).
		S3Bucket("audioInput", cfg.Storage.AudioInput).
		S3Bucket("audioProcessed", cfg.Storage.AudioProcessed).
		S3Bucket("audioFailed", cfg.Storage.AudioFailed).
		S3Bucket("jsonResults", cfg.Storage.JSONResults).
		S3Bucket("errorReports", cfg.Storage.ErrorReports).
		DynamoTable("dispositions", cfg.Records.JobsTable).
		EventBus("completions", cfg.Records.EventBus).
		Feature("deleteProcessedAudio", cfg.Storage.DeleteProcessedAudio).
		Feature("deleteArtifacts", cfg.Storage.DeleteArtifacts).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, s3Event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "result-lambda").Msg("Cold start, first invocation")
	}
	start := time.Now()

	r := ingest.NewReconciler(cfg, backends)
	for _, record := range s3Event.Records {
		bucket := record.S3.Bucket.Name
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Error().Err(err).Str("key", record.S3.Object.Key).Msg("Undecodable object key")
			continue
		}
		if !strings.HasSuffix(strings.ToLower(key), ".json") {
			log.Debug().Str("key", key).Msg("Skipping non-JSON artifact")
			continue
		}
		if err := r.Reconcile(ctx, bucket, key); err != nil {
			log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to reconcile artifact")
			// Keep going; one bad artifact must not block the rest of the batch.
		}
	}

	stats := r.Stats()
	metrics.New().
		Dimension("Stage", "result").
		Count(metrics.TranscriptsReconciled, stats.Transcripts).
		Count(metrics.ReportFailures, stats.ReportFailures).
		Since(metrics.InvocationMs, start).
		Flush()
	return nil
}
