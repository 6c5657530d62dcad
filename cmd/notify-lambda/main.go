// Package main provides the Lambda entry point that turns new audio objects
// into queued notifications.
//
// Triggered by S3 ObjectCreated events on the audio input bucket. Each
// record becomes one envelope ({"eventType","data":{"url"},"retryCount":0})
// on the notification queue, which submit-lambda drains on a schedule.
//
// Memory: 128 MB
// Timeout: 30 seconds
package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/lambdaboot"
	"github.com/fpang/speech-ingestion/internal/logging"
	"github.com/fpang/speech-ingestion/internal/queue"
	"github.com/fpang/speech-ingestion/internal/s3util"
)

var coldStart = true

var (
	notifications *queue.SQSQueue
	inputBucket   string
)

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	cfg := lambdaboot.LoadConfig()
	if cfg.Storage.AudioInput == "" {
		log.Fatal().Str("envVar", config.EnvAudioInput).Msg("Audio input container is required")
	}
	inputBucket = cfg.Storage.AudioInput
	notifications = lambdaboot.InitQueue(awsClients.Config, cfg.Queue.URL)

	lambdaboot.StartupLog("notify-lambda", initStart).
		S3Bucket("audioInput", inputBucket).
		Queue("notifications", cfg.Queue.URL).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, s3Event events.S3Event) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "notify-lambda").Msg("Cold start, first invocation")
	}

	var failed int
	for _, record := range s3Event.Records {
		if err := enqueueObject(ctx, record.S3.Bucket.Name, record.S3.Object.Key); err != nil {
			log.Error().Err(err).Str("bucket", record.S3.Bucket.Name).Str("key", record.S3.Object.Key).
				Msg("Failed to enqueue notification")
			failed++
		}
	}
	// An error makes S3 retry the invocation, so only report one when nothing
	// else can recover the lost notification.
	if failed > 0 {
		return fmt.Errorf("%d of %d notifications not enqueued", failed, len(s3Event.Records))
	}
	return nil
}

func enqueueObject(ctx context.Context, bucket, rawKey string) error {
	if bucket != inputBucket {
		log.Debug().Str("bucket", bucket).Msg("Skipping object outside the audio input bucket")
		return nil
	}
	// S3 event keys are URL-encoded with '+' for spaces.
	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		return fmt.Errorf("decode key %q: %w", rawKey, err)
	}

	ref := s3util.ObjectRef{Container: bucket, Name: key}
	body, err := intake.Encode(intake.NewNotification(ref.String()))
	if err != nil {
		return err
	}
	if err := notifications.Enqueue(ctx, body, 0); err != nil {
		return err
	}
	log.Info().Str("file", ref.String()).Msg("Notification enqueued")
	return nil
}
