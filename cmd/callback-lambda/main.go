// Package main provides a Lambda entry point for the speech provider webhook.
//
// This is a lightweight Lambda (128 MB, 10s timeout) behind an HTTP API that
// handles:
//   - POST /callback with X-MicrosoftSpeechServices-Event: challenge, the
//     registration handshake
//   - POST /callback events signed with HMAC-SHA256; completion events mark
//     the matching job record
//
// The shared secret comes from CALLBACK_SECRET or, when unset, from the SSM
// parameter named by SSM_CALLBACK_SECRET_PARAM.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/lambdaboot"
	"github.com/fpang/speech-ingestion/internal/logging"
	"github.com/fpang/speech-ingestion/internal/webhook"
)

var callbackHandler *webhook.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	cfg := lambdaboot.LoadConfig()

	secret, err := lambdaboot.LoadCallbackSecret(context.Background(), awsClients.SSM, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load callback secret")
	}

	var jobs webhook.JobUpdater
	if records := lambdaboot.InitDynamoOptional(awsClients.Config, cfg.Records.JobsTable); records != nil {
		jobs = records
	}
	callbackHandler = webhook.NewHandler(secret, jobs)

	lambdaboot.StartupLog("callback-lambda", initStart).
		SSMParam("callbackSecret", cfg.Callback.SecretParam).
		DynamoTable("jobs", cfg.Records.JobsTable).
		Log()
}

func main() {
	mux := http.NewServeMux()
	mux.Handle("/callback", callbackHandler)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
