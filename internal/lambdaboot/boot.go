// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3, SQS,
// DynamoDB, EventBridge, SSM parameter fetch, and startup logging. This
// package extracts the common init patterns so each Lambda's init() is a
// short composition of helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/events"
	"github.com/fpang/speech-ingestion/internal/logging"
	"github.com/fpang/speech-ingestion/internal/queue"
	"github.com/fpang/speech-ingestion/internal/s3util"
	"github.com/fpang/speech-ingestion/internal/store"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// LoadConfig reads the pipeline configuration from the environment.
// Fatals on malformed values.
func LoadConfig() *config.Config {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

// InitStore creates the S3 object store with the configured presign expiry.
func InitStore(cfg aws.Config, c *config.Config) *s3util.Store {
	expiry := time.Duration(c.Storage.PresignMinutes) * time.Minute
	return s3util.NewStore(s3.NewFromConfig(cfg), expiry)
}

// InitQueue creates the SQS notification queue. Fatals if the URL is empty.
func InitQueue(cfg aws.Config, queueURL string) *queue.SQSQueue {
	if queueURL == "" {
		log.Fatal().Str("envVar", config.EnvQueueURL).Msg("Queue URL environment variable is required")
	}
	return queue.NewSQSQueue(sqs.NewFromConfig(cfg), queueURL)
}

// InitDynamoOptional creates the DynamoDB job store if a table is configured.
// Returns nil (with a warning) if not.
func InitDynamoOptional(cfg aws.Config, tableName string) *store.DynamoStore {
	if tableName == "" {
		log.Warn().Str("envVar", config.EnvJobsTable).Msg("DynamoDB table not set, job records disabled")
		return nil
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitEventsOptional creates the EventBridge publisher if a bus is configured.
func InitEventsOptional(cfg aws.Config, bus string) *events.Publisher {
	if bus == "" {
		log.Debug().Str("envVar", config.EnvEventBus).Msg("Event bus not set, completion events disabled")
		return nil
	}
	return events.NewPublisher(eventbridge.NewFromConfig(cfg), bus)
}

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func getSecureParameter(ctx context.Context, client ssmAPI, name string) (string, error) {
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	value := aws.ToString(result.Parameter.Value)
	log.Debug().Str("param", name).Dur("elapsed", time.Since(ssmStart)).Msg("Parameter loaded from SSM")
	return value, nil
}

// LoadEndpointKeys fetches the subscription key of every endpoint that has
// none from SSM Parameter Store, then validates the config.
func LoadEndpointKeys(ctx context.Context, client ssmAPI, c *config.Config) error {
	for _, i := range c.MissingKeys() {
		ep := &c.Endpoints[i]
		if ep.KeyParam == "" {
			return fmt.Errorf("endpoint %s has no key and no SSM parameter", ep.Name)
		}
		key, err := getSecureParameter(ctx, client, ep.KeyParam)
		if err != nil {
			return fmt.Errorf("load key for endpoint %s from %s: %w", ep.Name, ep.KeyParam, err)
		}
		ep.Key = key
	}
	return c.Validate()
}

// LoadCallbackSecret returns the webhook secret from the environment or SSM.
func LoadCallbackSecret(ctx context.Context, client ssmAPI, c *config.Config) (string, error) {
	if c.Callback.Secret != "" {
		return c.Callback.Secret, nil
	}
	if c.Callback.SecretParam == "" {
		return "", fmt.Errorf("%s or %s must be set", config.EnvCallbackSecret, config.EnvCallbackParam)
	}
	secret, err := getSecureParameter(ctx, client, c.Callback.SecretParam)
	if err != nil {
		return "", fmt.Errorf("load callback secret from %s: %w", c.Callback.SecretParam, err)
	}
	return secret, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
