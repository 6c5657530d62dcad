package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Environment variable names. Pipeline knobs keep the names operators of
// the ingestion client already use; infrastructure wiring follows the
// UPPER_SNAKE convention of the other Lambdas.
const (
	EnvQueueURL       = "NOTIFICATION_QUEUE_URL"
	EnvJobsTable      = "JOBS_TABLE_NAME"
	EnvEventBus       = "EVENT_BUS_NAME"
	EnvKeyParamPrefix = "SSM_SPEECH_KEY_PARAM_PREFIX"
	EnvCallbackSecret = "CALLBACK_SECRET"
	EnvCallbackParam  = "SSM_CALLBACK_SECRET_PARAM"

	EnvMessagesPerExecution = "MessagesPerFunctionExecution"
	EnvLeaseSeconds         = "MessageLeaseSeconds"
	EnvFilesPerJob          = "FilesPerTranscriptionJob"
	EnvRetryLimit           = "RetryLimit"
	EnvInitialRetryDelay    = "InitialRetryDelayInMinutes"
	EnvMaxRetryDelay        = "MaxRetryDelayInMinutes"

	EnvLocale                 = "Locale"
	EnvProfanityFilterMode    = "ProfanityFilterMode"
	EnvPunctuationMode        = "PunctuationMode"
	EnvAddDiarization         = "AddDiarization"
	EnvAddWordLevelTimestamps = "AddWordLevelTimestamps"
	EnvTimeToLive             = "TranscriptionTimeToLive"

	EnvAudioInput           = "AudioInputContainer"
	EnvAudioProcessed       = "AudioProcessedContainer"
	EnvAudioFailed          = "AudioFailedContainer"
	EnvErrorFiles           = "ErrorFilesOutputContainer"
	EnvErrorReports         = "ErrorReportOutputContainer"
	EnvJSONResults          = "JsonResultOutputContainer"
	EnvProviderOutput       = "SpeechServicesOutputContainer"
	EnvDeleteProcessedAudio = "DeleteProcessedAudioFilesFromStorage"
	EnvDeleteArtifacts      = "DeleteCustomSpeechArtifacts"
	EnvPresignMinutes       = "AudioUrlExpiryInMinutes"

	EnvKey             = "CognitiveServicesKey"
	EnvRegion          = "CognitiveServicesRegion"
	EnvModelID         = "CustomModelId"
	EnvFallbackKey     = "CognitiveServicesFallbackKey"
	EnvFallbackRegion  = "CognitiveServicesFallbackRegion"
	EnvFallbackModelID = "FallbackCustomModelId"
	EnvEndpointWeights = "EndpointWeights"
)

// FromEnv builds a Config from Lambda environment variables. The result is
// normalized but not validated: endpoint keys may still need to be loaded
// from SSM before Validate is called.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			log.Warn().Str("envVar", name).Str("value", v).Msg("Ignoring non-integer setting, keeping default")
			return
		}
		*dst = n
	}
	flag := func(name string, dst *bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		*dst = err == nil && b
	}

	str(EnvQueueURL, &c.Queue.URL)
	num(EnvMessagesPerExecution, &c.Queue.MessagesPerExecution)
	num(EnvLeaseSeconds, &c.Queue.LeaseSeconds)

	str(EnvAudioInput, &c.Storage.AudioInput)
	str(EnvAudioProcessed, &c.Storage.AudioProcessed)
	str(EnvAudioFailed, &c.Storage.AudioFailed)
	str(EnvErrorFiles, &c.Storage.ErrorFiles)
	str(EnvErrorReports, &c.Storage.ErrorReports)
	str(EnvJSONResults, &c.Storage.JSONResults)
	str(EnvProviderOutput, &c.Storage.ProviderOutput)
	flag(EnvDeleteProcessedAudio, &c.Storage.DeleteProcessedAudio)
	flag(EnvDeleteArtifacts, &c.Storage.DeleteArtifacts)
	num(EnvPresignMinutes, &c.Storage.PresignMinutes)

	num(EnvFilesPerJob, &c.Transcription.FilesPerJob)
	str(EnvLocale, &c.Transcription.Locale)
	str(EnvProfanityFilterMode, &c.Transcription.ProfanityFilterMode)
	str(EnvPunctuationMode, &c.Transcription.PunctuationMode)
	flag(EnvAddDiarization, &c.Transcription.AddDiarization)
	flag(EnvAddWordLevelTimestamps, &c.Transcription.AddWordLevelTimestamps)
	str(EnvTimeToLive, &c.Transcription.TimeToLive)

	num(EnvRetryLimit, &c.Retry.Limit)
	num(EnvInitialRetryDelay, &c.Retry.InitialDelayMinutes)
	num(EnvMaxRetryDelay, &c.Retry.MaxDelayMinutes)

	str(EnvJobsTable, &c.Records.JobsTable)
	str(EnvEventBus, &c.Records.EventBus)
	str(EnvCallbackSecret, &c.Callback.Secret)
	str(EnvCallbackParam, &c.Callback.SecretParam)

	endpoints, err := endpointsFromEnv(lookup)
	if err != nil {
		return err
	}
	if len(endpoints) > 0 {
		c.Endpoints = endpoints
	}
	return nil
}

// endpointsFromEnv builds the endpoint list. EndpointWeights ("eastus=70,westeurope=30")
// selects weighted routing; otherwise the primary and optional fallback
// region variables are used. Setting both is kept as-is so Validate can
// reject the mixed policy.
func endpointsFromEnv(lookup lookupFunc) ([]Endpoint, error) {
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	var endpoints []Endpoint
	if weights := get(EnvEndpointWeights); weights != "" {
		for _, part := range strings.Split(weights, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			region, weight, ok := strings.Cut(part, "=")
			if !ok {
				return nil, fmt.Errorf("%s: entry %q must be region=weight", EnvEndpointWeights, part)
			}
			w, err := strconv.Atoi(strings.TrimSpace(weight))
			if err != nil {
				return nil, fmt.Errorf("%s: weight for %s: %w", EnvEndpointWeights, region, err)
			}
			region = strings.TrimSpace(region)
			endpoints = append(endpoints, Endpoint{
				Name:    region,
				Region:  region,
				Key:     get(EnvKey + "_" + strings.ToUpper(region)),
				ModelID: get(EnvModelID),
				Role:    RoleWeighted,
				Weight:  w,
			})
		}
	} else if region := get(EnvRegion); region != "" {
		endpoints = append(endpoints, Endpoint{
			Name:    RolePrimary,
			Region:  region,
			Key:     get(EnvKey),
			ModelID: get(EnvModelID),
			Role:    RolePrimary,
		})
	}

	if region := get(EnvFallbackRegion); region != "" {
		endpoints = append(endpoints, Endpoint{
			Name:    RoleFallback,
			Region:  region,
			Key:     get(EnvFallbackKey),
			ModelID: get(EnvFallbackModelID),
			Role:    RoleFallback,
		})
	}

	if prefix := get(EnvKeyParamPrefix); prefix != "" {
		for i := range endpoints {
			endpoints[i].KeyParam = prefix + endpoints[i].Name
		}
	}
	return endpoints, nil
}
