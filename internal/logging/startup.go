package logging

import (
	"maps"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resource kinds reported under "resources" in the cold-start event.
const (
	kindBuckets   = "s3Buckets"
	kindQueues    = "queues"
	kindTables    = "dynamoTables"
	kindSSMParams = "ssmParams"
	kindEventBus  = "eventBuses"
)

// StartupLogger gathers what a Lambda wired during init and reports it as a
// single "Lambda cold start complete" event.
type StartupLogger struct {
	name         string
	initDuration time.Duration

	resources map[string]map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the named Lambda
// (e.g. "submit-lambda").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		resources: map[string]map[string]string{},
		features:  map[string]bool{},
		config:    map[string]string{},
	}
}

func (s *StartupLogger) add(kind, label, value string) *StartupLogger {
	m, ok := s.resources[kind]
	if !ok {
		m = map[string]string{}
		s.resources[kind] = m
	}
	m[label] = value
	return s
}

// S3Bucket registers a bucket (container). Empty names are skipped.
func (s *StartupLogger) S3Bucket(label, name string) *StartupLogger {
	if name == "" {
		return s
	}
	return s.add(kindBuckets, label, name)
}

// Queue registers an SQS queue URL.
func (s *StartupLogger) Queue(label, url string) *StartupLogger {
	if url == "" {
		return s
	}
	return s.add(kindQueues, label, url)
}

// DynamoTable registers a DynamoDB table.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	if name == "" {
		return s
	}
	return s.add(kindTables, label, name)
}

// SSMParam registers the path of a secret loaded from SSM. The value is
// never logged.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	return s.add(kindSSMParams, label, path)
}

// EventBus registers the EventBridge bus for disposition events.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	if name == "" {
		return s
	}
	return s.add(kindEventBus, label, name)
}

// Feature registers a boolean flag such as deleteArtifacts.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive setting.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long init took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log writes the cold-start event at info level.
func (s *StartupLogger) Log() {
	s.event(log.Info()).Msg("Lambda cold start complete")
}

func (s *StartupLogger) event(evt *zerolog.Event) *zerolog.Event {
	evt = evt.Dict("lambda", zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv(LevelEnvVar)))

	if len(s.resources) > 0 {
		res := zerolog.Dict()
		for _, kind := range slices.Sorted(maps.Keys(s.resources)) {
			res = res.Dict(kind, stringDict(s.resources[kind]))
		}
		evt = evt.Dict("resources", res)
	}
	if len(s.features) > 0 {
		flags := zerolog.Dict()
		for _, k := range slices.Sorted(maps.Keys(s.features)) {
			flags = flags.Bool(k, s.features[k])
		}
		evt = evt.Dict("features", flags)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", stringDict(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}
	return evt
}

func stringDict(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range slices.Sorted(maps.Keys(m)) {
		d = d.Str(k, m[k])
	}
	return d
}
