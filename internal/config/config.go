package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Queue contains the notification queue settings.
type Queue struct {
	URL                  string `toml:"url"`
	MessagesPerExecution int    `toml:"messages_per_execution"`
	LeaseSeconds         int    `toml:"lease_seconds"`
}

// Storage names the buckets (containers) the pipeline reads and writes.
type Storage struct {
	AudioInput           string `toml:"audio_input"`
	AudioProcessed       string `toml:"audio_processed"`
	AudioFailed          string `toml:"audio_failed"`
	ErrorFiles           string `toml:"error_files"`
	ErrorReports         string `toml:"error_reports"`
	JSONResults          string `toml:"json_results"`
	ProviderOutput       string `toml:"provider_output"`
	DeleteProcessedAudio bool   `toml:"delete_processed_audio"`
	DeleteArtifacts      bool   `toml:"delete_provider_artifacts"`
	PresignMinutes       int    `toml:"presign_minutes"`
}

// Transcription contains the request properties sent with every job.
type Transcription struct {
	FilesPerJob            int    `toml:"files_per_job"`
	Locale                 string `toml:"locale"`
	ProfanityFilterMode    string `toml:"profanity_filter_mode"`
	PunctuationMode        string `toml:"punctuation_mode"`
	AddDiarization         bool   `toml:"add_diarization"`
	AddWordLevelTimestamps bool   `toml:"add_word_level_timestamps"`
	TimeToLive             string `toml:"time_to_live"`
}

// Retry contains the exponential backoff policy.
type Retry struct {
	Limit               int `toml:"limit"`
	InitialDelayMinutes int `toml:"initial_delay_minutes"`
	MaxDelayMinutes     int `toml:"max_delay_minutes"`
}

// Endpoint describes one speech provider region.
type Endpoint struct {
	Name     string `toml:"name"`
	Region   string `toml:"region"`
	Key      string `toml:"key"`
	KeyParam string `toml:"key_ssm_param"`
	ModelID  string `toml:"model_id"`
	Role     string `toml:"role"`
	Weight   int    `toml:"weight"`
}

// Endpoint roles. A deployment uses either primary/fallback or weighted.
const (
	RolePrimary  = "primary"
	RoleFallback = "fallback"
	RoleWeighted = "weighted"
)

// Records contains optional persistence and notification targets.
type Records struct {
	JobsTable string `toml:"jobs_table"`
	EventBus  string `toml:"event_bus"`
}

// Callback contains provider webhook settings.
type Callback struct {
	Secret      string `toml:"secret"`
	SecretParam string `toml:"secret_ssm_param"`
}

// Config encapsulates all configuration values for the ingestion pipeline.
//
// Sections:
//   - Queue: notification queue and lease
//   - Storage: input, output and error buckets
//   - Transcription: job size and request properties
//   - Retry: backoff policy
//   - Endpoints: provider regions and routing policy
//   - Records: DynamoDB job table and EventBridge bus
//   - Callback: provider webhook secret
type Config struct {
	Queue         Queue         `toml:"queue"`
	Storage       Storage       `toml:"storage"`
	Transcription Transcription `toml:"transcription"`
	Retry         Retry         `toml:"retry"`
	Endpoints     []Endpoint    `toml:"endpoints"`
	Records       Records       `toml:"records"`
	Callback      Callback      `toml:"callback"`
}

// LoadFile parses, normalizes and validates a TOML configuration file.
// Environment overrides are applied after the file so Lambda-style settings
// still win when both are present.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RoutingPolicy reports which routing policy the endpoints describe.
func (c *Config) RoutingPolicy() string {
	for _, ep := range c.Endpoints {
		if ep.Role == RoleWeighted {
			return RoleWeighted
		}
	}
	return RolePrimary
}

// MissingKeys returns the endpoints whose key must still be loaded from SSM.
func (c *Config) MissingKeys() []int {
	var idx []int
	for i, ep := range c.Endpoints {
		if strings.TrimSpace(ep.Key) == "" {
			idx = append(idx, i)
		}
	}
	return idx
}
