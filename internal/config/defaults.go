package config

// Defaults and bounds for the pipeline knobs.
const (
	DefaultMessagesPerExecution = 1000
	MaxMessagesPerExecution     = 5000

	DefaultFilesPerJob = 100
	MaxFilesPerJob     = 1000

	DefaultRetryLimit = 4
	MaxRetryLimit     = 16

	DefaultInitialRetryDelayMinutes = 2
	DefaultMaxRetryDelayMinutes     = 180
	MaxRetryDelayMinutes            = 1440

	DefaultLeaseSeconds = 300
	MaxLeaseSeconds     = 43200

	DefaultPresignMinutes = 720
	MaxPresignMinutes     = 10080

	DefaultLocale              = "en-US"
	DefaultProfanityFilterMode = "Masked"
	DefaultPunctuationMode     = "DictatedAndAutomatic"

	DefaultKeyParamPrefix = "/speech-ingestion/prod/speech-key/"
)

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Queue: Queue{
			MessagesPerExecution: DefaultMessagesPerExecution,
			LeaseSeconds:         DefaultLeaseSeconds,
		},
		Storage: Storage{
			PresignMinutes: DefaultPresignMinutes,
		},
		Transcription: Transcription{
			FilesPerJob:         DefaultFilesPerJob,
			Locale:              DefaultLocale,
			ProfanityFilterMode: DefaultProfanityFilterMode,
			PunctuationMode:     DefaultPunctuationMode,
		},
		Retry: Retry{
			Limit:               DefaultRetryLimit,
			InitialDelayMinutes: DefaultInitialRetryDelayMinutes,
			MaxDelayMinutes:     DefaultMaxRetryDelayMinutes,
		},
	}
}
