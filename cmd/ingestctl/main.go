// Command ingestctl operates the speech ingestion pipeline from a terminal:
// run one submission pass, reconcile a single artifact, enqueue audio by
// hand, and inspect routing and retry settings.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/logging"
)

// CLI flags
var (
	configFlag  string
	verboseFlag bool
)

// rootCmd is the main Cobra command for the ingestctl CLI.
var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Operate the speech ingestion pipeline",
	Long: `ingestctl drives the same pipeline the Lambdas run, using the AWS
credentials of the current shell.

Settings come from a TOML file (--config) or, without one, from the same
environment variables the Lambdas read.

Examples:
  ingestctl endpoints --config ingest.toml
  ingestctl delay
  ingestctl enqueue s3://audio-input/call-0001.wav
  ingestctl run --config ingest.toml
  ingestctl reconcile s3://speech-output/job/call-0001.wav_0.json`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			os.Setenv(logging.LevelEnvVar, "debug")
		}
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file (default: environment variables)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd, reconcileCmd, enqueueCmd, endpointsCmd, delayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config when given, otherwise the environment.
func loadConfig() *config.Config {
	if configFlag != "" {
		cfg, err := config.LoadFile(configFlag)
		if err != nil {
			log.Fatal().Err(err).Str("path", configFlag).Msg("Failed to load config")
		}
		return cfg
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}
