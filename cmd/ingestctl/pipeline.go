package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/ingest"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/lambdaboot"
	"github.com/fpang/speech-ingestion/internal/queue"
	"github.com/fpang/speech-ingestion/internal/s3util"
	"github.com/fpang/speech-ingestion/internal/speech"
)

var (
	delayFlag   time.Duration
	noStoreFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one submission pass over the notification queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := loadConfig()
		aws := lambdaboot.InitAWS()
		if err := lambdaboot.LoadEndpointKeys(ctx, aws.SSM, cfg); err != nil {
			return err
		}

		b := ingest.Backends{
			Queue:    lambdaboot.InitQueue(aws.Config, cfg.Queue.URL),
			Objects:  lambdaboot.InitStore(aws.Config, cfg),
			Provider: speech.NewClient(),
		}
		if !noStoreFlag {
			if jobs := lambdaboot.InitDynamoOptional(aws.Config, cfg.Records.JobsTable); jobs != nil {
				b.Jobs = jobs
				b.Dispositions = jobs
			}
		}

		orch, err := ingest.FromConfig(cfg, b, nil)
		if err != nil {
			return err
		}
		sum, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Println(summaryTable(sum))
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <artifact-url>",
	Short: "Reconcile one provider result artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := s3util.ParseObjectURL(args[0])
		if err != nil {
			return err
		}
		cfg := loadConfig()
		if err := cfg.ValidateStorage(); err != nil {
			return err
		}
		aws := lambdaboot.InitAWS()

		b := ingest.Backends{Objects: lambdaboot.InitStore(aws.Config, cfg)}
		if !noStoreFlag {
			if records := lambdaboot.InitDynamoOptional(aws.Config, cfg.Records.JobsTable); records != nil {
				b.Dispositions = records
			}
		}

		r := ingest.NewReconciler(cfg, b)
		if err := r.Reconcile(cmd.Context(), ref.Container, ref.Name); err != nil {
			return err
		}
		stats := r.Stats()
		fmt.Printf("Reconciled %s: %d transcript(s), %d failed file(s)\n", ref, stats.Transcripts, stats.ReportFailures)
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <audio-url>...",
	Short: "Queue audio files for transcription",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		aws := lambdaboot.InitAWS()
		q := lambdaboot.InitQueue(aws.Config, cfg.Queue.URL)

		for _, raw := range args {
			body, delay, err := envelopeFor(cfg, raw, delayFlag, time.Now())
			if err != nil {
				return err
			}
			if err := q.Enqueue(cmd.Context(), body, delay); err != nil {
				return fmt.Errorf("enqueue %s: %w", raw, err)
			}
			log.Info().Str("file", raw).Dur("delay", delayFlag).Msg("Notification enqueued")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&noStoreFlag, "no-records", false, "Do not write job records even if a table is configured")
	reconcileCmd.Flags().BoolVar(&noStoreFlag, "no-records", false, "Ignore recorded dispositions even if a table is configured")
	enqueueCmd.Flags().DurationVar(&delayFlag, "delay", 0, "Delay before the notification becomes due")
}

// envelopeFor validates an audio URL and encodes its notification. Delays
// beyond the queue maximum travel in notBefore, as re-queued retries do.
func envelopeFor(cfg *config.Config, raw string, delay time.Duration, now time.Time) ([]byte, time.Duration, error) {
	ref, err := s3util.ParseObjectURL(raw)
	if err != nil {
		return nil, 0, err
	}
	if cfg.Storage.AudioInput != "" && ref.Container != cfg.Storage.AudioInput {
		return nil, 0, fmt.Errorf("%s is not in the audio input container %s", ref, cfg.Storage.AudioInput)
	}

	n := intake.NewNotification(ref.String())
	if delay > queue.MaxDelay {
		n.NotBefore = now.Add(delay)
	}
	body, err := intake.Encode(n)
	if err != nil {
		return nil, 0, err
	}
	return body, delay, nil
}

func summaryTable(sum ingest.Summary) string {
	rows := [][]string{
		{"Claimed", strconv.Itoa(sum.Claimed)},
		{"Discarded", strconv.Itoa(sum.Discarded)},
		{"Deferred", strconv.Itoa(sum.Deferred)},
		{"Jobs", strconv.Itoa(sum.Jobs)},
		{"Submitted", strconv.Itoa(sum.Submitted)},
		{"Re-queued", strconv.Itoa(sum.Requeued)},
		{"Failed", strconv.Itoa(sum.Failed)},
		{"Left leased", strconv.Itoa(sum.Kept)},
		{"Acknowledged", strconv.Itoa(sum.Acked)},
	}
	return "Run " + sum.RunID + "\n" + renderTable([]string{"Files", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}
