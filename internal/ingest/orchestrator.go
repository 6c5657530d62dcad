// Package ingest runs one invocation of the submission pipeline: claim
// notifications, chunk them into jobs, route and submit each job, and hand
// the outcome to the retry engine.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/jobs"
	"github.com/fpang/speech-ingestion/internal/metrics"
	"github.com/fpang/speech-ingestion/internal/retry"
	"github.com/fpang/speech-ingestion/internal/routing"
	"github.com/fpang/speech-ingestion/internal/store"
)

const (
	// DefaultRenewAfter is how long a job loop runs before the leases of the
	// notifications not yet submitted are renewed.
	DefaultRenewAfter = 120 * time.Second

	// DefaultPacing spaces consecutive submissions.
	DefaultPacing = 200 * time.Millisecond
)

// Submitter sends a transcription job to an endpoint.
type Submitter interface {
	SubmitTranscription(ctx context.Context, req routing.TranscriptionRequest, ep routing.Endpoint) (string, error)
}

// Deps are the collaborators of an Orchestrator. Jobs and Metrics are optional.
type Deps struct {
	Intake   *intake.Intake
	Router   *routing.Router
	Builder  *routing.RequestBuilder
	Provider Submitter
	Engine   *retry.Engine
	Jobs     store.JobStore
	Metrics  *metrics.Recorder
}

// Options tune one invocation.
type Options struct {
	MessagesPerExecution int
	FilesPerJob          int
	RenewAfter           time.Duration
	Pacing               time.Duration
}

// Summary reports what one Run did.
type Summary struct {
	RunID     string
	Claimed   int
	Discarded int
	Deferred  int
	Jobs      int
	Submitted int
	Requeued  int
	Failed    int
	Kept      int
	Acked     int
}

// Orchestrator drives the pipeline.
type Orchestrator struct {
	deps  Deps
	opts  Options
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.RenewAfter <= 0 {
		opts.RenewAfter = DefaultRenewAfter
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if opts.FilesPerJob < 1 {
		opts.FilesPerJob = 1
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes one invocation. It returns an error only when the queue
// cannot be read; every per-file problem is handled and logged.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := o.now()
	sum := Summary{RunID: jobs.NewRunID()}
	logger := log.With().Str("runId", sum.RunID).Logger()

	claimed, err := o.deps.Intake.Claim(ctx, o.opts.MessagesPerExecution)
	stats := o.deps.Intake.LastClaim()
	sum.Claimed, sum.Discarded, sum.Deferred = len(claimed), stats.Discarded, stats.Deferred
	if err != nil {
		logger.Error().Err(err).Msg("Notification queue unreachable")
		return sum, err
	}
	if len(claimed) == 0 {
		logger.Info().Int("discarded", sum.Discarded).Int("deferred", sum.Deferred).Msg("No notifications to process")
		o.emit(sum, start)
		return sum, nil
	}

	batches := jobs.Chunk(claimed, o.opts.FilesPerJob, start)
	logger.Info().Int("notifications", len(claimed)).Int("jobs", len(batches)).Int("filesPerJob", o.opts.FilesPerJob).
		Msg("Processing notifications")

	stopwatch := o.now()
	first := true
	for i, batch := range batches {
		if o.now().Sub(stopwatch) > o.opts.RenewAfter {
			o.renewRemaining(ctx, batches[i:])
			stopwatch = o.now()
		}

		for _, a := range o.deps.Router.Partition(batch.Name, batch.Notifications) {
			if !first {
				if err := o.sleep(ctx, o.opts.Pacing); err != nil {
					logger.Warn().Err(err).Msg("Invocation cancelled, leaving remaining notifications leased")
					o.emit(sum, start)
					return sum, nil
				}
			}
			first = false
			sum.Jobs++
			o.submit(ctx, sum.RunID, a, &sum)
		}
	}

	logger.Info().
		Int("claimed", sum.Claimed).
		Int("jobs", sum.Jobs).
		Int("submitted", sum.Submitted).
		Int("requeued", sum.Requeued).
		Int("failed", sum.Failed).
		Int("kept", sum.Kept).
		Dur("elapsed", o.now().Sub(start)).
		Msg("Invocation complete")
	o.emit(sum, start)
	return sum, nil
}

func (o *Orchestrator) submit(ctx context.Context, runID string, a routing.Assignment, sum *Summary) {
	req, err := o.deps.Builder.Build(ctx, a)
	if err != nil {
		// Local failure; the notifications stay leased and are redelivered.
		log.Error().Err(err).Str("job", a.Name).Msg("Failed to build transcription request")
		sum.Kept += len(a.Notifications)
		return
	}

	location, submitErr := o.deps.Provider.SubmitTranscription(ctx, req, a.Endpoint)
	if submitErr == nil {
		sum.Submitted++
	}
	o.recordJob(ctx, runID, a, location, submitErr)

	res := o.deps.Engine.OnSubmissionResult(ctx, a.Name, a.Notifications, location, submitErr)
	sum.Requeued += res.Requeued
	sum.Failed += res.Failed
	sum.Kept += res.Kept

	for _, n := range res.Done {
		if err := o.deps.Intake.Ack(ctx, n); err != nil {
			log.Error().Err(err).Str("messageId", n.MessageID).Msg("Failed to acknowledge notification")
			continue
		}
		sum.Acked++
	}
}

func (o *Orchestrator) recordJob(ctx context.Context, runID string, a routing.Assignment, location string, submitErr error) {
	if o.deps.Jobs == nil {
		return
	}
	files := make([]string, 0, len(a.Notifications))
	for _, n := range a.Notifications {
		files = append(files, n.SourceURL)
	}
	rec := &store.JobRecord{
		Name:        a.Name,
		RunID:       runID,
		Endpoint:    a.Endpoint.Name,
		Region:      a.Endpoint.Region,
		Files:       files,
		Location:    location,
		Status:      store.JobSubmitted,
		SubmittedAt: o.now().Unix(),
	}
	if submitErr != nil {
		rec.Status = store.JobFailed
		rec.Error = submitErr.Error()
	}
	if err := o.deps.Jobs.PutJob(ctx, rec); err != nil {
		log.Warn().Err(err).Str("job", a.Name).Msg("Failed to record job")
	}
}

func (o *Orchestrator) renewRemaining(ctx context.Context, remaining []jobs.Batch) {
	var ns []intake.Notification
	for _, b := range remaining {
		ns = append(ns, b.Notifications...)
	}
	if err := o.deps.Intake.Renew(ctx, ns); err != nil {
		log.Warn().Err(err).Msg("Some leases could not be renewed")
	}
	log.Debug().Int("notifications", len(ns)).Msg("Leases renewed for pending jobs")
}

func (o *Orchestrator) emit(sum Summary, start time.Time) {
	m := o.deps.Metrics
	if m == nil {
		return
	}
	m.Count(metrics.NotificationsClaimed, sum.Claimed).
		Count(metrics.NotificationsDiscarded, sum.Discarded).
		Count(metrics.NotificationsDeferred, sum.Deferred).
		Count(metrics.JobsSubmitted, sum.Submitted).
		Count(metrics.FilesRequeued, sum.Requeued).
		Count(metrics.FilesFailed, sum.Failed).
		Since(metrics.InvocationMs, start).
		Property("runId", sum.RunID)
	m.Flush()
}
