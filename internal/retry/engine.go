package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/queue"
	"github.com/fpang/speech-ingestion/internal/s3util"
)

// Enqueuer puts a message body back on the queue after a delay.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte, delay time.Duration) error
}

// Disposer records terminal failures.
type Disposer interface {
	Fail(ctx context.Context, audio s3util.ObjectRef, report, job string) error
	WriteJobReport(ctx context.Context, jobName, report string) error
}

// Result summarizes what the engine did with one job's notifications.
type Result struct {
	// Done holds the notifications whose message may now be acknowledged.
	Done     []intake.Notification
	Requeued int
	Failed   int
	// Kept counts notifications left leased because their next step could
	// not be persisted; they are redelivered after the lease expires.
	Kept int
}

// Engine applies Advance to submission outcomes.
type Engine struct {
	queue    Enqueuer
	disposer Disposer
	policy   Policy
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(q Enqueuer, d Disposer, p Policy) *Engine {
	return &Engine{queue: q, disposer: d, policy: p, now: time.Now}
}

// Policy returns the engine's retry policy.
func (e *Engine) Policy() Policy { return e.policy }

// OnSubmissionResult handles the outcome of submitting jobName. Provider
// failures never escape: each notification is re-queued or failed, and the
// returned Result says which messages are safe to acknowledge.
func (e *Engine) OnSubmissionResult(ctx context.Context, jobName string, ns []intake.Notification, location string, submitErr error) Result {
	var res Result
	if submitErr == nil {
		log.Info().Str("job", jobName).Str("location", location).Int("files", len(ns)).Msg("Job accepted by provider")
		res.Done = append(res.Done, ns...)
		return res
	}

	if errors.Is(submitErr, context.Canceled) {
		// The invocation is ending; the leases expire and the messages return.
		log.Warn().Err(submitErr).Str("job", jobName).Int("files", len(ns)).
			Msg("Submission canceled, leaving notifications leased")
		res.Kept = len(ns)
		return res
	}

	class := Classify(submitErr)
	log.Warn().Err(submitErr).Str("job", jobName).Str("class", class.String()).Int("files", len(ns)).
		Msg("Job submission failed")

	if class == Fatal {
		if err := e.disposer.WriteJobReport(ctx, jobName, jobReport(jobName, ns, submitErr)); err != nil {
			log.Error().Err(err).Str("job", jobName).Msg("Failed to write job report")
		}
	}

	for _, n := range ns {
		t := Advance(n, submitErr, e.policy)
		switch t.Action {
		case ActionRequeue:
			if err := e.requeue(ctx, t); err != nil {
				log.Error().Err(err).Str("source", n.SourceURL).Int("retryCount", n.RetryCount).
					Msg("Failed to re-queue notification, leaving for redelivery")
				res.Kept++
				continue
			}
			log.Info().Str("source", n.SourceURL).Int("retryCount", t.Next.RetryCount).Dur("delay", t.Delay).
				Msg("Notification re-queued")
			res.Requeued++
			res.Done = append(res.Done, n)

		case ActionFail:
			if err := e.fail(ctx, jobName, n, t.Err); err != nil {
				log.Error().Err(err).Str("source", n.SourceURL).Msg("Failed to record failure, leaving for redelivery")
				res.Kept++
				continue
			}
			res.Failed++
			res.Done = append(res.Done, n)
		}
	}
	return res
}

// requeue enqueues the next attempt. Delays beyond the queue maximum are
// carried in notBefore so intake keeps deferring the message.
func (e *Engine) requeue(ctx context.Context, t Transition) error {
	next := t.Next
	if t.Delay > queue.MaxDelay {
		next.NotBefore = e.now().Add(t.Delay)
	}
	body, err := intake.Encode(next)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return e.queue.Enqueue(ctx, body, t.Delay)
}

func (e *Engine) fail(ctx context.Context, jobName string, n intake.Notification, cause error) error {
	ref, err := s3util.ParseObjectURL(n.SourceURL)
	if err != nil {
		// Intake only admits parseable URLs; nothing to move.
		log.Error().Err(err).Str("source", n.SourceURL).Msg("Cannot locate failed audio")
		return nil
	}
	return e.disposer.Fail(ctx, ref, fileReport(jobName, n, ref, cause), jobName)
}

func fileReport(jobName string, n intake.Notification, ref s3util.ObjectRef, cause error) string {
	if errors.Is(cause, ingesterr.ErrRetryExhausted) {
		return fmt.Sprintf("Exceeded retry count for file %s in container %s (job %s, %d attempts): %v",
			ref.Name, ref.Container, jobName, n.RetryCount+1, cause)
	}
	return fmt.Sprintf("Failed to submit file %s in container %s (job %s): %v", ref.Name, ref.Container, jobName, cause)
}

func jobReport(jobName string, ns []intake.Notification, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcription job %s with %d files was rejected: %v\n", jobName, len(ns), cause)
	for _, n := range ns {
		fmt.Fprintf(&b, "%s\n", n.SourceURL)
	}
	return b.String()
}
