// Package intake claims audio notifications from the queue, discards the
// ones that are malformed or irrelevant, and hands the rest to the
// orchestrator with a freshly renewed lease.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
	"github.com/fpang/speech-ingestion/internal/queue"
	"github.com/fpang/speech-ingestion/internal/s3util"
)

const (
	// minRemainingLease is the least lease time a message must still hold to
	// be worked on in this invocation.
	minRemainingLease = 5 * time.Second

	// deferTolerance absorbs clock skew when comparing notBefore to now.
	deferTolerance = time.Second

	// InvalidPrefix is where discarded message bodies are written in the
	// error-report container.
	InvalidPrefix = "invalid/"
)

// Queue is the leased queue the intake reads from.
type Queue interface {
	Receive(ctx context.Context, max int, lease time.Duration) ([]queue.Message, error)
	RenewLease(ctx context.Context, token string, lease time.Duration) error
	Ack(ctx context.Context, token string) error
	Enqueue(ctx context.Context, body []byte, delay time.Duration) error
}

// DiagnosticWriter stores the trace of a discarded notification.
type DiagnosticWriter interface {
	Write(ctx context.Context, container, name string, data []byte) error
}

// Config holds the intake settings.
type Config struct {
	InputContainer      string
	DiagnosticContainer string
	Lease               time.Duration
}

// ClaimStats counts what happened to the messages of the last claim.
type ClaimStats struct {
	Received  int
	Accepted  int
	Discarded int
	Deferred  int
	Skipped   int
}

// Intake claims and validates notifications.
type Intake struct {
	queue Queue
	diag  DiagnosticWriter
	cfg   Config
	now   func() time.Time
	last  ClaimStats
}

// New creates an Intake. diag may be nil, in which case discarded
// notifications are only logged.
func New(q Queue, diag DiagnosticWriter, cfg Config) *Intake {
	return &Intake{queue: q, diag: diag, cfg: cfg, now: time.Now}
}

// LastClaim returns the counters of the most recent Claim.
func (in *Intake) LastClaim() ClaimStats { return in.last }

// Claim receives up to maxCount messages and returns the valid ones.
//
// Messages with less than five seconds of lease left are skipped and left
// for redelivery. Invalid messages are acknowledged and never returned.
// Messages whose notBefore lies in the future are re-enqueued with the
// remaining delay. Every returned notification has had its lease renewed.
//
// An error is returned only when the queue itself cannot be read.
func (in *Intake) Claim(ctx context.Context, maxCount int) ([]Notification, error) {
	in.last = ClaimStats{}
	msgs, err := in.queue.Receive(ctx, maxCount, in.cfg.Lease)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	in.last.Received = len(msgs)

	out := make([]Notification, 0, len(msgs))
	for _, m := range msgs {
		now := in.now()
		if m.LeaseExpiry.Sub(now) < minRemainingLease {
			log.Warn().Str("messageId", m.ID).Time("leaseExpiry", m.LeaseExpiry).Msg("Lease about to expire, leaving message for redelivery")
			in.last.Skipped++
			continue
		}

		n, err := in.validate(m)
		if err != nil {
			in.discard(ctx, m, err)
			continue
		}

		if n.NotBefore.After(now.Add(deferTolerance)) {
			in.deferMessage(ctx, m, n.NotBefore.Sub(now))
			continue
		}

		if err := in.queue.RenewLease(ctx, m.LeaseToken, in.cfg.Lease); err != nil {
			log.Warn().Err(err).Str("messageId", m.ID).Msg("Lease renewal failed, keeping current lease")
		} else {
			n.LeaseExpiry = now.Add(in.cfg.Lease)
		}
		out = append(out, n)
	}
	in.last.Accepted = len(out)

	log.Info().
		Int("received", in.last.Received).
		Int("accepted", in.last.Accepted).
		Int("discarded", in.last.Discarded).
		Int("deferred", in.last.Deferred).
		Int("skipped", in.last.Skipped).
		Msg("Notifications claimed")
	return out, nil
}

func (in *Intake) validate(m queue.Message) (Notification, error) {
	env, err := Decode(m.Body)
	if err != nil {
		return Notification{}, err
	}
	if !IsObjectCreated(env.EventType) {
		return Notification{}, fmt.Errorf("event type %q is not an object-created event: %w", env.EventType, ingesterr.ErrValidation)
	}
	ref, err := s3util.ParseObjectURL(env.Data.URL)
	if err != nil {
		return Notification{}, err
	}
	if ref.Container != in.cfg.InputContainer {
		return Notification{}, fmt.Errorf("object %s is not in input container %s: %w", ref, in.cfg.InputContainer, ingesterr.ErrValidation)
	}

	n := Notification{
		EventType:   env.EventType,
		SourceURL:   env.Data.URL,
		RetryCount:  env.RetryCount,
		MessageID:   m.ID,
		LeaseToken:  m.LeaseToken,
		LeaseExpiry: m.LeaseExpiry,
	}
	if env.NotBefore != nil {
		n.NotBefore = *env.NotBefore
	}
	return n, nil
}

// discard acknowledges an invalid message and leaves a diagnostic trace.
func (in *Intake) discard(ctx context.Context, m queue.Message, cause error) {
	in.last.Discarded++
	log.Error().Err(cause).Str("messageId", m.ID).Bool("validationError", errors.Is(cause, ingesterr.ErrValidation)).
		Msg("Discarding invalid notification")

	if in.diag != nil && in.cfg.DiagnosticContainer != "" {
		name := InvalidPrefix + m.ID + ".txt"
		report := fmt.Sprintf("Discarded notification %s: %v\n\n%s\n", m.ID, cause, m.Body)
		if err := in.diag.Write(ctx, in.cfg.DiagnosticContainer, name, []byte(report)); err != nil {
			log.Error().Err(err).Str("messageId", m.ID).Msg("Failed to write discard diagnostic")
		}
	}

	if err := in.queue.Ack(ctx, m.LeaseToken); err != nil {
		log.Error().Err(err).Str("messageId", m.ID).Msg("Failed to acknowledge invalid notification")
	}
}

// deferMessage re-enqueues a message that is not due yet. The original is
// acknowledged only after the copy is safely enqueued.
func (in *Intake) deferMessage(ctx context.Context, m queue.Message, remaining time.Duration) {
	if err := in.queue.Enqueue(ctx, m.Body, remaining); err != nil {
		log.Error().Err(err).Str("messageId", m.ID).Msg("Failed to re-defer notification, leaving for redelivery")
		in.last.Skipped++
		return
	}
	if err := in.queue.Ack(ctx, m.LeaseToken); err != nil {
		log.Error().Err(err).Str("messageId", m.ID).Msg("Failed to acknowledge deferred notification")
	}
	in.last.Deferred++
	log.Debug().Str("messageId", m.ID).Dur("remaining", remaining).Msg("Notification not due, deferred")
}

// Ack acknowledges a processed notification.
func (in *Intake) Ack(ctx context.Context, n Notification) error {
	return in.queue.Ack(ctx, n.LeaseToken)
}

// Renew extends the lease of every given notification. Failures are logged;
// the first one is returned.
func (in *Intake) Renew(ctx context.Context, ns []Notification) error {
	var first error
	for _, n := range ns {
		if err := in.queue.RenewLease(ctx, n.LeaseToken, in.cfg.Lease); err != nil {
			log.Warn().Err(err).Str("messageId", n.MessageID).Msg("Lease renewal failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
