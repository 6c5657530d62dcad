// Package disposition applies the terminal outcome of an audio file: it
// writes the diagnostic report or transcript, then moves the audio to its
// processed or failed container (or deletes it).
//
// Writes always precede moves. A write failure returns before the audio is
// touched, so the file stays in the input container for a later attempt.
package disposition

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/events"
	"github.com/fpang/speech-ingestion/internal/ingesterr"
	"github.com/fpang/speech-ingestion/internal/s3util"
	"github.com/fpang/speech-ingestion/internal/store"
)

// Outcome is a file's terminal state.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
)

// JobReportPrefix holds job-level error reports in the report container.
const JobReportPrefix = "jobs/"

// ObjectStore is the subset of the object store the writer needs.
type ObjectStore interface {
	Write(ctx context.Context, container, name string, data []byte) error
	Delete(ctx context.Context, container, name string) error
	Move(ctx context.Context, srcContainer, srcName, dstContainer, dstName string, overwrite bool) error
}

// Publisher announces completions.
type Publisher interface {
	PublishCompletion(ctx context.Context, c events.Completion) error
}

// Containers names the destinations used by a writer.
type Containers struct {
	Reports   string
	Results   string
	Processed string
	Failed    string
}

// Options holds optional collaborators.
type Options struct {
	// DeleteAudio deletes audio instead of moving it.
	DeleteAudio bool

	// Dispositions, when set, makes outcomes idempotent: a file already
	// recorded with the same outcome for the same job is skipped. A record
	// from another job (a re-upload under the same name) does not block.
	Dispositions store.DispositionStore

	// Events, when set, receives a completion per terminal outcome.
	Events Publisher
}

// Writer applies dispositions.
type Writer struct {
	objects    ObjectStore
	containers Containers
	opts       Options
}

// NewWriter creates a Writer.
func NewWriter(objects ObjectStore, containers Containers, opts Options) *Writer {
	return &Writer{objects: objects, containers: containers, opts: opts}
}

// Fail writes report to "<name>.txt" in the report container, then moves the
// audio to the failed container (or deletes it).
func (w *Writer) Fail(ctx context.Context, audio s3util.ObjectRef, report, job string) error {
	if w.alreadyDone(ctx, audio, Failed, job) {
		return nil
	}

	if err := w.objects.Write(ctx, w.containers.Reports, audio.Name+".txt", []byte(report)); err != nil {
		return fmt.Errorf("write failure report for %s: %w", audio, err)
	}
	if err := w.relocate(ctx, audio, w.containers.Failed); err != nil {
		return err
	}

	log.Error().Str("file", audio.String()).Str("job", job).Str("reason", report).Msg("File failed")
	w.record(ctx, audio, Failed, report, job, "")
	return nil
}

// Succeed writes transcript to "<name>.json" in the results container, then
// moves the audio to the processed container (or deletes it).
func (w *Writer) Succeed(ctx context.Context, audio s3util.ObjectRef, transcript []byte, job string) error {
	if w.alreadyDone(ctx, audio, Succeeded, job) {
		return nil
	}

	resultName := audio.Name + ".json"
	if err := w.objects.Write(ctx, w.containers.Results, resultName, transcript); err != nil {
		return fmt.Errorf("write transcript for %s: %w", audio, err)
	}
	if err := w.relocate(ctx, audio, w.containers.Processed); err != nil {
		return err
	}

	log.Info().Str("file", audio.String()).Str("result", w.containers.Results+"/"+resultName).Msg("Transcript stored")
	w.record(ctx, audio, Succeeded, "", job, w.containers.Results+"/"+resultName)
	return nil
}

// WriteJobReport writes a job-level report to "jobs/<jobName>.txt".
func (w *Writer) WriteJobReport(ctx context.Context, jobName, report string) error {
	if err := w.objects.Write(ctx, w.containers.Reports, JobReportPrefix+jobName+".txt", []byte(report)); err != nil {
		return fmt.Errorf("write job report %s: %w", jobName, err)
	}
	return nil
}

// relocate moves (or deletes) the audio without overwriting a different
// object at the destination. A missing source means an earlier attempt
// already did it.
func (w *Writer) relocate(ctx context.Context, audio s3util.ObjectRef, dst string) error {
	var err error
	if w.opts.DeleteAudio {
		err = w.objects.Delete(ctx, audio.Container, audio.Name)
	} else {
		err = w.objects.Move(ctx, audio.Container, audio.Name, dst, audio.Name, false)
	}
	if errors.Is(err, ingesterr.ErrObjectNotFound) {
		log.Warn().Str("file", audio.String()).Str("destination", dst).Msg("Audio already relocated, skipping move")
		return nil
	}
	if err != nil {
		return fmt.Errorf("relocate %s: %w", audio, err)
	}
	return nil
}

func (w *Writer) alreadyDone(ctx context.Context, audio s3util.ObjectRef, outcome Outcome, job string) bool {
	if w.opts.Dispositions == nil {
		return false
	}
	d, err := w.opts.Dispositions.GetDisposition(ctx, audio.Container, audio.Name)
	if err != nil {
		log.Warn().Err(err).Str("file", audio.String()).Msg("Disposition lookup failed, applying outcome")
		return false
	}
	if d != nil && d.Outcome == string(outcome) && d.Job == job {
		log.Info().Str("file", audio.String()).Str("outcome", d.Outcome).Str("job", job).Msg("Outcome already applied, skipping")
		return true
	}
	return false
}

// record stores and announces the outcome. Both are best effort: the audio
// has already been relocated.
func (w *Writer) record(ctx context.Context, audio s3util.ObjectRef, outcome Outcome, reason, job, result string) {
	if w.opts.Dispositions != nil {
		err := w.opts.Dispositions.PutDisposition(ctx, &store.Disposition{
			Container: audio.Container,
			Name:      audio.Name,
			Outcome:   string(outcome),
			Reason:    reason,
			Job:       job,
		})
		if err != nil {
			log.Warn().Err(err).Str("file", audio.String()).Msg("Failed to record disposition")
		}
	}
	if w.opts.Events != nil {
		err := w.opts.Events.PublishCompletion(ctx, events.Completion{
			Container: audio.Container,
			File:      audio.Name,
			Outcome:   string(outcome),
			Reason:    reason,
			Job:       job,
			Result:    result,
		})
		if err != nil {
			log.Warn().Err(err).Str("file", audio.String()).Msg("Failed to publish completion")
		}
	}
}
