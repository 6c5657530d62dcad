// Package reconcile turns provider result artifacts into per-file outcomes.
//
// The provider writes two kinds of JSON artifact to its output bucket: one
// transcript per audio file and one report per job. A transcript is copied
// to the results container and its audio marked processed; a report's failed
// entries get a diagnostic and their audio marked failed.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
	"github.com/fpang/speech-ingestion/internal/jsonutil"
	"github.com/fpang/speech-ingestion/internal/s3util"
)

const unknown = "Unknown"

// JobReport is the provider's per-job summary.
type JobReport struct {
	SuccessfulTranscriptionsCount int            `json:"successfulTranscriptionsCount"`
	FailedTranscriptionsCount     int            `json:"failedTranscriptionsCount"`
	Details                       []ReportDetail `json:"details"`
}

// ReportDetail is one file's entry in a JobReport.
type ReportDetail struct {
	Source       string `json:"source"`
	Status       string `json:"status"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ObjectStore reads and removes artifacts.
type ObjectStore interface {
	Read(ctx context.Context, container, name string) ([]byte, error)
	Delete(ctx context.Context, container, name string) error
}

// Disposer applies per-file outcomes.
type Disposer interface {
	Succeed(ctx context.Context, audio s3util.ObjectRef, transcript []byte, job string) error
	Fail(ctx context.Context, audio s3util.ObjectRef, report, job string) error
}

// Config holds reconciler settings.
type Config struct {
	// InputContainer is where audio awaiting a result lives.
	InputContainer string
	// DeleteArtifacts removes recognized artifacts once handled.
	DeleteArtifacts bool
}

// Stats counts outcomes across Reconcile calls.
type Stats struct {
	Transcripts    int
	ReportFailures int
	Unrecognized   int
}

// Reconciler handles result artifacts.
type Reconciler struct {
	objects  ObjectStore
	disposer Disposer
	cfg      Config
	stats    Stats
}

// New creates a Reconciler.
func New(objects ObjectStore, disposer Disposer, cfg Config) *Reconciler {
	return &Reconciler{objects: objects, disposer: disposer, cfg: cfg}
}

// Stats returns the running totals.
func (r *Reconciler) Stats() Stats { return r.stats }

type shape int

const (
	shapeUnknown shape = iota
	shapeReport
	shapeTranscript
)

// sniff identifies the artifact kind from its top-level keys.
func sniff(fields map[string]json.RawMessage) shape {
	if isInt(fields["successfulTranscriptionsCount"]) && isInt(fields["failedTranscriptionsCount"]) {
		return shapeReport
	}
	_, hasSource := fields["source"]
	_, hasCombined := fields["combinedRecognizedPhrases"]
	_, hasPhrases := fields["recognizedPhrases"]
	if hasSource && hasCombined && hasPhrases {
		return shapeTranscript
	}
	return shapeUnknown
}

// isInt reports whether raw is a JSON integer. null decodes into an int
// without error, so it is rejected first.
func isInt(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var n int
	return json.Unmarshal(raw, &n) == nil
}

// Reconcile processes one artifact. An artifact of unrecognized shape is
// left in place and reported as ErrReconciliationFormat.
func (r *Reconciler) Reconcile(ctx context.Context, container, name string) error {
	data, err := r.objects.Read(ctx, container, name)
	if err != nil {
		return fmt.Errorf("read artifact %s/%s: %w", container, name, err)
	}

	data = jsonutil.Clean(data)

	fields, err := jsonutil.Parse[map[string]json.RawMessage](data)
	if err != nil {
		r.stats.Unrecognized++
		log.Error().Err(err).Str("container", container).Str("artifact", name).Msg("Result artifact is not a JSON object")
		return fmt.Errorf("artifact %s/%s: %v: %w", container, name, err, ingesterr.ErrReconciliationFormat)
	}

	switch sniff(fields) {
	case shapeReport:
		report, err := jsonutil.Parse[JobReport](data)
		if err != nil {
			return fmt.Errorf("artifact %s/%s: %v: %w", container, name, err, ingesterr.ErrReconciliationFormat)
		}
		log.Info().Str("artifact", name).Int("succeeded", report.SuccessfulTranscriptionsCount).
			Int("failed", report.FailedTranscriptionsCount).Msg("Received job report")
		if err := r.processReport(ctx, report, name); err != nil {
			return err
		}

	case shapeTranscript:
		var source string
		if err := json.Unmarshal(fields["source"], &source); err != nil {
			return fmt.Errorf("artifact %s/%s: source: %v: %w", container, name, err, ingesterr.ErrReconciliationFormat)
		}
		if err := r.processTranscript(ctx, source, data, name); err != nil {
			return err
		}

	default:
		r.stats.Unrecognized++
		log.Error().Str("container", container).Str("artifact", name).Msg("Unexpected result file format, leaving artifact for investigation")
		return fmt.Errorf("artifact %s/%s: %w", container, name, ingesterr.ErrReconciliationFormat)
	}

	if r.cfg.DeleteArtifacts {
		if err := r.objects.Delete(ctx, container, name); err != nil {
			return fmt.Errorf("delete artifact %s/%s: %w", container, name, err)
		}
		log.Debug().Str("container", container).Str("artifact", name).Msg("Provider artifact deleted")
	}
	return nil
}

func (r *Reconciler) processTranscript(ctx context.Context, source string, data []byte, artifact string) error {
	ref, err := s3util.ParseObjectURL(source)
	if err != nil {
		return fmt.Errorf("transcript %s: %w", artifact, err)
	}
	audio := s3util.ObjectRef{Container: r.cfg.InputContainer, Name: ref.Name}
	if err := r.disposer.Succeed(ctx, audio, data, artifact); err != nil {
		return fmt.Errorf("transcript %s: %w", artifact, err)
	}
	r.stats.Transcripts++
	return nil
}

// processReport fails every detail whose status is "Failed". Successful
// entries are handled through their own transcript artifacts.
func (r *Reconciler) processReport(ctx context.Context, report JobReport, artifact string) error {
	if report.FailedTranscriptionsCount == 0 {
		return nil
	}

	var errs []error
	for _, d := range report.Details {
		if !strings.EqualFold(d.Status, "Failed") {
			continue
		}
		ref, err := s3util.ParseObjectURL(d.Source)
		if err != nil {
			log.Warn().Err(err).Str("artifact", artifact).Str("source", d.Source).Msg("Skipping report entry without a usable source")
			continue
		}

		msg := FailureMessage(ref, d)
		log.Warn().Str("artifact", artifact).Msg(msg)

		audio := s3util.ObjectRef{Container: r.cfg.InputContainer, Name: ref.Name}
		if err := r.disposer.Fail(ctx, audio, msg, artifact); err != nil {
			errs = append(errs, err)
			continue
		}
		r.stats.ReportFailures++
	}
	if len(errs) > 0 {
		return fmt.Errorf("report %s: %w", artifact, errors.Join(errs...))
	}
	return nil
}

// FailureMessage renders the diagnostic for one failed report entry.
func FailureMessage(ref s3util.ObjectRef, d ReportDetail) string {
	msg, kind := d.ErrorMessage, d.ErrorKind
	if msg == "" {
		msg = unknown
	}
	if kind == "" {
		kind = unknown
	}
	return fmt.Sprintf("Transcription %s in container %s failed with error \"%s\" (%s).", ref.Name, ref.Container, msg, kind)
}
