package ingest

import (
	"context"
	"time"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/disposition"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/metrics"
	"github.com/fpang/speech-ingestion/internal/reconcile"
	"github.com/fpang/speech-ingestion/internal/retry"
	"github.com/fpang/speech-ingestion/internal/routing"
	"github.com/fpang/speech-ingestion/internal/store"
)

// ObjectStore is everything the pipeline needs from object storage.
type ObjectStore interface {
	disposition.ObjectStore
	routing.Presigner
	Read(ctx context.Context, container, name string) ([]byte, error)
}

// Backends are the clients a pipeline runs on. Jobs, Dispositions, Events
// and Metrics are optional and must be left nil (not a typed nil) when absent.
type Backends struct {
	Queue        intake.Queue
	Objects      ObjectStore
	Provider     Submitter
	Jobs         store.JobStore
	Dispositions store.DispositionStore
	Events       disposition.Publisher
	Metrics      *metrics.Recorder
}

// FromConfig assembles an Orchestrator for the submission stage. rnd seeds
// weighted routing and may be nil.
func FromConfig(c *config.Config, b Backends, rnd routing.Source) (*Orchestrator, error) {
	router, err := routing.FromConfig(c, rnd)
	if err != nil {
		return nil, err
	}

	// Files rejected at submission go to the error-files container; the
	// audio is never deleted at this stage.
	failures := disposition.NewWriter(b.Objects, disposition.Containers{
		Reports: c.Storage.ErrorReports,
		Failed:  c.Storage.ErrorFiles,
	}, disposition.Options{Dispositions: b.Dispositions, Events: b.Events})

	deps := Deps{
		Intake: intake.New(b.Queue, b.Objects, intake.Config{
			InputContainer:      c.Storage.AudioInput,
			DiagnosticContainer: c.Storage.ErrorReports,
			Lease:               time.Duration(c.Queue.LeaseSeconds) * time.Second,
		}),
		Router:   router,
		Builder:  routing.NewRequestBuilder(routing.SettingsFromConfig(c.Transcription), b.Objects),
		Provider: b.Provider,
		Engine:   retry.NewEngine(b.Queue, failures, retry.PolicyFromConfig(c.Retry)),
		Jobs:     b.Jobs,
		Metrics:  b.Metrics,
	}
	return New(deps, Options{
		MessagesPerExecution: c.Queue.MessagesPerExecution,
		FilesPerJob:          c.Transcription.FilesPerJob,
		Pacing:               DefaultPacing,
	}), nil
}

// NewReconciler assembles the result stage.
func NewReconciler(c *config.Config, b Backends) *reconcile.Reconciler {
	w := disposition.NewWriter(b.Objects, disposition.Containers{
		Reports:   c.Storage.ErrorReports,
		Results:   c.Storage.JSONResults,
		Processed: c.Storage.AudioProcessed,
		Failed:    c.Storage.AudioFailed,
	}, disposition.Options{
		DeleteAudio:  c.Storage.DeleteProcessedAudio,
		Dispositions: b.Dispositions,
		Events:       b.Events,
	})
	return reconcile.New(b.Objects, w, reconcile.Config{
		InputContainer:  c.Storage.AudioInput,
		DeleteArtifacts: c.Storage.DeleteArtifacts,
	})
}
