package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fpang/speech-ingestion/internal/disposition"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/metrics"
	"github.com/fpang/speech-ingestion/internal/retry"
	"github.com/fpang/speech-ingestion/internal/routing"
	"github.com/fpang/speech-ingestion/internal/speech"
	"github.com/fpang/speech-ingestion/internal/store"
	"github.com/fpang/speech-ingestion/internal/testsupport"
)

const inputContainer = "audio-input"

type submission struct {
	Endpoint string
	Files    int
	Name     string
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []submission
	err   error
}

func (f *fakeProvider) SubmitTranscription(_ context.Context, req routing.TranscriptionRequest, ep routing.Endpoint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submission{Endpoint: ep.Name, Files: len(req.ContentURLs), Name: req.DisplayName})
	if f.err != nil {
		return "", f.err
	}
	return "https://" + ep.Region + ".api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions/" + req.DisplayName, nil
}

type fixture struct {
	queue    *testsupport.MemQueue
	objects  *testsupport.MemStore
	jobs     *testsupport.MemJobs
	provider *fakeProvider
	metrics  *bytes.Buffer
	orch     *Orchestrator
}

func newFixture(t *testing.T, filesPerJob int, withFallback bool) *fixture {
	t.Helper()
	f := &fixture{
		queue:    &testsupport.MemQueue{},
		objects:  testsupport.NewMemStore(),
		jobs:     testsupport.NewMemJobs(),
		provider: &fakeProvider{},
		metrics:  &bytes.Buffer{},
	}

	primary := routing.Endpoint{Name: "eastus", Region: "eastus", Key: "k1", Role: routing.RolePrimary}
	var fallback *routing.Endpoint
	if withFallback {
		fallback = &routing.Endpoint{Name: "westus", Region: "westus", Key: "k2", Role: routing.RoleFallback}
	}
	writer := disposition.NewWriter(f.objects, disposition.Containers{
		Reports: "error-reports",
		Failed:  "error-files",
	}, disposition.Options{})

	f.orch = New(Deps{
		Intake:   intake.New(f.queue, f.objects, intake.Config{InputContainer: inputContainer, DiagnosticContainer: "error-reports", Lease: 5 * time.Minute}),
		Router:   routing.NewPrimaryFallback(primary, fallback),
		Builder:  routing.NewRequestBuilder(routing.Settings{Locale: "en-US"}, f.objects),
		Provider: f.provider,
		Engine:   retry.NewEngine(f.queue, writer, retry.Policy{RetryLimit: 4, Initial: 2 * time.Minute, Max: 180 * time.Minute}),
		Jobs:     f.jobs,
		Metrics:  metrics.NewWithWriter(metrics.Namespace, f.metrics),
	}, Options{MessagesPerExecution: 32, FilesPerJob: filesPerJob})
	f.orch.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func (f *fixture) push(t *testing.T, name string, retryCount int) {
	t.Helper()
	n := intake.NewNotification("s3://" + inputContainer + "/" + name)
	n.RetryCount = retryCount
	body, err := intake.Encode(n)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f.queue.Push(string(body), time.Time{})
}

func TestRun_SubmitsAndAcks(t *testing.T) {
	f := newFixture(t, 2, false)
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		f.push(t, name, 0)
	}

	sum, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Claimed != 3 || sum.Jobs != 2 || sum.Submitted != 2 || sum.Acked != 3 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if len(f.provider.calls) != 2 || f.provider.calls[0].Files != 2 || f.provider.calls[1].Files != 1 {
		t.Errorf("unexpected submissions %+v", f.provider.calls)
	}
	for _, token := range []string{"lease-0", "lease-1", "lease-2"} {
		if !f.queue.IsAcked(token) {
			t.Errorf("expected %s acknowledged", token)
		}
	}
	if len(f.jobs.Jobs) != 2 {
		t.Errorf("expected 2 job records, got %d", len(f.jobs.Jobs))
	}
	for name, rec := range f.jobs.Jobs {
		if rec.Status != store.JobSubmitted || rec.Location == "" || rec.RunID != sum.RunID {
			t.Errorf("job %s: unexpected record %+v", name, rec)
		}
	}
}

func TestRun_RetryableFailureRequeues(t *testing.T) {
	f := newFixture(t, 10, false)
	f.provider.err = &speech.Error{Kind: speech.KindHTTPStatus, StatusCode: 503}
	f.push(t, "a.wav", 0)
	f.push(t, "b.wav", 0)

	sum, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Requeued != 2 || sum.Acked != 2 || sum.Submitted != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if len(f.queue.Enqueued) != 2 {
		t.Fatalf("expected 2 re-queued messages, got %d", len(f.queue.Enqueued))
	}
	env, err := intake.Decode(f.queue.Enqueued[0].Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.RetryCount != 1 || f.queue.Enqueued[0].Delay != 2*time.Minute {
		t.Errorf("unexpected re-queue %+v delay %v", env, f.queue.Enqueued[0].Delay)
	}
	for _, rec := range f.jobs.Jobs {
		if rec.Status != store.JobFailed || rec.Error == "" {
			t.Errorf("expected failed job record, got %+v", rec)
		}
	}
}

func TestRun_FatalFailureFailsFiles(t *testing.T) {
	f := newFixture(t, 10, false)
	f.provider.err = &speech.Error{Kind: speech.KindHTTPStatus, StatusCode: 400, Message: "InvalidModel: bad model"}
	f.push(t, "a.wav", 0)
	f.objects.Put(inputContainer, "a.wav", []byte("RIFF"))

	sum, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 1 || sum.Acked != 1 || len(f.queue.Enqueued) != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if !f.objects.Has("error-reports", "a.wav.txt") || !f.objects.Has("error-files", "a.wav") {
		t.Errorf("expected report and moved audio, store has %v", f.objects.Keys())
	}
}

func TestRun_RetriedFilesGoToFallback(t *testing.T) {
	f := newFixture(t, 10, true)
	f.push(t, "fresh.wav", 0)
	f.push(t, "retried.wav", 2)

	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.provider.calls) != 2 {
		t.Fatalf("expected 2 submissions, got %+v", f.provider.calls)
	}
	if f.provider.calls[0].Endpoint != "eastus" || f.provider.calls[1].Endpoint != "westus" {
		t.Errorf("unexpected routing %+v", f.provider.calls)
	}
}

func TestRun_InvalidNotificationDiscarded(t *testing.T) {
	f := newFixture(t, 10, false)
	f.queue.Push(`{"eventType":"ObjectCreated:Put","data":{"url":"s3://elsewhere/x.wav"},"retryCount":0}`, time.Time{})
	f.push(t, "ok.wav", 0)

	sum, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Discarded != 1 || sum.Claimed != 1 || len(f.provider.calls) != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if !f.objects.Has("error-reports", "invalid/msg-0.txt") {
		t.Errorf("expected diagnostic written, store has %v", f.objects.Keys())
	}
}

func TestRun_QueueUnreachable(t *testing.T) {
	f := newFixture(t, 10, false)
	f.queue.ReceiveErr = errors.New("connection refused")

	if _, err := f.orch.Run(context.Background()); err == nil {
		t.Fatal("expected error when the queue cannot be read")
	}
}

func TestRun_EmptyQueue(t *testing.T) {
	f := newFixture(t, 10, false)

	sum, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Jobs != 0 || len(f.provider.calls) != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestRun_RenewsLeasesOfPendingJobs(t *testing.T) {
	f := newFixture(t, 1, false)
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		f.push(t, name, 0)
	}
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time {
		clock = clock.Add(90 * time.Second)
		return clock
	}

	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Claim renews each accepted message once; the job loop renews again.
	if len(f.queue.Renewed) <= 3 {
		t.Errorf("expected renewals during the job loop, got %v", f.queue.Renewed)
	}
}

func TestRun_PacesSubmissions(t *testing.T) {
	f := newFixture(t, 1, false)
	f.push(t, "a.wav", 0)
	f.push(t, "b.wav", 0)
	var slept []time.Duration
	f.orch.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	f.orch.opts.Pacing = DefaultPacing

	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(slept) != 1 || slept[0] != DefaultPacing {
		t.Errorf("expected one pause between two submissions, got %v", slept)
	}
}

func TestRun_CancelledLeavesRemainingLeased(t *testing.T) {
	f := newFixture(t, 1, false)
	f.push(t, "a.wav", 0)
	f.push(t, "b.wav", 0)
	f.orch.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	sum, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Jobs != 1 || f.queue.IsAcked("lease-1") {
		t.Errorf("expected second job left leased, summary %+v", sum)
	}
}

func TestRun_EmitsMetrics(t *testing.T) {
	f := newFixture(t, 10, false)
	f.push(t, "a.wav", 0)

	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(f.metrics.Bytes(), &doc); err != nil {
		t.Fatalf("metrics output is not JSON: %v\n%s", err, f.metrics.String())
	}
	if doc[metrics.JobsSubmitted] != float64(1) || doc[metrics.NotificationsClaimed] != float64(1) {
		t.Errorf("unexpected metrics %v", doc)
	}
}
