package reconcile

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/fpang/speech-ingestion/internal/disposition"
	"github.com/fpang/speech-ingestion/internal/ingesterr"
	"github.com/fpang/speech-ingestion/internal/s3util"
	"github.com/fpang/speech-ingestion/internal/testsupport"
)

const (
	outputContainer = "speech-output"
	inputContainer  = "audio-input"
)

const transcriptJSON = `{
  "source": "https://audio-input.s3.us-east-1.amazonaws.com/audio1.wav?X-Amz-Signature=abc",
  "timestamp": "2024-05-01T10:05:00Z",
  "combinedRecognizedPhrases": [{"channel": 0, "display": "Hello world."}],
  "recognizedPhrases": []
}`

func newFixture(opts disposition.Options, deleteArtifacts bool) (*Reconciler, *testsupport.MemStore) {
	s := testsupport.NewMemStore()
	w := disposition.NewWriter(s, disposition.Containers{
		Reports:   "error-reports",
		Results:   "json-results",
		Processed: "audio-processed",
		Failed:    "audio-failed",
	}, opts)
	return New(s, w, Config{InputContainer: inputContainer, DeleteArtifacts: deleteArtifacts}), s
}

// Scenario C: a transcript for audio1.wav lands as audio1.wav.json and the
// audio moves to the processed container.
func TestReconcile_Transcript(t *testing.T) {
	r, s := newFixture(disposition.Options{}, false)
	s.Put(outputContainer, "job/audio1.wav_0.json", []byte(transcriptJSON))
	s.Put(inputContainer, "audio1.wav", []byte("RIFF"))

	if err := r.Reconcile(context.Background(), outputContainer, "job/audio1.wav_0.json"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if s.Get("json-results", "audio1.wav.json") != transcriptJSON {
		t.Errorf("expected transcript copied verbatim, store has %v", s.Keys())
	}
	if s.Has(inputContainer, "audio1.wav") || !s.Has("audio-processed", "audio1.wav") {
		t.Errorf("expected audio moved, store has %v", s.Keys())
	}
	if !s.Has(outputContainer, "job/audio1.wav_0.json") {
		t.Error("expected artifact kept when deletion disabled")
	}
	if r.Stats().Transcripts != 1 {
		t.Errorf("unexpected stats %+v", r.Stats())
	}
}

func TestReconcile_DeletesArtifact(t *testing.T) {
	r, s := newFixture(disposition.Options{}, true)
	s.Put(outputContainer, "t.json", []byte(transcriptJSON))
	s.Put(inputContainer, "audio1.wav", []byte("RIFF"))

	if err := r.Reconcile(context.Background(), outputContainer, "t.json"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if s.Has(outputContainer, "t.json") {
		t.Error("expected artifact deleted")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	r, s := newFixture(disposition.Options{}, false)
	s.Put(outputContainer, "t.json", []byte(transcriptJSON))
	s.Put(inputContainer, "audio1.wav", []byte("RIFF"))
	ctx := context.Background()

	if err := r.Reconcile(ctx, outputContainer, "t.json"); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	first := s.Keys()
	if err := r.Reconcile(ctx, outputContainer, "t.json"); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !reflect.DeepEqual(first, s.Keys()) {
		t.Errorf("state changed on replay: %v -> %v", first, s.Keys())
	}
}

func TestReconcile_IdempotentWithDispositions(t *testing.T) {
	d := testsupport.NewMemDispositions()
	r, s := newFixture(disposition.Options{Dispositions: d}, false)
	s.Put(outputContainer, "t.json", []byte(transcriptJSON))
	s.Put(inputContainer, "audio1.wav", []byte("RIFF"))
	ctx := context.Background()

	r.Reconcile(ctx, outputContainer, "t.json")
	before := s.Mutations()
	if err := r.Reconcile(ctx, outputContainer, "t.json"); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if s.Mutations() != before {
		t.Errorf("expected replay skipped, mutations %d -> %d", before, s.Mutations())
	}
}

func TestReconcile_ZeroFailureReport(t *testing.T) {
	r, s := newFixture(disposition.Options{}, false)
	s.Put(outputContainer, "report.json", []byte(`{"successfulTranscriptionsCount":3,"failedTranscriptionsCount":0,"details":[]}`))

	if err := r.Reconcile(context.Background(), outputContainer, "report.json"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if s.Mutations() != 0 {
		t.Errorf("expected no writes or moves, got %d", s.Mutations())
	}
}

func TestReconcile_FailureReport(t *testing.T) {
	r, s := newFixture(disposition.Options{}, false)
	s.Put(inputContainer, "bad.wav", []byte("RIFF"))
	s.Put(inputContainer, "other.wav", []byte("RIFF"))
	s.Put(outputContainer, "report.json", []byte(`{
	  "successfulTranscriptionsCount": 1,
	  "failedTranscriptionsCount": 2,
	  "details": [
	    {"source": "https://audio-input.s3.amazonaws.com/bad.wav?sig=1", "status": "Failed", "errorKind": "InvalidData", "errorMessage": "Audio format not supported"},
	    {"source": "https://audio-input.s3.amazonaws.com/other.wav?sig=1", "status": "failed"},
	    {"source": "https://audio-input.s3.amazonaws.com/good.wav?sig=1", "status": "Succeeded"}
	  ]
	}`))

	if err := r.Reconcile(context.Background(), outputContainer, "report.json"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := `Transcription bad.wav in container audio-input failed with error "Audio format not supported" (InvalidData).`
	if got := s.Get("error-reports", "bad.wav.txt"); got != want {
		t.Errorf("unexpected report:\n got %q\nwant %q", got, want)
	}
	if got := s.Get("error-reports", "other.wav.txt"); !strings.Contains(got, `"Unknown" (Unknown)`) {
		t.Errorf("expected Unknown defaults, got %q", got)
	}
	if !s.Has("audio-failed", "bad.wav") || !s.Has("audio-failed", "other.wav") {
		t.Errorf("expected failed audio moved, store has %v", s.Keys())
	}
	if s.Has("error-reports", "good.wav.txt") {
		t.Error("succeeded entry must not be reported")
	}
	if r.Stats().ReportFailures != 2 {
		t.Errorf("unexpected stats %+v", r.Stats())
	}
}

func TestReconcile_WriteFailureAbortsMove(t *testing.T) {
	r, s := newFixture(disposition.Options{}, true)
	s.Put(outputContainer, "t.json", []byte(transcriptJSON))
	s.Put(inputContainer, "audio1.wav", []byte("RIFF"))
	s.WriteErr["json-results/audio1.wav.json"] = errors.New("denied")

	if err := r.Reconcile(context.Background(), outputContainer, "t.json"); err == nil {
		t.Fatal("expected write error")
	}
	if !s.Has(inputContainer, "audio1.wav") {
		t.Error("expected audio left in input")
	}
	if !s.Has(outputContainer, "t.json") {
		t.Error("expected artifact kept after failure")
	}
}

func TestReconcile_UnknownShape(t *testing.T) {
	for _, body := range []string{`{"hello":"world"}`, `[1,2]`, `not json`, `{"successfulTranscriptionsCount":"3","failedTranscriptionsCount":1}`,
		`{"successfulTranscriptionsCount":null,"failedTranscriptionsCount":0}`} {
		r, s := newFixture(disposition.Options{}, true)
		s.Put(outputContainer, "x.json", []byte(body))

		err := r.Reconcile(context.Background(), outputContainer, "x.json")
		if !errors.Is(err, ingesterr.ErrReconciliationFormat) {
			t.Errorf("%s: expected format error, got %v", body, err)
		}
		if !s.Has(outputContainer, "x.json") || s.Mutations() != 0 {
			t.Errorf("%s: expected artifact untouched", body)
		}
	}
}

func TestReconcile_MissingArtifact(t *testing.T) {
	r, _ := newFixture(disposition.Options{}, false)
	err := r.Reconcile(context.Background(), outputContainer, "gone.json")
	if !errors.Is(err, ingesterr.ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailureMessage(t *testing.T) {
	got := FailureMessage(s3util.ObjectRef{Container: "c", Name: "f.wav"}, ReportDetail{ErrorMessage: "m"})
	if got != `Transcription f.wav in container c failed with error "m" (Unknown).` {
		t.Errorf("unexpected message %q", got)
	}
}
