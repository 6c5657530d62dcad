package disposition

import (
	"context"
	"errors"
	"testing"

	"github.com/fpang/speech-ingestion/internal/s3util"
	"github.com/fpang/speech-ingestion/internal/testsupport"
)

var testContainers = Containers{
	Reports:   "error-reports",
	Results:   "json-results",
	Processed: "audio-processed",
	Failed:    "audio-failed",
}

var audio1 = s3util.ObjectRef{Container: "audio-input", Name: "audio1.wav"}

func TestSucceed_WritesThenMoves(t *testing.T) {
	s := testsupport.NewMemStore()
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	ev := &testsupport.MemEvents{}
	w := NewWriter(s, testContainers, Options{Events: ev})

	if err := w.Succeed(context.Background(), audio1, []byte(`{"source":"x"}`), "job_0"); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if s.Get("json-results", "audio1.wav.json") != `{"source":"x"}` {
		t.Errorf("expected transcript written, store has %v", s.Keys())
	}
	if s.Has("audio-input", "audio1.wav") || !s.Has("audio-processed", "audio1.wav") {
		t.Errorf("expected audio moved to processed, store has %v", s.Keys())
	}
	if len(ev.Completions) != 1 || ev.Completions[0].Outcome != "succeeded" {
		t.Errorf("expected one succeeded completion, got %+v", ev.Completions)
	}
}

func TestFail_WritesReportThenMoves(t *testing.T) {
	s := testsupport.NewMemStore()
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	w := NewWriter(s, testContainers, Options{})

	if err := w.Fail(context.Background(), audio1, "bad audio", "job_0"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if s.Get("error-reports", "audio1.wav.txt") != "bad audio" {
		t.Errorf("expected report written, store has %v", s.Keys())
	}
	if !s.Has("audio-failed", "audio1.wav") {
		t.Errorf("expected audio moved to failed, store has %v", s.Keys())
	}
}

func TestFail_WriteErrorKeepsAudio(t *testing.T) {
	s := testsupport.NewMemStore()
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	s.WriteErr["error-reports/audio1.wav.txt"] = errors.New("denied")
	w := NewWriter(s, testContainers, Options{})

	if err := w.Fail(context.Background(), audio1, "bad audio", "job_0"); err == nil {
		t.Fatal("expected write error")
	}
	if !s.Has("audio-input", "audio1.wav") || len(s.Moves) != 0 {
		t.Errorf("expected audio untouched, moves=%v", s.Moves)
	}
}

func TestDeleteAudio(t *testing.T) {
	s := testsupport.NewMemStore()
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	w := NewWriter(s, testContainers, Options{DeleteAudio: true})

	if err := w.Succeed(context.Background(), audio1, []byte("{}"), ""); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if s.Has("audio-input", "audio1.wav") || s.Has("audio-processed", "audio1.wav") {
		t.Errorf("expected audio deleted, store has %v", s.Keys())
	}
	if len(s.Deletes) != 1 {
		t.Errorf("expected one delete, got %v", s.Deletes)
	}
}

func TestMissingSourceIsNoop(t *testing.T) {
	s := testsupport.NewMemStore()
	w := NewWriter(s, testContainers, Options{})
	if err := w.Succeed(context.Background(), audio1, []byte("{}"), ""); err != nil {
		t.Fatalf("expected missing source tolerated, got %v", err)
	}
}

func TestDispositionStoreSkipsRepeat(t *testing.T) {
	s := testsupport.NewMemStore()
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	d := testsupport.NewMemDispositions()
	w := NewWriter(s, testContainers, Options{Dispositions: d})
	ctx := context.Background()

	if err := w.Succeed(ctx, audio1, []byte("{}"), "job_0"); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	before := s.Mutations()
	if err := w.Succeed(ctx, audio1, []byte("{}"), "job_0"); err != nil {
		t.Fatalf("second Succeed: %v", err)
	}
	if s.Mutations() != before {
		t.Errorf("expected repeat skipped, mutations %d -> %d", before, s.Mutations())
	}
	if d.Puts != 1 {
		t.Errorf("expected one disposition recorded, got %d", d.Puts)
	}
}

func TestDispositionStore_ReuploadFromNewJob(t *testing.T) {
	s := testsupport.NewMemStore()
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	d := testsupport.NewMemDispositions()
	w := NewWriter(s, testContainers, Options{Dispositions: d})
	ctx := context.Background()

	if err := w.Succeed(ctx, audio1, []byte(`{"take":1}`), "t1.json"); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	s.Put("audio-input", "audio1.wav", []byte("RIFF"))
	if err := w.Succeed(ctx, audio1, []byte(`{"take":2}`), "t2.json"); err != nil {
		t.Fatalf("second Succeed: %v", err)
	}
	if got := s.Get("json-results", "audio1.wav.json"); got != `{"take":2}` {
		t.Errorf("expected second transcript stored, got %s", got)
	}
	if s.Has("audio-input", "audio1.wav") {
		t.Errorf("expected re-uploaded audio moved out of input, store has %v", s.Keys())
	}
	if d.Puts != 2 {
		t.Errorf("expected two dispositions recorded, got %d", d.Puts)
	}
}

func TestWriteJobReport(t *testing.T) {
	s := testsupport.NewMemStore()
	w := NewWriter(s, testContainers, Options{})
	if err := w.WriteJobReport(context.Background(), "2024-05-01T10:00:00_0", "rejected"); err != nil {
		t.Fatalf("WriteJobReport: %v", err)
	}
	if s.Get("error-reports", "jobs/2024-05-01T10:00:00_0.txt") != "rejected" {
		t.Errorf("expected job report, store has %v", s.Keys())
	}
}
