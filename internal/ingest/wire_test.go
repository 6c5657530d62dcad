package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/speech"
	"github.com/fpang/speech-ingestion/internal/testsupport"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage = config.Storage{
		AudioInput:     "audio-input",
		AudioProcessed: "audio-processed",
		AudioFailed:    "audio-failed",
		ErrorFiles:     "error-files",
		ErrorReports:   "error-reports",
		JSONResults:    "json-results",
		ProviderOutput: "speech-output",
		PresignMinutes: 60,
	}
	cfg.Endpoints = []config.Endpoint{{Name: "eastus", Region: "eastus", Key: "k1", Role: config.RolePrimary}}
	return &cfg
}

func TestFromConfig_FailsToErrorFiles(t *testing.T) {
	q := &testsupport.MemQueue{}
	objects := testsupport.NewMemStore()
	provider := &fakeProvider{err: &speech.Error{Kind: speech.KindHTTPStatus, StatusCode: 401}}
	orch, err := FromConfig(testConfig(), Backends{Queue: q, Objects: objects, Provider: provider}, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	orch.sleep = func(context.Context, time.Duration) error { return nil }

	body, _ := intake.Encode(intake.NewNotification("s3://audio-input/a.wav"))
	q.Push(string(body), time.Time{})
	objects.Put("audio-input", "a.wav", []byte("RIFF"))

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !objects.Has("error-files", "a.wav") || !objects.Has("error-reports", "a.wav.txt") {
		t.Errorf("expected failure disposition, store has %v", objects.Keys())
	}
}

func TestFromConfig_NoEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoints = nil
	if _, err := FromConfig(cfg, Backends{}, nil); err == nil {
		t.Error("expected error without endpoints")
	}
}

func TestNewReconciler_UsesResultContainers(t *testing.T) {
	objects := testsupport.NewMemStore()
	objects.Put("audio-input", "a.wav", []byte("RIFF"))
	objects.Put("speech-output", "a.json", []byte(`{"source":"https://audio-input.s3.amazonaws.com/a.wav?sig=1","combinedRecognizedPhrases":[],"recognizedPhrases":[]}`))

	r := NewReconciler(testConfig(), Backends{Objects: objects})
	if err := r.Reconcile(context.Background(), "speech-output", "a.json"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !objects.Has("json-results", "a.wav.json") || !objects.Has("audio-processed", "a.wav") {
		t.Errorf("unexpected store %v", objects.Keys())
	}
}
