package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fpang/speech-ingestion/internal/routing"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient: server.Client(),
		baseURL:    server.URL,
	}
}

var testEndpoint = routing.Endpoint{Name: "eastus", Region: "eastus", Key: "secret-key"}

func testRequest() routing.TranscriptionRequest {
	return routing.TranscriptionRequest{
		DisplayName: "2024-05-01T10:00:00_0",
		Locale:      "en-US",
		ContentURLs: []string{"https://audio-input.s3.amazonaws.com/a.wav?sig=1"},
		Properties:  map[string]string{"PunctuationMode": "DictatedAndAutomatic"},
	}
}

func TestSubmitTranscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/speechtotext/v3.0/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "secret-key" {
			t.Errorf("missing subscription key header")
		}
		var got routing.TranscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got.DisplayName != "2024-05-01T10:00:00_0" || len(got.ContentURLs) != 1 {
			t.Errorf("unexpected request %+v", got)
		}
		w.Header().Set("Location", "https://eastus.api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions/abc")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	loc, err := newTestClient(server).SubmitTranscription(context.Background(), testRequest(), testEndpoint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "https://eastus.api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions/abc" {
		t.Errorf("unexpected location %s", loc)
	}
}

func TestSubmitTranscription_LocationFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"self":"https://x/transcriptions/def"}`))
	}))
	defer server.Close()

	loc, err := newTestClient(server).SubmitTranscription(context.Background(), testRequest(), testEndpoint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != "https://x/transcriptions/def" {
		t.Errorf("unexpected location %s", loc)
	}
}

func TestSubmitTranscription_HTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"ServiceUnavailable","message":"try later"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).SubmitTranscription(context.Background(), testRequest(), testEndpoint)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindHTTPStatus || se.StatusCode != 503 {
		t.Errorf("unexpected error %+v", se)
	}
	if se.Message != "ServiceUnavailable: try later" {
		t.Errorf("unexpected message %q", se.Message)
	}
}

func TestSubmitTranscription_NoLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	_, err := newTestClient(server).SubmitTranscription(context.Background(), testRequest(), testEndpoint)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindOther {
		t.Fatalf("expected KindOther error, got %v", err)
	}
}

func TestSubmitTranscription_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server)
	client.httpClient.Timeout = 50 * time.Millisecond

	_, err := client.SubmitTranscription(context.Background(), testRequest(), testEndpoint)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestSubmitTranscription_Transport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(server)
	server.Close()

	_, err := client.SubmitTranscription(context.Background(), testRequest(), testEndpoint)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestSubmitTranscription_Canceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	client := newTestClient(server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.SubmitTranscription(ctx, testRequest(), testEndpoint)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindCanceled {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to wrap context.Canceled, got %v", err)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	if got := truncate("héllo", 2); got != "h..." {
		t.Errorf("truncate split a rune: %q", got)
	}
	if got := truncate("hello", 3); got != "hel..." {
		t.Errorf("unexpected truncation %q", got)
	}
	if got := truncate("ok", 5); got != "ok" {
		t.Errorf("short text must be unchanged, got %q", got)
	}
}

func TestEndpointURL(t *testing.T) {
	c := NewClient()
	got := c.endpointURL(routing.Endpoint{Region: "westeurope"})
	if got != "https://westeurope.api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions" {
		t.Errorf("unexpected URL %s", got)
	}
}
