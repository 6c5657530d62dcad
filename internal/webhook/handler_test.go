package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fpang/speech-ingestion/internal/store"
	"github.com/fpang/speech-ingestion/internal/testsupport"
)

const testSecret = "my_test_webhook_secret"

const completionBody = `{"self":"https://eastus.api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions/abc","invokedDateTime":"2024-05-01T10:05:00Z"}`

func newTestHandler() (*Handler, *testsupport.MemJobs) {
	jobs := testsupport.NewMemJobs()
	jobs.PutJob(context.Background(), &store.JobRecord{
		Name:     "2024-05-01T10:00:00_0",
		Location: "https://eastus.api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions/abc",
		Status:   store.JobSubmitted,
	})
	return NewHandler(testSecret, jobs), jobs
}

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func eventRequest(event, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body))
	req.Header.Set("X-MicrosoftSpeechServices-Event", event)
	if signature != "" {
		req.Header.Set("X-MicrosoftSpeechServices-Signature", signature)
	}
	return req
}

// --- Challenge tests ---

func TestChallenge_EchoesToken(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/callback?validationToken=abc123", nil)
	req.Header.Set("X-MicrosoftSpeechServices-Event", "challenge")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "abc123" {
		t.Errorf("expected token 'abc123', got '%s'", body)
	}
}

func TestChallenge_MissingToken(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/callback", nil)
	req.Header.Set("X-MicrosoftSpeechServices-Event", "Challenge")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// --- Event tests ---

func TestEvent_CompletionMarksJob(t *testing.T) {
	h, jobs := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", completionBody, signPayload(testSecret, completionBody)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := jobs.Jobs["2024-05-01T10:00:00_0"].Status; got != store.JobCompleted {
		t.Errorf("expected job completed, got %q", got)
	}
}

func TestEvent_FailedStatus(t *testing.T) {
	h, jobs := newTestHandler()
	body := `{"self":"https://eastus.api.cognitive.microsoft.com/speechtotext/v3.0/transcriptions/abc","status":"Failed"}`
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", body, signPayload(testSecret, body)))

	if got := jobs.Jobs["2024-05-01T10:00:00_0"].Status; got != store.JobFailed {
		t.Errorf("expected job failed, got %q", got)
	}
}

func TestEvent_OtherEventLogged(t *testing.T) {
	h, jobs := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionProcessing", completionBody, signPayload(testSecret, completionBody)))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if got := jobs.Jobs["2024-05-01T10:00:00_0"].Status; got != store.JobSubmitted {
		t.Errorf("expected job untouched, got %q", got)
	}
}

func TestEvent_UnknownJob(t *testing.T) {
	h, _ := newTestHandler()
	body := `{"self":"https://elsewhere/transcriptions/zzz"}`
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", body, signPayload(testSecret, body)))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestEvent_InvalidSignature(t *testing.T) {
	h, _ := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", completionBody, signPayload("wrong_secret", completionBody)))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestEvent_MissingSignature(t *testing.T) {
	h, _ := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", completionBody, ""))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestEvent_MalformedSignature(t *testing.T) {
	h, _ := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", completionBody, "not base64!"))

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestEvent_EmptyBody(t *testing.T) {
	h, _ := newTestHandler()
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", "", signPayload(testSecret, "")))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestEvent_NoLocation(t *testing.T) {
	h, _ := newTestHandler()
	body := `{"hello":"world"}`
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", body, signPayload(testSecret, body)))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

type failingJobs struct{}

func (failingJobs) UpdateJobStatusByLocation(context.Context, string, string, string) (string, error) {
	return "", errors.New("dynamo down")
}

func TestEvent_UpdateError(t *testing.T) {
	h := NewHandler(testSecret, failingJobs{})
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, eventRequest("TranscriptionCompletion", completionBody, signPayload(testSecret, completionBody)))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}
