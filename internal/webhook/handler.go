// Package webhook provides the HTTP handler for speech provider callbacks.
//
// Challenge (POST, X-MicrosoftSpeechServices-Event: challenge):
//
//	The provider sends a validationToken query parameter when the webhook is
//	registered. The handler echoes it back.
//
// Event notification (POST):
//
//	The provider sends {"self": "<transcription location>"} signed with
//	X-MicrosoftSpeechServices-Signature (base64 HMAC-SHA256 of the body using
//	the shared secret). Completion events update the matching job record.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/jsonutil"
	"github.com/fpang/speech-ingestion/internal/store"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

const (
	eventHeader     = "X-MicrosoftSpeechServices-Event"
	signatureHeader = "X-MicrosoftSpeechServices-Signature"

	eventChallenge  = "challenge"
	eventCompletion = "transcriptioncompletion"
)

// JobUpdater marks jobs by provider location.
type JobUpdater interface {
	UpdateJobStatusByLocation(ctx context.Context, location, status, errMsg string) (string, error)
}

// Handler handles provider webhook callbacks.
type Handler struct {
	secret string
	jobs   JobUpdater
}

// NewHandler creates a webhook handler. secret is the value registered with
// the provider webhook; jobs may be nil, in which case events are only logged.
func NewHandler(secret string, jobs JobUpdater) *Handler {
	return &Handler{secret: secret, jobs: jobs}
}

type callbackBody struct {
	Self   string `json:"self"`
	Status string `json:"status,omitempty"`
}

// ServeHTTP dispatches to the challenge handshake or event handling.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.EqualFold(r.Header.Get(eventHeader), eventChallenge) {
		h.handleChallenge(w, r)
		return
	}
	h.handleEvent(w, r)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("validationToken")
	if token == "" {
		log.Warn().Msg("Webhook challenge missing validationToken")
		http.Error(w, "missing validationToken", http.StatusBadRequest)
		return
	}

	log.Info().Msg("Webhook challenge answered")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(token))
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook event: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body) == 0 {
		log.Warn().Msg("Webhook event: empty body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		log.Warn().Msg("Webhook event: missing signature header")
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}
	if !h.verifySignature(body, signature) {
		log.Warn().Msg("Webhook event: invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	event := r.Header.Get(eventHeader)
	cb, err := jsonutil.Parse[callbackBody](body)
	if err != nil || cb.Self == "" {
		log.Warn().Str("event", event).Msg("Webhook event: body has no transcription location")
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	log.Info().Str("event", event).Str("location", cb.Self).Msg("Webhook event received")

	if !strings.EqualFold(event, eventCompletion) || h.jobs == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	status, errMsg := store.JobCompleted, ""
	if strings.EqualFold(cb.Status, "Failed") {
		status, errMsg = store.JobFailed, "provider reported failure"
	}
	job, err := h.jobs.UpdateJobStatusByLocation(r.Context(), cb.Self, status, errMsg)
	if err != nil {
		log.Error().Err(err).Str("location", cb.Self).Msg("Webhook event: failed to update job")
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	if job == "" {
		log.Warn().Str("location", cb.Self).Msg("Webhook event for unknown job")
	} else {
		log.Info().Str("job", job).Str("status", status).Msg("Job status updated from callback")
	}
	w.WriteHeader(http.StatusOK)
}

// verifySignature compares the base64 HMAC-SHA256 of body with the header
// value using hmac.Equal.
func (h *Handler) verifySignature(body []byte, header string) bool {
	received, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}
