// Package speech is a client for the batch speech-to-text REST API (v3.0).
//
// Only job submission is needed by the pipeline: the provider writes results
// to the configured output bucket, where the reconciler picks them up. Every
// failure is returned as *Error so callers can classify it without parsing
// messages.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/routing"
)

const (
	// postTimeout bounds a single submission call.
	postTimeout = time.Minute

	transcriptionsPath = "/speechtotext/v3.0/transcriptions"

	keyHeader = "Ocp-Apim-Subscription-Key"
)

// Client submits transcription jobs.
type Client struct {
	httpClient *http.Client
	// baseURL replaces the per-region host when set (tests).
	baseURL string
}

// NewClient creates a speech client.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}}
}

// Kind describes how a call failed.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindHTTPStatus
	KindTransport
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http-status"
	case KindTransport:
		return "transport"
	case KindCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// Error is a tagged provider failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("speech %s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("speech %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// apiError is the provider's error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *apiError `json:"error,omitempty"`
}

type transcriptionResponse struct {
	Self string `json:"self"`
}

func (c *Client) endpointURL(ep routing.Endpoint) string {
	if c.baseURL != "" {
		return c.baseURL + transcriptionsPath
	}
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com%s", ep.Region, transcriptionsPath)
}

// SubmitTranscription posts a transcription job to the endpoint and returns
// the job location reported by the provider.
func (c *Client) SubmitTranscription(ctx context.Context, req routing.TranscriptionRequest, ep routing.Endpoint) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Kind: KindOther, Message: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	target := c.endpointURL(ep)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindOther, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(keyHeader, ep.Key)

	log.Debug().Str("endpoint", ep.Name).Str("job", req.DisplayName).Int("files", len(req.ContentURLs)).
		Msg("Submitting transcription")
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Speech API response")
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()
	log.Debug().Int("statusCode", resp.StatusCode).Dur("duration", duration).Msg("Speech API response")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(string(body), 200)
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != nil && er.Error.Message != "" {
			msg = er.Error.Message
			if er.Error.Code != "" {
				msg = er.Error.Code + ": " + msg
			}
		}
		log.Warn().Str("endpoint", ep.Name).Int("statusCode", resp.StatusCode).Str("message", msg).
			Msg("Speech API rejected submission")
		return "", &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Message: msg}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		var tr transcriptionResponse
		if json.Unmarshal(body, &tr) == nil {
			location = tr.Self
		}
	}
	if location == "" {
		return "", &Error{Kind: KindOther, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("no job location in response (body: %s)", truncate(string(body), 200))}
	}

	log.Info().Str("endpoint", ep.Name).Str("job", req.DisplayName).Str("location", location).
		Msg("Transcription submitted")
	return location, nil
}

// classifyTransportError tags errors raised before a status was received.
func classifyTransportError(err error) *Error {
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()):
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// truncate returns at most n bytes of s, cut on a rune boundary, appending
// "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
