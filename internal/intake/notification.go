package intake

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
)

// EventObjectCreated is the event type written for new audio objects.
const EventObjectCreated = "ObjectCreated:Put"

// Notification is one queued "audio file arrived" event, leased by the
// current invocation.
type Notification struct {
	EventType  string
	SourceURL  string
	RetryCount int
	NotBefore  time.Time

	MessageID   string
	LeaseToken  string
	LeaseExpiry time.Time
}

// Envelope is the JSON queue message body.
type Envelope struct {
	EventType  string       `json:"eventType"`
	Data       EnvelopeData `json:"data"`
	RetryCount int          `json:"retryCount"`
	NotBefore  *time.Time   `json:"notBefore,omitempty"`
}

// EnvelopeData carries the object location.
type EnvelopeData struct {
	URL string `json:"url"`
}

// NewNotification returns a first-attempt notification for an object URL.
func NewNotification(sourceURL string) Notification {
	return Notification{EventType: EventObjectCreated, SourceURL: sourceURL}
}

// Encode serializes a notification as a queue message body. Lease fields
// are not part of the wire format.
func Encode(n Notification) ([]byte, error) {
	env := Envelope{
		EventType:  n.EventType,
		Data:       EnvelopeData{URL: n.SourceURL},
		RetryCount: n.RetryCount,
	}
	if env.EventType == "" {
		env.EventType = EventObjectCreated
	}
	if !n.NotBefore.IsZero() {
		nb := n.NotBefore.UTC()
		env.NotBefore = &nb
	}
	return json.Marshal(env)
}

//go:embed envelope.schema.json
var envelopeSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse envelope schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("envelope.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add envelope schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("envelope.schema.json")
	})
	return schema, schemaErr
}

// Decode validates a queue message body against the envelope schema and
// returns the decoded envelope. Every failure wraps ErrValidation.
func Decode(body []byte) (Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Envelope{}, fmt.Errorf("empty message body: %w", ingesterr.ErrValidation)
	}

	sch, err := envelopeSchema()
	if err != nil {
		return Envelope{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Envelope{}, fmt.Errorf("message body is not JSON: %v: %w", err, ingesterr.ErrValidation)
	}
	if err := sch.Validate(inst); err != nil {
		return Envelope{}, fmt.Errorf("message body does not match envelope schema: %v: %w", err, ingesterr.ErrValidation)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %v: %w", err, ingesterr.ErrValidation)
	}
	return env, nil
}

// IsObjectCreated reports whether an event type announces a new object.
// Both S3 ("ObjectCreated:Put") and blob-style ("Microsoft.Storage.BlobCreated")
// names are accepted.
func IsObjectCreated(eventType string) bool {
	t := strings.ToLower(eventType)
	return strings.Contains(t, "objectcreated") || strings.Contains(t, "blobcreate")
}
