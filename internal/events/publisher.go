// Package events publishes pipeline completion notifications to EventBridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const (
	// Source is the EventBridge source of every event.
	Source = "speech-ingestion"

	// DetailTypeCompletion marks a terminal per-file outcome.
	DetailTypeCompletion = "TranscriptionCompleted"
)

// Completion is the detail of a completion event.
type Completion struct {
	Container string    `json:"container"`
	File      string    `json:"file"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Job       string    `json:"job,omitempty"`
	Result    string    `json:"result,omitempty"`
	Time      time.Time `json:"time"`
}

type putEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends events to one bus.
type Publisher struct {
	client putEventsAPI
	bus    string
}

// NewPublisher creates a publisher for the named bus ("" is the default bus).
func NewPublisher(client *eventbridge.Client, bus string) *Publisher {
	return &Publisher{client: client, bus: bus}
}

// PublishCompletion emits one completion event.
func (p *Publisher) PublishCompletion(ctx context.Context, c Completion) error {
	if c.Time.IsZero() {
		c.Time = time.Now().UTC()
	}
	detail, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal Completion: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeCompletion),
		Detail:     aws.String(string(detail)),
	}
	if p.bus != "" {
		entry.EventBusName = aws.String(p.bus)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("file", c.File).Str("outcome", c.Outcome).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("file", c.File).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("file", c.File).Str("outcome", c.Outcome).Msg("Completion emitted to EventBridge")
	return nil
}
