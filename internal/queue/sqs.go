// Package queue adapts Amazon SQS to the leased-queue operations the intake
// stage needs. A receive with a visibility timeout is the lease, changing the
// visibility renews it, deleting the message acknowledges it, and a delayed
// send re-enqueues it.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/ingesterr"
)

const (
	// MaxDelay is the longest delivery delay SQS supports. Longer delays are
	// carried in the message envelope and re-deferred on receipt.
	MaxDelay = 15 * time.Minute

	// maxBatch is the SQS ReceiveMessage limit per call.
	maxBatch = 10

	// waitSeconds is the long-poll wait for the first receive of a claim.
	waitSeconds = 5
)

// Message is one leased queue message.
type Message struct {
	ID          string
	Body        []byte
	LeaseToken  string
	LeaseExpiry time.Time
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue is a leased queue backed by one SQS queue URL.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	now      func() time.Time
}

// NewSQSQueue creates an SQSQueue for the given queue URL.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, now: time.Now}
}

// URL returns the queue URL.
func (q *SQSQueue) URL() string { return q.queueURL }

// Receive claims up to max messages under a lease of the given length.
// It pages through SQS in batches of ten and stops early once the queue
// returns an empty batch.
func (q *SQSQueue) Receive(ctx context.Context, max int, lease time.Duration) ([]Message, error) {
	var out []Message
	wait := int32(waitSeconds)
	for len(out) < max {
		n := max - len(out)
		if n > maxBatch {
			n = maxBatch
		}
		received := q.now()
		resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: int32(n),
			VisibilityTimeout:   int32(lease / time.Second),
			WaitTimeSeconds:     wait,
		})
		if err != nil {
			if len(out) > 0 {
				log.Warn().Err(err).Int("claimed", len(out)).Msg("SQS receive failed mid-claim, keeping messages already leased")
				return out, nil
			}
			return nil, fmt.Errorf("SQS ReceiveMessage: %v: %w", err, ingesterr.ErrStorage)
		}
		if len(resp.Messages) == 0 {
			break
		}
		for _, m := range resp.Messages {
			out = append(out, Message{
				ID:          aws.ToString(m.MessageId),
				Body:        []byte(aws.ToString(m.Body)),
				LeaseToken:  aws.ToString(m.ReceiptHandle),
				LeaseExpiry: received.Add(lease),
			})
		}
		// Only the first call long-polls; later pages drain what is visible.
		wait = 0
	}
	log.Debug().Int("requested", max).Int("received", len(out)).Msg("Messages received")
	return out, nil
}

// RenewLease extends the lease of a received message.
func (q *SQSQueue) RenewLease(ctx context.Context, token string, lease time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(token),
		VisibilityTimeout: int32(lease / time.Second),
	})
	if err != nil {
		return fmt.Errorf("SQS ChangeMessageVisibility: %v: %w", err, ingesterr.ErrStorage)
	}
	return nil
}

// Ack deletes a received message.
func (q *SQSQueue) Ack(ctx context.Context, token string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(token),
	})
	if err != nil {
		return fmt.Errorf("SQS DeleteMessage: %v: %w", err, ingesterr.ErrStorage)
	}
	return nil
}

// Enqueue sends a new message visible after delay, capped at MaxDelay.
func (q *SQSQueue) Enqueue(ctx context.Context, body []byte, delay time.Duration) error {
	if delay > MaxDelay {
		delay = MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	resp, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("SQS SendMessage: %v: %w", err, ingesterr.ErrStorage)
	}
	log.Debug().Str("messageId", aws.ToString(resp.MessageId)).Dur("delay", delay).Msg("Message enqueued")
	return nil
}
