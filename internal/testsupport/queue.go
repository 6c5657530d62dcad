// Package testsupport provides in-memory stand-ins for the queue, object
// store and provider so pipeline tests run without AWS.
package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/speech-ingestion/internal/queue"
)

// Enqueued records one Enqueue call.
type Enqueued struct {
	Body  []byte
	Delay time.Duration
}

// MemQueue is an in-memory leased queue.
type MemQueue struct {
	mu sync.Mutex

	Pending  []queue.Message
	Enqueued []Enqueued
	Acked    []string
	Renewed  []string

	ReceiveErr error
	EnqueueErr error
}

// Push adds a message body with a lease that expires at leaseExpiry.
// A zero leaseExpiry is filled in by Receive.
func (q *MemQueue) Push(body string, leaseExpiry time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.Pending) + len(q.Acked) + len(q.Enqueued)
	q.Pending = append(q.Pending, queue.Message{
		ID:          fmt.Sprintf("msg-%d", n),
		Body:        []byte(body),
		LeaseToken:  fmt.Sprintf("lease-%d", n),
		LeaseExpiry: leaseExpiry,
	})
}

func (q *MemQueue) Receive(_ context.Context, max int, lease time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ReceiveErr != nil {
		return nil, q.ReceiveErr
	}
	if max > len(q.Pending) {
		max = len(q.Pending)
	}
	out := append([]queue.Message(nil), q.Pending[:max]...)
	q.Pending = q.Pending[max:]
	for i := range out {
		if out[i].LeaseExpiry.IsZero() {
			out[i].LeaseExpiry = time.Now().Add(lease)
		}
	}
	return out, nil
}

func (q *MemQueue) RenewLease(_ context.Context, token string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Renewed = append(q.Renewed, token)
	return nil
}

func (q *MemQueue) Ack(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Acked = append(q.Acked, token)
	return nil
}

func (q *MemQueue) Enqueue(_ context.Context, body []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.Enqueued = append(q.Enqueued, Enqueued{Body: append([]byte(nil), body...), Delay: delay})
	return nil
}

// IsAcked reports whether the token was acknowledged.
func (q *MemQueue) IsAcked(token string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.Acked {
		if t == token {
			return true
		}
	}
	return false
}
