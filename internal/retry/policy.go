// Package retry classifies provider failures and decides, per notification,
// whether a failed submission is re-queued with backoff or failed for good.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/ingesterr"
	"github.com/fpang/speech-ingestion/internal/intake"
	"github.com/fpang/speech-ingestion/internal/speech"
)

// maxExponent caps the doubling so the delay math never overflows.
const maxExponent = 8

// Class is the retry classification of a failure.
type Class int

const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(code int) bool { return retryableStatus[code] }

func byStatus(code int) Class {
	if IsRetryableStatus(code) {
		return Retryable
	}
	return Fatal
}

// Classify maps a submission error to a Class. Timeouts are retryable; an
// explicit provider status, or a transport error carrying one, is classified
// by status; anything else is fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	var se *speech.Error
	if errors.As(err, &se) {
		switch {
		case se.Kind == speech.KindTimeout:
			return Retryable
		case se.Kind == speech.KindHTTPStatus:
			return byStatus(se.StatusCode)
		case se.Kind == speech.KindTransport && se.StatusCode != 0:
			return byStatus(se.StatusCode)
		}
		return Fatal
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return Retryable
	}
	if errors.Is(err, ingesterr.ErrRetryableProvider) {
		return Retryable
	}
	return Fatal
}

// Policy bounds retries.
type Policy struct {
	RetryLimit int
	Initial    time.Duration
	Max        time.Duration
}

// PolicyFromConfig converts the retry config section.
func PolicyFromConfig(r config.Retry) Policy {
	return Policy{
		RetryLimit: r.Limit,
		Initial:    time.Duration(r.InitialDelayMinutes) * time.Minute,
		Max:        time.Duration(r.MaxDelayMinutes) * time.Minute,
	}
}

// Delay is the wait before the next attempt of a notification whose current
// retry count is retryCount: Initial for a first failure, otherwise
// Initial*2^min(retryCount,8) capped at Max. A zero Max caps every retry
// after the first at zero.
func Delay(retryCount int, p Policy) time.Duration {
	if retryCount <= 0 {
		return p.Initial
	}
	exp := retryCount
	if exp > maxExponent {
		exp = maxExponent
	}
	d := p.Initial * time.Duration(1<<exp)
	if d > p.Max {
		return p.Max
	}
	return d
}

// Action is what happens to a notification after a submission.
type Action int

const (
	ActionSucceed Action = iota
	ActionRequeue
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRequeue:
		return "requeue"
	case ActionFail:
		return "fail"
	default:
		return "succeed"
	}
}

// Transition is the decision for one notification.
type Transition struct {
	Action Action

	// Next is the notification to re-queue (ActionRequeue).
	Next  intake.Notification
	Delay time.Duration

	// Err is ErrRetryExhausted or ErrFatalProvider wrapping the cause (ActionFail).
	Err error
}

// Advance decides the next state of n given the submission error (nil on
// success). The delay is computed from the count before it is incremented.
func Advance(n intake.Notification, err error, p Policy) Transition {
	if err == nil {
		return Transition{Action: ActionSucceed}
	}
	if Classify(err) == Fatal {
		return Transition{Action: ActionFail, Err: errors.Join(ingesterr.ErrFatalProvider, err)}
	}
	if n.RetryCount > p.RetryLimit {
		return Transition{Action: ActionFail, Err: errors.Join(ingesterr.ErrRetryExhausted, err)}
	}

	next := intake.NewNotification(n.SourceURL)
	next.EventType = n.EventType
	next.RetryCount = n.RetryCount + 1
	return Transition{Action: ActionRequeue, Next: next, Delay: Delay(n.RetryCount, p)}
}
