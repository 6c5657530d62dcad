// Package jobs groups claimed notifications into bounded transcription jobs
// and names them.
package jobs

import (
	"strconv"
	"time"

	"github.com/fpang/speech-ingestion/internal/intake"
)

// NameLayout formats the invocation start time in job names.
const NameLayout = "2006-01-02T15:04:05"

// Batch is one transcription job: an ordered group of notifications
// submitted together.
type Batch struct {
	Name          string
	Notifications []intake.Notification
}

// Name returns the job name for the ordinal-th batch of an invocation that
// started at start, e.g. "2024-05-01T10:00:00_2".
func Name(start time.Time, ordinal int) string {
	return start.Format(NameLayout) + "_" + strconv.Itoa(ordinal)
}

// Chunk splits notifications into contiguous, order-preserving batches of at
// most size items. The last batch may be smaller. A size below 1 is treated
// as 1. Chunk does not modify its input.
func Chunk(notifications []intake.Notification, size int, start time.Time) []Batch {
	if size < 1 {
		size = 1
	}
	batches := make([]Batch, 0, (len(notifications)+size-1)/size)
	for i := 0; i < len(notifications); i += size {
		end := i + size
		if end > len(notifications) {
			end = len(notifications)
		}
		group := make([]intake.Notification, end-i)
		copy(group, notifications[i:end])
		batches = append(batches, Batch{
			Name:          Name(start, len(batches)),
			Notifications: group,
		})
	}
	return batches
}
