// Package store persists transcription job records and per-file
// dispositions in a single DynamoDB table.
//
// Key layout (PK / SK):
//
//	JOB#{jobName}            META          job record
//	LOCATION#{jobLocation}   JOB           provider location -> job name
//	FILE#{container}/{name}  DISPOSITION   terminal outcome of one audio file
//
// Every item carries an expiresAt TTL attribute.
package store

import (
	"context"
	"time"
)

const (
	// JobTTL bounds how long job records are kept.
	JobTTL = 30 * 24 * time.Hour

	// DispositionTTL bounds how long per-file outcomes are remembered for
	// idempotent reconciliation.
	DispositionTTL = 7 * 24 * time.Hour
)

// Job status values.
const (
	JobSubmitted = "submitted"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobRecord describes one submitted transcription job.
type JobRecord struct {
	Name        string   `json:"name" dynamodbav:"-"` // Derived from PK
	RunID       string   `json:"runId,omitempty" dynamodbav:"runId,omitempty"`
	Endpoint    string   `json:"endpoint" dynamodbav:"endpoint"`
	Region      string   `json:"region" dynamodbav:"region"`
	Files       []string `json:"files" dynamodbav:"files"`
	Location    string   `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Status      string   `json:"status" dynamodbav:"status"`
	Error       string   `json:"error,omitempty" dynamodbav:"error,omitempty"`
	SubmittedAt int64    `json:"submittedAt" dynamodbav:"submittedAt"`
	UpdatedAt   int64    `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`
}

// Disposition records the terminal outcome of one audio file.
type Disposition struct {
	Container  string `json:"container" dynamodbav:"-"` // Derived from PK
	Name       string `json:"name" dynamodbav:"-"`      // Derived from PK
	Outcome    string `json:"outcome" dynamodbav:"outcome"`
	Reason     string `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	Job        string `json:"job,omitempty" dynamodbav:"job,omitempty"`
	RecordedAt int64  `json:"recordedAt" dynamodbav:"recordedAt"`
}

// JobStore persists job records.
//
// Get methods return (nil, nil) when the record does not exist.
type JobStore interface {
	PutJob(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, name string) (*JobRecord, error)

	// UpdateJobStatusByLocation sets the status of the job submitted at the
	// given provider location and returns its name, or "" if no job is
	// known for that location.
	UpdateJobStatusByLocation(ctx context.Context, location, status, errMsg string) (string, error)
}

// DispositionStore remembers per-file outcomes.
type DispositionStore interface {
	GetDisposition(ctx context.Context, container, name string) (*Disposition, error)
	PutDisposition(ctx context.Context, d *Disposition) error
}
