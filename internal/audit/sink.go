// Package audit records the outcome of every verification pipeline run.
package audit

import (
	"context"
	"time"
)

// Record is one pipeline outcome.
type Record struct {
	ID            string
	ReceivedAt    time.Time
	RequestType   string
	RequestID     string
	ApplicationID string

	// Outcome is "accepted" or the pipeline error code.
	Outcome string

	Duration time.Duration
}

// OutcomeAccepted marks a request that passed the full pipeline.
const OutcomeAccepted = "accepted"

// Sink persists audit records.
type Sink interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}
