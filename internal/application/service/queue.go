package service

import (
	"context"
	"encoding/json"
)

// Delivery is one attempt at running a job.
type Delivery struct {
	ID          string
	Name        string
	Payload     json.RawMessage
	Attempt     int
	MaxAttempts int
}

// Final reports whether a failure of this attempt exhausts the retries.
func (d Delivery) Final() bool {
	return d.Attempt >= d.MaxAttempts
}

type JobHandler func(ctx context.Context, d Delivery) error

// JobQueue delivers each job at least once.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
	Handle(name string, h JobHandler)
	Start(ctx context.Context, concurrency int) error
}
