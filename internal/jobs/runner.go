// Package jobs runs background work out of the request path. Jobs live in
// store.JobQueue; a Worker claims them with a lease and hands them to the
// Handler registered for their kind.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

// KindAITransform is the job kind for generative image transforms.
const KindAITransform = "ai_transform"

// Runner is the submit/get-state side of the queue used by request handlers.
type Runner struct {
	queue store.JobQueue
}

func NewRunner(queue store.JobQueue) *Runner {
	return &Runner{queue: queue}
}

// Submit enqueues job and returns its id.
func (r *Runner) Submit(ctx context.Context, job models.Job) (string, error) {
	if job.Kind == "" {
		return "", fmt.Errorf("job kind is required")
	}
	queued, err := r.queue.EnqueueJob(ctx, job)
	if err != nil {
		return "", err
	}
	return queued.Id, nil
}

// GetState reports RUNNING as PENDING so callers only see PENDING, SUCCESS or FAILURE.
func (r *Runner) GetState(ctx context.Context, jobId string) (models.JobState, error) {
	job, err := r.queue.GetJob(ctx, jobId)
	if err != nil {
		return models.JobState{}, err
	}
	switch job.Status {
	case models.JobStatusSuccess:
		return models.JobState{Status: models.JobStatusSuccess, Result: job.ResultResourceId}, nil
	case models.JobStatusFailure:
		return models.JobState{Status: models.JobStatusFailure, Error: job.Error}, nil
	default:
		return models.JobState{Status: models.JobStatusPending}, nil
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so the worker fails the job instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
