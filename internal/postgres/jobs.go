package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
)

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var status string
	var lockedUntil sql.NullTime
	err := row.Scan(&job.Id, &job.Kind, &job.AccountId, &job.ResourceId, &job.ResultResourceId,
		&status, &job.Error, &job.Attempts, &job.AvailableAt, &job.LockedBy, &lockedUntil,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if lockedUntil.Valid {
		job.LockedUntil = lockedUntil.Time
	}
	return &job, nil
}

func (s *Service) EnqueueJob(ctx context.Context, job models.Job) (*models.Job, error) {
	now := time.Now().UTC()
	if job.Id == "" {
		job.Id = uuid.New().String()
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	job.Status = models.JobStatusPending
	job.CreatedAt, job.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.Id, job.Kind, job.AccountId, job.ResourceId, job.ResultResourceId, job.AvailableAt, now)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return &job, nil
}

func (s *Service) GetJob(ctx context.Context, jobId string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, jobId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ClaimJob(ctx context.Context, workerId string, lease time.Duration) (*models.Job, error) {
	now := time.Now().UTC()
	job, err := scanJob(s.db.QueryRowContext(ctx, queryClaimJob, workerId, now.Add(lease), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (s *Service) CompleteJob(ctx context.Context, jobId, resultResourceId string) error {
	return s.transitionJob(ctx, jobId, queryCompleteJob, resultResourceId, time.Now().UTC(), jobId)
}

func (s *Service) FailJob(ctx context.Context, jobId, message string) error {
	return s.transitionJob(ctx, jobId, queryFailJob, message, time.Now().UTC(), jobId)
}

func (s *Service) RetryJob(ctx context.Context, jobId, message string, availableAt time.Time) error {
	return s.transitionJob(ctx, jobId, queryRetryJob, message, availableAt.UTC(), time.Now().UTC(), jobId)
}

func (s *Service) transitionJob(ctx context.Context, jobId, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, jobId)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", store.ErrJobStateConflict, jobId, job.Status)
}

func (s *Service) RequeueExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryRequeueExpiredJobs, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired jobs: %w", err)
	}
	return result.RowsAffected()
}

func (s *Service) RegisterHandle(ctx context.Context, handle models.JobHandle) error {
	_, err := s.db.ExecContext(ctx, queryUpsertHandle,
		handle.AccountId, handle.ResourceId, handle.JobId, handle.CreatedAt.UTC(), handle.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to register job handle: %w", err)
	}
	return nil
}

func (s *Service) GetHandle(ctx context.Context, accountId, resourceId string) (*models.JobHandle, error) {
	var h models.JobHandle
	err := s.db.QueryRowContext(ctx, queryGetHandle, accountId, resourceId).
		Scan(&h.AccountId, &h.ResourceId, &h.JobId, &h.CreatedAt, &h.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrHandleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job handle: %w", err)
	}
	return &h, nil
}

func (s *Service) DeleteHandle(ctx context.Context, accountId, resourceId string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteHandle, accountId, resourceId); err != nil {
		return fmt.Errorf("failed to delete job handle: %w", err)
	}
	return nil
}

func (s *Service) DeleteExpiredHandles(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryDeleteExpiredHandles, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired job handles: %w", err)
	}
	return result.RowsAffected()
}

func (s *Service) RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, queryRecordPaymentEvent,
		event.Provider, event.ProviderEventId, event.AccountId, event.CreditAmount,
		event.Outcome, event.Detail, event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	return nil
}
