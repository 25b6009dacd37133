/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var status string
	var availableAt, lockedUntil, createdAt, updatedAt int64
	err := row.Scan(&job.Id, &job.Kind, &job.AccountId, &job.ResourceId, &job.ResultResourceId,
		&status, &job.Error, &job.Attempts, &availableAt, &job.LockedBy, &lockedUntil,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	job.AvailableAt = fromMillis(availableAt)
	job.LockedUntil = fromMillis(lockedUntil)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return &job, nil
}

// EnqueueJob stores a new PENDING job
func (s *Service) EnqueueJob(ctx context.Context, job models.Job) (*models.Job, error) {
	now := time.Now().UTC()
	if job.Id == "" {
		job.Id = uuid.New().String()
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, queryInsertJob,
		job.Id, job.Kind, job.AccountId, job.ResourceId, job.ResultResourceId, string(job.Status),
		toMillis(job.AvailableAt), toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	zap.L().Info("Job enqueued",
		zap.String("job_id", job.Id),
		zap.String("kind", job.Kind),
		zap.String("account_id", job.AccountId),
		zap.String("resource_id", job.ResourceId))
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

// ClaimJob leases the next available job to workerId. It returns nil, nil when
// the queue has nothing ready.
func (s *Service) ClaimJob(ctx context.Context, workerId string, lease time.Duration) (*models.Job, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	var jobId string
	err = tx.QueryRowContext(ctx, queryNextAvailableJob, toMillis(now)).Scan(&jobId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next job: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryLeaseJob, workerId, toMillis(now.Add(lease)), toMillis(now), jobId)
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return nil, nil
	}

	job, err := scanJob(tx.QueryRowContext(ctx, queryGetJob, jobId))
	if err != nil {
		return nil, fmt.Errorf("failed to read leased job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job lease: %w", err)
	}
	return job, nil
}

func (s *Service) CompleteJob(ctx context.Context, jobId, resultResourceId string) error {
	return s.transitionJob(ctx, jobId, queryCompleteJob, resultResourceId, toMillis(time.Now().UTC()), jobId)
}

func (s *Service) FailJob(ctx context.Context, jobId, message string) error {
	return s.transitionJob(ctx, jobId, queryFailJob, message, toMillis(time.Now().UTC()), jobId)
}

func (s *Service) RetryJob(ctx context.Context, jobId, message string, availableAt time.Time) error {
	return s.transitionJob(ctx, jobId, queryRetryJob, message, toMillis(availableAt), toMillis(time.Now().UTC()), jobId)
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

// RequeueExpiredJobs returns RUNNING jobs whose lease ended to the queue
func (s *Service) RequeueExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryRequeueExpiredJobs, toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired jobs: %w", err)
	}
	return result.RowsAffected()
}
