package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

// RegisterHandle stores or replaces the handle for (account, resource)
func (s *Service) RegisterHandle(ctx context.Context, handle models.JobHandle) error {
	_, err := s.db.ExecContext(ctx, queryUpsertHandle,
		handle.AccountId, handle.ResourceId, handle.JobId,
		toMillis(handle.CreatedAt), toMillis(handle.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to register job handle: %w", err)
	}
	return nil
}

// GetHandle returns the stored handle, expired or not. Callers decide what expiry means.
func (s *Service) GetHandle(ctx context.Context, accountId, resourceId string) (*models.JobHandle, error) {
	var handle models.JobHandle
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, queryGetHandle, accountId, resourceId).
		Scan(&handle.AccountId, &handle.ResourceId, &handle.JobId, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrHandleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job handle: %w", err)
	}
	handle.CreatedAt = fromMillis(createdAt)
	handle.ExpiresAt = fromMillis(expiresAt)
	return &handle, nil
}

func (s *Service) DeleteHandle(ctx context.Context, accountId, resourceId string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteHandle, accountId, resourceId); err != nil {
		return fmt.Errorf("failed to delete job handle: %w", err)
	}
	return nil
}

func (s *Service) DeleteExpiredHandles(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryDeleteExpiredHandles, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired job handles: %w", err)
	}
	return result.RowsAffected()
}
